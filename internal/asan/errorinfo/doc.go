// Package errorinfo implements the error-classification engine and crash
// report assembly: given a faulting address and the shadow view of an
// instrumented heap, it decides what kind of memory-safety violation
// occurred and builds the structured report describing it.
//
// The decision procedure (Classifier.GetBadAccessInformation):
//
//  1. Locate the innermost block covering the faulting address through
//     the shadow. No block means the access is unclassifiable (wild) and
//     classification reports failure upward, not a crash.
//  2. Classify by position: before the body is an underflow, at or past
//     the body end is an overflow, inside the body of a quarantined or
//     freed block is a use-after-free, inside a live body is unknown —
//     unless the granule's shadow marker says the memory was freed, which
//     overrides the block state (it can lag for nested blocks).
//  3. For a use-after-free, resolve nesting: a quarantined block's body
//     may itself contain nested allocations, and the free responsible for
//     the access belongs to the innermost block that actually carries a
//     free record — an ancestor's free record is only used when the
//     innermost block has none.
//  4. Snapshot the implicated block into an AsanBlockInfo (stacks resolved
//     through the stack cache, corruption analysis from the magic check,
//     elapsed-since-free from the monotonic tick source) along with the
//     shadow window and page bitmap surrounding the fault.
//
// All of it runs synchronously on the faulting thread: bounded memory
// reads, bounded stack-cache lookups, no locks, no I/O, no allocation
// beyond the fixed-size report buffers. Raw memory is never trusted
// before the header magic check.
package errorinfo
