// Package asan implements a pure-Go heap corruption diagnosis
// engine in the style of address sanitizers.
//
// # Overview
//
// asan tracks heap allocations carved out of a caller-owned arena.
// Every block carries a checked header and trailer around its body, and
// a shadow memory mirrors the arena at a coarse granularity: one marker
// byte describes the role of every 2^N-byte granule (redzone, block
// start, addressable body, freed memory).
//
// When a bad access happens, the engine answers the questions a crash
// report needs answered:
//
//   - What kind of error is this? Use-after-free, buffer overflow,
//     buffer underflow, double free, wild access, or corruption.
//   - Which allocation is involved? The nearest block around the
//     faulting address, found by walking the shadow markers.
//   - Who allocated and freed it? Allocation and free call stacks,
//     thread ids, and the time since the block was freed.
//   - Is the rest of the heap sane? A full walk flags blocks whose
//     headers no longer carry the magic constant.
//
// The answers are assembled into a generic value tree (dictionaries,
// lists, addresses, blobs) and rendered as deterministic indented text
// for crash processors.
//
// # Basic Usage
//
// Create a runtime, allocate through it, and ask it to diagnose a
// suspicious address:
//
//	rt, err := asan.NewRuntime()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	addr, _ := rt.Allocate(100)
//
//	// An access one past the end of the body:
//	report, ok := rt.Diagnose(addr + 100)
//	if ok {
//		fmt.Println(report.ErrorType) // "heap-buffer-overflow"
//		fmt.Println(report.Text)      // full indented report
//	}
//
// # Use-After-Free
//
// Freed blocks are quarantined, not recycled, so accesses to them keep
// diagnosing correctly:
//
//	addr, _ := rt.Allocate(64)
//	rt.Free(addr)
//
//	report, _ := rt.Diagnose(addr)
//	// report.ErrorType == "heap-use-after-free"
//	// report.Info.BlockInfo.FreeStack identifies the freeing call site.
//
// # Nested Blocks
//
// Sub-allocators that carve blocks inside a larger allocation's body can
// register those inner blocks with AllocateNested. Diagnosis then
// attributes a use-after-free to the innermost block that was actually
// freed, not to the enclosing allocation.
//
// # Architecture
//
//	asan/                      Public API (this package)
//	internal/asan/shadow       Shadow memory and block marker geometry
//	internal/asan/block        Block layout planning and header codec
//	internal/asan/stackcache   Deduplicated call stack storage
//	internal/asan/errorinfo    Classifier, heap checker, report builder
//	internal/asan/crashdata    Generic value tree and text rendering
//	internal/asan/heap         Instrumented arena heap manager
//	cmd/heapguard              Demo and inspection CLI
//
// # Limitations
//
//   - Only memory allocated through a Runtime is tracked: diagnosis of
//     addresses outside the arena reports nothing.
//   - The quarantine is unbounded; long-running processes should size
//     the arena for their full allocation history or recreate runtimes.
//   - Shadow granularity rounds body sizes up to the granule; accesses
//     inside the rounding slack are not flagged.
package asan
