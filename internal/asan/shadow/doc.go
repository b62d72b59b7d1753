// Package shadow implements the shadow-memory semantic model: one marker
// byte describing the accessibility state of every 2^ratioLog bytes of a
// registered heap arena.
//
// The markers classify each granule as addressable, partially addressable
// (with a valid-byte count), block header/trailer, left/right redzone, or
// freed. Every heap byte maps to exactly one marker; addresses outside the
// registered arena map to a defined sentinel, never undefined behavior.
//
// The allocator layer pokes the markers on every block lifecycle
// transition (PoisonAllocatedBlock, MarkBlockAsFreed); the classification
// path only reads them. On top of the raw markers the package offers block
// location: finding the innermost block covering a faulting address and
// walking outward to enclosing blocks, both by scanning the marker stream
// with nesting-aware start/end matching. Header contents are consulted for
// geometry only after the magic check passes; a corrupt header degrades to
// marker-derived geometry instead of being trusted.
package shadow
