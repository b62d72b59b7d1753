// Package block implements the heap block data model: layout planning and
// bounds-checked views over the raw memory of an instrumented allocation.
//
// A block is one allocation's full reserved region:
//
//	+--------+--------------+------~~~------+-----------------+---------+
//	| header | left redzone |     body      | right redzone   | trailer |
//	+--------+--------------+------~~~------+-----------------+---------+
//	^ magic, state, stacks  ^ user data     ^ guard bytes     ^ tids, ticks
//
// Layout geometry is computed once by PlanLayout and then bound to a
// concrete region with Initialize. All header and trailer fields are read
// and written through validated accessors (fixed offsets, little-endian,
// bounds-checked at construction): nothing in this package reinterprets
// arbitrary bytes as structured data, and nothing trusts a header before
// its magic constant has been checked.
//
// The package has no side effects beyond the optional zero-initialization
// performed by Initialize. It never allocates or frees heap memory itself;
// it only describes memory owned by the caller.
package block
