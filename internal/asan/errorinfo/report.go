package errorinfo

import (
	"github.com/kolkov/heapguard/internal/asan/block"
	"github.com/kolkov/heapguard/internal/asan/crashdata"
)

// Crash report assembly: pure projections from the report structs into
// crashdata value trees. Field order, names, and formatting are part of
// the report contract — downstream tooling and humans both parse these —
// so every Populate function emits fields in a fixed order and identical
// inputs always produce identical trees.
//
// Conditional presence is the "no data" signal: a block that was never
// freed simply has no free-side fields, rather than null-valued ones.

// PopulateBlockInfo converts a block snapshot into its report tree.
//
// Addresses render as fixed-width hex; user-size, thread ids and
// durations as decimals; states and heap types as their string tags. The
// free-thread-id, free-stack, and milliseconds-since-free fields appear
// only when the block has free-side data (quarantined or freed state).
func PopulateBlockInfo(bi *AsanBlockInfo) *crashdata.Value {
	d := crashdata.NewDictionary()
	d.Set("header", crashdata.NewAddress(bi.HeaderAddr))
	d.Set("user-size", crashdata.NewUnsigned(bi.UserSize))
	d.Set("state", crashdata.NewString(bi.State.String()))
	d.Set("heap-type", crashdata.NewString(bi.HeapType.String()))

	analysis := crashdata.NewDictionary()
	analysis.Set("block", crashdata.NewString(bi.Analysis.Block.String()))
	analysis.Set("header", crashdata.NewString(bi.Analysis.Header.String()))
	analysis.Set("body", crashdata.NewString(bi.Analysis.Body.String()))
	analysis.Set("trailer", crashdata.NewString(bi.Analysis.Trailer.String()))
	d.Set("analysis", analysis)

	d.Set("alloc-thread-id", crashdata.NewUnsigned(uint64(bi.AllocTID)))
	d.Set("alloc-stack", stackList(bi.AllocStack))

	if bi.State == block.StateQuarantined || bi.State == block.StateFreed {
		d.Set("free-thread-id", crashdata.NewUnsigned(uint64(bi.FreeTID)))
		d.Set("free-stack", stackList(bi.FreeStack))
		d.Set("milliseconds-since-free", crashdata.NewUnsigned(bi.MillisecondsSinceFree))
	}
	return d
}

// PopulateCorruptBlockRange converts one corrupt range into its report
// tree. The blocks list carries however many samples are actually present,
// which may be fewer than block-count when the range was truncated.
func PopulateCorruptBlockRange(r *AsanCorruptBlockRange) *crashdata.Value {
	d := crashdata.NewDictionary()
	d.Set("address", crashdata.NewAddress(r.Address))
	d.Set("length", crashdata.NewUnsigned(r.Length))
	d.Set("block-count", crashdata.NewUnsigned(r.BlockCount))

	blocks := crashdata.NewList()
	for i := range r.Blocks {
		blocks.Append(PopulateBlockInfo(&r.Blocks[i]))
	}
	d.Set("blocks", blocks)
	return d
}

// PopulateErrorInfo converts the top-level diagnostic record into its
// report tree. The corrupt-ranges list is present only when heap-wide
// corruption was found; the raw shadow and page-bitmap windows embed as
// binary blobs with their fault-locating indices beside them.
func PopulateErrorInfo(e *AsanErrorInfo) *crashdata.Value {
	d := crashdata.NewDictionary()
	d.Set("location", crashdata.NewAddress(uint64(e.Location)))
	d.Set("crash-stack-id", crashdata.NewUnsigned(e.CrashStackID))
	d.Set("block-info", PopulateBlockInfo(&e.BlockInfo))
	d.Set("error-type", crashdata.NewString(e.ErrorType.String()))
	d.Set("access-mode", crashdata.NewString(e.AccessMode.String()))
	d.Set("access-size", crashdata.NewUnsigned(e.AccessSize))
	d.Set("shadow-memory-index", crashdata.NewUnsigned(e.ShadowIndex))
	d.Set("shadow-memory", crashdata.NewBlob(e.ShadowMemory))
	d.Set("page-bits-index", crashdata.NewUnsigned(e.PageBitsIndex))
	d.Set("page-bits", crashdata.NewBlob(e.PageBits))

	corrupt := uint64(0)
	if e.HeapIsCorrupt {
		corrupt = 1
	}
	d.Set("heap-is-corrupt", crashdata.NewUnsigned(corrupt))
	d.Set("corrupt-range-count", crashdata.NewUnsigned(e.CorruptRangeCount))
	d.Set("corrupt-block-count", crashdata.NewUnsigned(e.CorruptBlockCount))

	if e.HeapIsCorrupt {
		ranges := crashdata.NewList()
		for i := range e.CorruptRanges {
			ranges.Append(PopulateCorruptBlockRange(&e.CorruptRanges[i]))
		}
		d.Set("corrupt-ranges", ranges)
	}
	return d
}

// stackList renders a frame-address slice as a list of fixed-width hex
// addresses. An empty stack renders as an empty list, not an absent field
// — absence is reserved for "this side of the lifecycle never happened".
func stackList(pcs []uintptr) *crashdata.Value {
	l := crashdata.NewList()
	for _, pc := range pcs {
		l.Append(crashdata.NewAddress(uint64(pc)))
	}
	return l
}
