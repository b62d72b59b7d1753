package errorinfo

import (
	"github.com/kolkov/heapguard/internal/asan/block"
)

// ErrorKind identifies the kind of memory-safety violation detected.
type ErrorKind int

const (
	// UnknownBadAccess is an access inside a live, properly-bounded block
	// that position alone cannot explain (a wild write hitting an
	// unrelated victim block, or internal corruption). Zero value on
	// purpose: an unpopulated report reads as unknown, never as a
	// specific accusation.
	UnknownBadAccess ErrorKind = iota

	// WildAccess is a fault whose address no tracked block can explain.
	WildAccess

	// InvalidAddress is an operation on an address that was never
	// returned by a tracked allocator.
	InvalidAddress

	// DoubleFree is a free of an already-freed block.
	DoubleFree

	// UseAfterFree is an access into the body of a quarantined or freed
	// block.
	UseAfterFree

	// HeapBufferOverflow is an access at or past the end of a block body.
	HeapBufferOverflow

	// HeapBufferUnderflow is an access before the start of a block body.
	HeapBufferUnderflow

	// CorruptBlock is a block whose header failed validation.
	CorruptBlock

	// CorruptHeap means corruption was found beyond a single block.
	CorruptHeap
)

// String returns the report tag of the error kind. The mapping is total;
// out-of-range values fall back to the unknown tag rather than failing,
// since kinds can be read back from snapshots.
func (k ErrorKind) String() string {
	switch k {
	case UnknownBadAccess:
		return "heap-unknown-error"
	case WildAccess:
		return "wild-access"
	case InvalidAddress:
		return "invalid-address"
	case DoubleFree:
		return "attempting double-free"
	case UseAfterFree:
		return "heap-use-after-free"
	case HeapBufferOverflow:
		return "heap-buffer-overflow"
	case HeapBufferUnderflow:
		return "heap-buffer-underflow"
	case CorruptBlock:
		return "corrupt-block"
	case CorruptHeap:
		return "corrupt-heap"
	default:
		return "heap-unknown-error"
	}
}

// AccessMode is the direction of the faulting access.
type AccessMode int

const (
	// AccessRead is a faulting load.
	AccessRead AccessMode = iota
	// AccessWrite is a faulting store.
	AccessWrite
	// AccessUnknown is used when the instrumentation could not tell.
	AccessUnknown
)

// String returns the report tag of the access mode.
func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "unknown"
	}
}

// DataState is the corruption verdict for one region of a block.
type DataState int

const (
	// DataStateUnknown means the region could not be definitively
	// checked at this layer. Zero value: absence of evidence is not
	// evidence of cleanliness.
	DataStateUnknown DataState = iota
	// DataIsClean means the region passed its checks.
	DataIsClean
	// DataIsCorrupt means the region failed validation.
	DataIsCorrupt
)

// String returns the report tag of the data state.
func (d DataState) String() string {
	switch d {
	case DataIsClean:
		return "clean"
	case DataIsCorrupt:
		return "corrupt"
	default:
		return "(unknown)"
	}
}

// BlockAnalysis is the per-region corruption verdict for a block. The
// block verdict summarizes the others: an invalid header magic makes both
// Header and Block corrupt. Body stays unknown at this layer — body
// checksums belong to a deeper collaborator, and claiming "clean" without
// checking would be a lie in a security diagnostic.
type BlockAnalysis struct {
	Block   DataState
	Header  DataState
	Body    DataState
	Trailer DataState
}

// AsanBlockInfo is the report-facing snapshot of one block. It is a value
// copied out of live block memory at detection time and retains no
// pointers into the heap; the stack slices are resolved copies owned by
// the snapshot.
type AsanBlockInfo struct {
	// HeaderAddr is the address of the block header.
	HeaderAddr uint64

	// UserSize is the body size as planned by the layout (geometry
	// derived, valid even when the header is corrupt).
	UserSize uint64

	// State is the lifecycle state read from the header.
	State block.State

	// AllocTID and FreeTID identify the allocating and freeing threads.
	// FreeTID is 0 for a never-freed block.
	AllocTID uint32
	FreeTID  uint32

	// AllocStack and FreeStack are the resolved frame addresses, at most
	// stackcache.MaxFrames each. Empty when the cache has no record.
	AllocStack []uintptr
	FreeStack  []uintptr

	// HeapType tags the allocator that produced the block, copied
	// verbatim from the header.
	HeapType block.HeapType

	// MillisecondsSinceFree is the elapsed time since the block was
	// freed, 0 if it never was. Low-resolution tick sources make
	// near-zero values normal.
	MillisecondsSinceFree uint64

	// Analysis is the per-region corruption verdict.
	Analysis BlockAnalysis
}

// AsanCorruptBlockRange describes one contiguous corrupted heap region.
// Blocks holds a capped sample of the blocks inside it; BlockCount is the
// true total, which may exceed len(Blocks) when the report was truncated
// for size.
type AsanCorruptBlockRange struct {
	Address    uint64
	Length     uint64
	BlockCount uint64
	Blocks     []AsanBlockInfo
}

// AsanErrorInfo is the top-level diagnostic record for one detected bad
// access.
type AsanErrorInfo struct {
	// Location is the faulting address.
	Location uintptr

	// CrashStackID identifies the captured crash stack in the cache.
	CrashStackID uint64

	// BlockInfo describes the block implicated in the access.
	BlockInfo AsanBlockInfo

	// ErrorType is the resolved kind of violation.
	ErrorType ErrorKind

	// AccessMode and AccessSize describe the attempted access.
	AccessMode AccessMode
	AccessSize uint64

	// ShadowMemory is the raw shadow window around the fault and
	// ShadowIndex the byte offset of the fault's granule inside it.
	ShadowMemory []byte
	ShadowIndex  uint64

	// PageBits is the OS page-state bitmap window around the fault and
	// PageBitsIndex the fault's offset inside it.
	PageBits      []byte
	PageBitsIndex uint64

	// HeapIsCorrupt reports whether heap-wide corruption was found.
	HeapIsCorrupt bool

	// CorruptRangeCount and CorruptBlockCount are the true totals
	// detected; CorruptRanges holds the capped sample actually reported.
	CorruptRangeCount uint64
	CorruptBlockCount uint64
	CorruptRanges     []AsanCorruptBlockRange
}
