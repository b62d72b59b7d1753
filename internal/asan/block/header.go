package block

import "encoding/binary"

// HeaderMagic is the validity constant written at the start of every block
// header. A header whose magic field differs from this value must not be
// trusted: all geometry derived from it is suspect and the block is
// reported as corrupt.
const HeaderMagic uint32 = 0x03CA80E7

// Raw header and trailer sizes. These are the on-memory record sizes, not
// the padded layout sizes (see Layout.HeaderSize).
const (
	// HeaderBytes is the size of the raw block header record.
	HeaderBytes = 40

	// TrailerBytes is the size of the raw block trailer record.
	TrailerBytes = 24
)

// Header field offsets (little-endian fixed layout).
const (
	offMagic      = 0  // uint32
	offState      = 4  // uint32
	offBodySize   = 8  // uint64
	offAllocStack = 16 // uint64, stack cache id
	offFreeStack  = 24 // uint64, stack cache id, 0 until freed
	offHeapType   = 32 // uint32
	offFlags      = 36 // uint32, bit 0 = nested block
)

// Trailer field offsets.
const (
	offAllocTicks = 0  // uint64
	offFreeTicks  = 8  // uint64, 0 until freed
	offAllocTID   = 16 // uint32
	offFreeTID    = 20 // uint32
)

const flagNested = 1 << 0

// State is a block's lifecycle state as recorded in its header.
type State uint32

const (
	// StateAllocated marks a live block owned by user code.
	StateAllocated State = iota

	// StateQuarantined marks a freed block whose memory is retained to
	// enable use-after-free detection.
	StateQuarantined

	// StateFreed marks a block whose memory is about to be reclaimed.
	StateFreed
)

// String returns the report tag for the state. The mapping is total:
// a value read from a corrupt header maps to "(unknown)".
func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateQuarantined:
		return "quarantined"
	case StateFreed:
		return "freed"
	default:
		return "(unknown)"
	}
}

// HeapType tags which allocator produced a block.
type HeapType uint32

const (
	// HeapTypeUnknown is the tag for untyped or unrecognized blocks.
	HeapTypeUnknown HeapType = iota
	// HeapTypeWin tags blocks from the OS process heap.
	HeapTypeWin
	// HeapTypeCtMalloc tags blocks from the ctmalloc heap.
	HeapTypeCtMalloc
	// HeapTypeLargeBlock tags blocks from the large-block heap.
	HeapTypeLargeBlock
	// HeapTypeZebraBlock tags blocks from the zebra-block heap.
	HeapTypeZebraBlock
)

// String returns the report tag for the heap type. Unrecognized values map
// to "unknown" rather than failing: heap types come from raw memory.
func (t HeapType) String() string {
	switch t {
	case HeapTypeUnknown:
		return "unknown"
	case HeapTypeWin:
		return "WinHeap"
	case HeapTypeCtMalloc:
		return "CtMallocHeap"
	case HeapTypeLargeBlock:
		return "LargeBlockHeap"
	case HeapTypeZebraBlock:
		return "ZebraBlockHeap"
	default:
		return "unknown"
	}
}

// Header is a bounds-checked view over the raw header record at the start
// of a block's memory region. The view is created by Info.Header, which
// guarantees the backing slice is exactly HeaderBytes long; accessors can
// therefore read fixed offsets without rechecking bounds on every call.
//
// Callers must check IsValid before trusting any other field.
type Header struct {
	buf []byte
}

// IsValid reports whether the header carries the expected magic constant.
func (h Header) IsValid() bool { return h.Magic() == HeaderMagic }

// Magic returns the raw magic field.
func (h Header) Magic() uint32 { return binary.LittleEndian.Uint32(h.buf[offMagic:]) }

// SetMagic writes the magic field. Tests use this with a complemented
// value to simulate header corruption.
func (h Header) SetMagic(m uint32) { binary.LittleEndian.PutUint32(h.buf[offMagic:], m) }

// State returns the lifecycle state field.
func (h Header) State() State { return State(binary.LittleEndian.Uint32(h.buf[offState:])) }

// SetState writes the lifecycle state field.
func (h Header) SetState(s State) { binary.LittleEndian.PutUint32(h.buf[offState:], uint32(s)) }

// BodySize returns the user size recorded at allocation time.
func (h Header) BodySize() uint64 { return binary.LittleEndian.Uint64(h.buf[offBodySize:]) }

// SetBodySize writes the user size field.
func (h Header) SetBodySize(n uint64) { binary.LittleEndian.PutUint64(h.buf[offBodySize:], n) }

// AllocStack returns the stack cache id of the allocation stack, 0 if none.
func (h Header) AllocStack() uint64 { return binary.LittleEndian.Uint64(h.buf[offAllocStack:]) }

// SetAllocStack writes the allocation stack id.
func (h Header) SetAllocStack(id uint64) { binary.LittleEndian.PutUint64(h.buf[offAllocStack:], id) }

// FreeStack returns the stack cache id of the free stack, 0 until freed.
func (h Header) FreeStack() uint64 { return binary.LittleEndian.Uint64(h.buf[offFreeStack:]) }

// SetFreeStack writes the free stack id.
func (h Header) SetFreeStack(id uint64) { binary.LittleEndian.PutUint64(h.buf[offFreeStack:], id) }

// HeapType returns the allocator tag.
func (h Header) HeapType() HeapType {
	return HeapType(binary.LittleEndian.Uint32(h.buf[offHeapType:]))
}

// SetHeapType writes the allocator tag.
func (h Header) SetHeapType(t HeapType) {
	binary.LittleEndian.PutUint32(h.buf[offHeapType:], uint32(t))
}

// IsNested reports whether the block was allocated inside another block's
// body. Nested blocks matter for use-after-free attribution: an access in
// a nested body may need to be attributed to an enclosing block's free.
func (h Header) IsNested() bool {
	return binary.LittleEndian.Uint32(h.buf[offFlags:])&flagNested != 0
}

// SetNested writes the nested flag.
func (h Header) SetNested(nested bool) {
	f := binary.LittleEndian.Uint32(h.buf[offFlags:])
	if nested {
		f |= flagNested
	} else {
		f &^= flagNested
	}
	binary.LittleEndian.PutUint32(h.buf[offFlags:], f)
}

// Trailer is a bounds-checked view over the raw trailer record at the end
// of a block's memory region. Created by Info.Trailer with a backing slice
// of exactly TrailerBytes.
type Trailer struct {
	buf []byte
}

// AllocTicks returns the monotonic tick count recorded at allocation.
func (t Trailer) AllocTicks() uint64 { return binary.LittleEndian.Uint64(t.buf[offAllocTicks:]) }

// SetAllocTicks writes the allocation tick count.
func (t Trailer) SetAllocTicks(v uint64) { binary.LittleEndian.PutUint64(t.buf[offAllocTicks:], v) }

// FreeTicks returns the monotonic tick count recorded at free, 0 until
// freed. Elapsed-time-since-free accounting subtracts this from the
// current tick count, saturating at zero.
func (t Trailer) FreeTicks() uint64 { return binary.LittleEndian.Uint64(t.buf[offFreeTicks:]) }

// SetFreeTicks writes the free tick count.
func (t Trailer) SetFreeTicks(v uint64) { binary.LittleEndian.PutUint64(t.buf[offFreeTicks:], v) }

// AllocTID returns the id of the allocating thread.
func (t Trailer) AllocTID() uint32 { return binary.LittleEndian.Uint32(t.buf[offAllocTID:]) }

// SetAllocTID writes the allocating thread id.
func (t Trailer) SetAllocTID(v uint32) { binary.LittleEndian.PutUint32(t.buf[offAllocTID:], v) }

// FreeTID returns the id of the freeing thread, 0 until freed.
func (t Trailer) FreeTID() uint32 { return binary.LittleEndian.Uint32(t.buf[offFreeTID:]) }

// SetFreeTID writes the freeing thread id.
func (t Trailer) SetFreeTID(v uint32) { binary.LittleEndian.PutUint32(t.buf[offFreeTID:], v) }
