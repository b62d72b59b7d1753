package block

import "math"

// Layout describes the geometry of a block occupying a contiguous region.
//
// All sizes are in bytes. HeaderSize includes the left redzone padding, and
// TrailerPaddingSize is the right redzone slack inserted so that BlockSize
// is a multiple of the shadow granularity. A Layout is a pure value: it is
// not bound to any memory until Initialize is called.
type Layout struct {
	// BlockSize is the total reserved size, always a multiple of the
	// chunk size passed to PlanLayout.
	BlockSize uint64

	// HeaderSize is the offset of the body: the raw header plus the left
	// redzone padding needed to honor the requested alignment.
	HeaderSize uint64

	// BodySize is the usable body size, exactly the requested size.
	BodySize uint64

	// TrailerPaddingSize is the right redzone between body end and trailer.
	TrailerPaddingSize uint64

	// TrailerSize is the raw trailer size (fixed, TrailerBytes).
	TrailerSize uint64
}

// BodyOffset returns the byte offset of the body within the block.
func (l Layout) BodyOffset() uint64 { return l.HeaderSize }

// TrailerOffset returns the byte offset of the trailer within the block.
func (l Layout) TrailerOffset() uint64 { return l.BlockSize - l.TrailerSize }

// isPowerOfTwo reports whether x is a non-zero power of two.
func isPowerOfTwo(x uint64) bool { return x != 0 && x&(x-1) == 0 }

// alignUp rounds x up to the next multiple of align (a power of two).
// The second return value is false when the rounding overflows.
func alignUp(x, align uint64) (uint64, bool) {
	if x > math.MaxUint64-(align-1) {
		return 0, false
	}
	return (x + align - 1) &^ (align - 1), true
}

// PlanLayout computes the geometry of a block for a requested allocation.
//
// chunkSize is the shadow granularity: the total block size is rounded up
// to a multiple of it so that the block aligns to shadow-memory boundaries.
// alignment is the required body alignment. Both must be powers of two and
// alignment must not exceed chunkSize. size may be zero (a valid zero-size
// allocation still reserves header, redzones and trailer). minLeftRedzone
// and minRightRedzone are lower bounds on the guard zones flanking the
// body.
//
// Returns the layout and true on success, or a zero Layout and false when
// the inputs are malformed or the resulting size would overflow the
// address space. The geometry is deterministic: identical inputs always
// produce identical layouts.
func PlanLayout(chunkSize, alignment, size, minLeftRedzone, minRightRedzone uint64) (Layout, bool) {
	if !isPowerOfTwo(chunkSize) || !isPowerOfTwo(alignment) || alignment > chunkSize {
		return Layout{}, false
	}

	// Header plus left redzone, padded so the body lands on the requested
	// alignment.
	headerSize, ok := alignUp(HeaderBytes+minLeftRedzone, alignment)
	if !ok {
		return Layout{}, false
	}

	// Unpadded total: header | body | minimum right redzone | trailer.
	total := headerSize
	for _, part := range [...]uint64{size, minRightRedzone, TrailerBytes} {
		if total > math.MaxUint64-part {
			return Layout{}, false
		}
		total += part
	}

	// Round the whole block up to the shadow granularity. The slack lands
	// in the right redzone.
	total, ok = alignUp(total, chunkSize)
	if !ok {
		return Layout{}, false
	}

	return Layout{
		BlockSize:          total,
		HeaderSize:         headerSize,
		BodySize:           size,
		TrailerPaddingSize: total - headerSize - size - TrailerBytes,
		TrailerSize:        TrailerBytes,
	}, true
}
