package block

import (
	"fmt"
	"unsafe"
)

// Info is a structured view binding a memory region to its computed
// geometry. It exposes the block's header and trailer accessors, body
// boundaries, and raw addresses, and supports containment tests.
//
// Info is a snapshot-friendly value: copying it copies the view, not the
// memory. The backing region stays owned by the caller.
type Info struct {
	region []byte
	layout Layout
}

// Initialize binds a layout to a concrete memory region.
//
// The region must be at least layout.BlockSize bytes; only the first
// BlockSize bytes belong to the block. When initializeContents is true all
// non-header bytes of the block are zeroed (the header is left alone so a
// caller can rebind an existing block without wiping it).
//
// Initialize with initializeContents=false is a pure binding operation and
// performs no writes, which is how views over already-live blocks are
// constructed during classification.
func Initialize(layout Layout, region []byte, initializeContents bool) (Info, error) {
	if layout.BlockSize == 0 {
		return Info{}, fmt.Errorf("block: empty layout")
	}
	if layout.HeaderSize < HeaderBytes ||
		layout.HeaderSize+layout.BodySize+layout.TrailerPaddingSize+layout.TrailerSize != layout.BlockSize {
		return Info{}, fmt.Errorf("block: inconsistent layout geometry %+v", layout)
	}
	if uint64(len(region)) < layout.BlockSize {
		return Info{}, fmt.Errorf("block: region of %d bytes cannot hold block of %d bytes",
			len(region), layout.BlockSize)
	}

	info := Info{region: region[:layout.BlockSize], layout: layout}
	if initializeContents {
		for i := range info.region[HeaderBytes:] {
			info.region[HeaderBytes+i] = 0
		}
	}
	return info, nil
}

// Layout returns the geometry the view was bound with.
func (in Info) Layout() Layout { return in.layout }

// Header returns the bounds-checked header view.
func (in Info) Header() Header { return Header{buf: in.region[:HeaderBytes]} }

// Trailer returns the bounds-checked trailer view.
func (in Info) Trailer() Trailer {
	off := in.layout.TrailerOffset()
	return Trailer{buf: in.region[off : off+TrailerBytes]}
}

// Body returns the body bytes.
func (in Info) Body() []byte {
	off := in.layout.BodyOffset()
	return in.region[off : off+in.layout.BodySize]
}

// BaseAddr returns the address of the first byte of the block (the header).
func (in Info) BaseAddr() uintptr { return uintptr(unsafe.Pointer(&in.region[0])) }

// BodyAddr returns the address of the first body byte. For a zero-size
// body this is still the body offset, one past the header region.
func (in Info) BodyAddr() uintptr { return in.BaseAddr() + uintptr(in.layout.BodyOffset()) }

// BodySize returns the body size from the layout. This is the
// geometry-derived size and is safe to use even when the header is
// corrupt.
func (in Info) BodySize() uint64 { return in.layout.BodySize }

// TrailerAddr returns the address of the trailer record.
func (in Info) TrailerAddr() uintptr { return in.BaseAddr() + uintptr(in.layout.TrailerOffset()) }

// EndAddr returns the address one past the block's reserved extent.
func (in Info) EndAddr() uintptr { return in.BaseAddr() + uintptr(in.layout.BlockSize) }

// BlockSize returns the total reserved size.
func (in Info) BlockSize() uint64 { return in.layout.BlockSize }

// ContainsAddr reports whether addr falls inside the block's extent.
func (in Info) ContainsAddr(addr uintptr) bool {
	return addr >= in.BaseAddr() && addr < in.EndAddr()
}

// ContainsBodyAddr reports whether addr falls inside the body bounds.
func (in Info) ContainsBodyAddr(addr uintptr) bool {
	return addr >= in.BodyAddr() && addr < in.BodyAddr()+uintptr(in.layout.BodySize)
}

// Encloses reports whether the other block lies entirely inside this
// block's body. Used to validate nested-block relationships discovered by
// shadow scans before trusting them.
func (in Info) Encloses(other Info) bool {
	return other.BaseAddr() >= in.BodyAddr() &&
		other.EndAddr() <= in.BodyAddr()+uintptr(in.layout.BodySize)
}
