package shadow

import (
	"fmt"
	"unsafe"
)

// Marker is the per-granule shadow state. Values below the shadow ratio
// are the partially-addressable byte counts (0 = fully addressable,
// 1..ratio-1 = that many leading bytes of the granule are valid); the high
// values are the symbolic block markers.
type Marker byte

const (
	// MarkerAddressable marks a fully accessible granule.
	MarkerAddressable Marker = 0x00

	// MarkerBlockStart marks the granule holding the start of a block
	// header. MarkerNestedBlockStart is its variant for blocks allocated
	// inside another block's body.
	MarkerBlockStart       Marker = 0xE0
	MarkerNestedBlockStart Marker = 0xE1

	// MarkerBlockEnd marks the granule holding the end of a block
	// trailer. MarkerNestedBlockEnd is the nested variant.
	MarkerBlockEnd       Marker = 0xF4
	MarkerNestedBlockEnd Marker = 0xF5

	// MarkerLeftRedzone and MarkerRightRedzone mark the guard granules
	// flanking a block body.
	MarkerLeftRedzone  Marker = 0xFA
	MarkerRightRedzone Marker = 0xFB

	// MarkerFreed marks body granules of a quarantined or freed block.
	MarkerFreed Marker = 0xFD

	// MarkerInvalid is the sentinel for addresses outside any registered
	// arena ("unaddressed"). Lookups never fail, they return this.
	MarkerInvalid Marker = 0xFF
)

// IsBlockStart reports whether the marker opens a block extent.
func (m Marker) IsBlockStart() bool { return m == MarkerBlockStart || m == MarkerNestedBlockStart }

// IsBlockEnd reports whether the marker closes a block extent.
func (m Marker) IsBlockEnd() bool { return m == MarkerBlockEnd || m == MarkerNestedBlockEnd }

// IsRedzone reports whether the marker is a guard granule.
func (m Marker) IsRedzone() bool { return m == MarkerLeftRedzone || m == MarkerRightRedzone }

// ShadowMemory maps every granule of a registered arena to a Marker.
//
// The arena is a caller-owned contiguous byte region; the shadow covers it
// with one marker per 2^ratioLog bytes. All poke operations validate
// granule alignment and arena bounds, and all read operations degrade to
// MarkerInvalid outside the arena: a fault handler probing arbitrary
// addresses must never trip this package.
//
// ShadowMemory has no locking of its own. The allocator layer serializes
// pokes; the classification path only reads a snapshot-consistent view.
type ShadowMemory struct {
	arena    []byte
	base     uintptr
	ratioLog uint
	marks    []byte
}

// WindowBytes is the fixed size of the shadow window copied into crash
// reports. Bounded by design: crash reports must have predictable size.
const WindowBytes = 64

// New creates a shadow over the given arena at the given granularity.
// ratioLog must be in [1, 7] (granules of 2 to 128 bytes) and the arena
// length must be a non-zero multiple of the granule size.
func New(arena []byte, ratioLog uint) (*ShadowMemory, error) {
	if ratioLog < 1 || ratioLog > 7 {
		return nil, fmt.Errorf("shadow: ratioLog %d out of range [1,7]", ratioLog)
	}
	ratio := 1 << ratioLog
	if len(arena) == 0 || len(arena)%ratio != 0 {
		return nil, fmt.Errorf("shadow: arena length %d not a multiple of granule %d",
			len(arena), ratio)
	}
	return &ShadowMemory{
		arena:    arena,
		base:     uintptr(unsafe.Pointer(&arena[0])),
		ratioLog: ratioLog,
		marks:    make([]byte, len(arena)>>ratioLog),
	}, nil
}

// Ratio returns the granule size in bytes.
func (s *ShadowMemory) Ratio() uint64 { return 1 << s.ratioLog }

// RatioLog returns log2 of the granule size.
func (s *ShadowMemory) RatioLog() uint { return s.ratioLog }

// index maps an address to its granule index, false when out of arena.
func (s *ShadowMemory) index(addr uintptr) (int, bool) {
	if addr < s.base {
		return 0, false
	}
	off := addr - s.base
	if off >= uintptr(len(s.arena)) {
		return 0, false
	}
	return int(off >> s.ratioLog), true
}

// Marker returns the shadow state of the granule covering addr, or
// MarkerInvalid when addr is outside the arena.
func (s *ShadowMemory) Marker(addr uintptr) Marker {
	idx, ok := s.index(addr)
	if !ok {
		return MarkerInvalid
	}
	return Marker(s.marks[idx])
}

// IsAccessible reports whether the single byte at addr may be read or
// written: its granule is addressable, or partially addressable with the
// byte inside the valid prefix.
func (s *ShadowMemory) IsAccessible(addr uintptr) bool {
	idx, ok := s.index(addr)
	if !ok {
		return false
	}
	m := s.marks[idx]
	if m == byte(MarkerAddressable) {
		return true
	}
	if uint64(m) < s.Ratio() { // partial granule
		return uint64(addr-s.base)&(s.Ratio()-1) < uint64(m)
	}
	return false
}

// granuleRange validates that [addr, addr+size) is granule-aligned and
// inside the arena, returning the covered granule index range.
func (s *ShadowMemory) granuleRange(addr uintptr, size uint64) (int, int, error) {
	ratio := s.Ratio()
	if uint64(addr)&(ratio-1) != 0 || size&(ratio-1) != 0 {
		return 0, 0, fmt.Errorf("shadow: range %#x+%d not granule-aligned", addr, size)
	}
	start, ok := s.index(addr)
	if !ok {
		return 0, 0, fmt.Errorf("shadow: address %#x outside arena", addr)
	}
	end := start + int(size>>s.ratioLog)
	if end > len(s.marks) {
		return 0, 0, fmt.Errorf("shadow: range %#x+%d overruns arena", addr, size)
	}
	return start, end, nil
}

// Poison sets every granule of the aligned range to the given marker.
func (s *ShadowMemory) Poison(addr uintptr, size uint64, m Marker) error {
	start, end, err := s.granuleRange(addr, size)
	if err != nil {
		return err
	}
	for i := start; i < end; i++ {
		s.marks[i] = byte(m)
	}
	return nil
}

// Unpoison marks [addr, addr+size) addressable. addr must be
// granule-aligned; a trailing partial granule gets its byte count.
func (s *ShadowMemory) Unpoison(addr uintptr, size uint64) error {
	ratio := s.Ratio()
	tail := size & (ratio - 1)
	start, end, err := s.granuleRange(addr, size-tail)
	if err != nil {
		return err
	}
	for i := start; i < end; i++ {
		s.marks[i] = byte(MarkerAddressable)
	}
	if tail != 0 {
		if end >= len(s.marks) {
			return fmt.Errorf("shadow: range %#x+%d overruns arena", addr, size)
		}
		s.marks[end] = byte(tail)
	}
	return nil
}
