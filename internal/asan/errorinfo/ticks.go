package errorinfo

import "time"

// TickSource returns a monotonic, non-decreasing tick count in
// milliseconds. Durations computed from it may be near zero on
// low-resolution sources; that is a normal, valid result.
type TickSource func() uint64

// PageBitsSource returns the OS page-state bitmap window surrounding an
// address, plus the byte offset locating the address inside the window.
// The bitmap is opaque to this package; it is copied into reports as-is.
type PageBitsSource func(addr uintptr) (window []byte, index uint64)

// pageBitsWindowBytes is the fixed report size of the page bitmap window.
const pageBitsWindowBytes = 3

var processStart = time.Now()

// DefaultTicks reads the process-monotonic clock in milliseconds. The
// value starts near zero at process start; free timestamps recorded as 0
// mean "never freed", so the first recorded tick is clamped to 1.
func DefaultTicks() uint64 {
	ms := uint64(time.Since(processStart) / time.Millisecond)
	if ms == 0 {
		return 1
	}
	return ms
}

// DefaultPageBits is the no-op page bitmap source: a zeroed window. Page
// protection state needs an OS-specific query that the embedding runtime
// supplies when it has one; reports remain well-formed without it.
func DefaultPageBits(_ uintptr) ([]byte, uint64) {
	return make([]byte, pageBitsWindowBytes), 0
}
