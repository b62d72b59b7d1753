//go:build linux

package errorinfo

import "golang.org/x/sys/unix"

// CurrentThreadID returns the OS thread id of the calling thread. Used by
// the allocator layer to stamp block trailers; goroutines migrate between
// threads, so this is only meaningful on paths pinned to a thread (the
// fault handler) or as a best-effort attribution.
func CurrentThreadID() uint32 {
	return uint32(unix.Gettid())
}
