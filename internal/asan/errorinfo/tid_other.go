//go:build !linux

package errorinfo

import "os"

// CurrentThreadID falls back to the process id on platforms without a
// cheap thread-id syscall binding. Reports still distinguish alloc and
// free sites through their stacks.
func CurrentThreadID() uint32 {
	return uint32(os.Getpid())
}
