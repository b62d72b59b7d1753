// Package stackcache implements capture, storage and deduplication of call
// stacks referenced from block headers and crash reports.
//
// Block headers and report structures never hold pointers into another
// subsystem's storage: they hold an opaque 64-bit id resolved through a
// Cache. Identical stacks share one entry (FNV-1a hash of the program
// counters), so a hot allocation site costs one stored stack regardless of
// how many blocks reference it.
//
// Design:
//   - Fixed maximum frame count; longer stacks are silently truncated.
//     Bounded stacks keep crash reports at a predictable size.
//   - Lookup of an unknown id yields an empty stack, never an error: the
//     report degrades gracefully instead of aborting.
//   - sync.Map storage: lock-free reads on the classification path.
package stackcache

import (
	"hash/fnv"
	"runtime"
	"sync"
)

// MaxFrames is the maximum number of stack frames captured per stack.
// Frames beyond the cap are dropped without error.
const MaxFrames = 32

// ID is an opaque, stable identifier for a cached stack. The zero ID
// means "no stack".
type ID uint64

// Cache is a deduplicating store of captured stacks. The zero value is
// not usable; create instances with New. A Cache is an explicit
// dependency passed to whoever needs it — there is no process-wide
// default instance.
//
// Thread safety: all methods are safe for concurrent use, and Resolve
// performs no writes, so it is safe on the fault-handling path.
type Cache struct {
	stacks sync.Map // ID → []uintptr (len <= MaxFrames, never mutated after store)
}

// New creates an empty stack cache.
func New() *Cache {
	return &Cache{}
}

// Capture records the current call stack and returns its id. skip has the
// runtime.Callers meaning: 0 identifies Capture itself.
func (c *Cache) Capture(skip int) ID {
	var pcs [MaxFrames]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return 0
	}
	return c.Save(pcs[:n])
}

// Save stores the given program counters and returns their id, truncating
// to MaxFrames. Saving an already-known stack returns the existing id
// without allocating. An empty stack maps to the zero id.
func (c *Cache) Save(pcs []uintptr) ID {
	if len(pcs) == 0 {
		return 0
	}
	if len(pcs) > MaxFrames {
		pcs = pcs[:MaxFrames]
	}

	id := hashStack(pcs)
	if _, ok := c.stacks.Load(id); ok {
		return id
	}
	stored := make([]uintptr, len(pcs))
	copy(stored, pcs)
	c.stacks.LoadOrStore(id, stored)
	return id
}

// Resolve returns the frames for an id. The result is a fresh copy the
// caller may keep; an unknown or zero id yields nil.
func (c *Cache) Resolve(id ID) []uintptr {
	if id == 0 {
		return nil
	}
	val, ok := c.stacks.Load(id)
	if !ok {
		return nil
	}
	stored := val.([]uintptr)
	out := make([]uintptr, len(stored))
	copy(out, stored)
	return out
}

// Size returns the number of unique stacks stored. O(n); not for the
// fault path.
func (c *Cache) Size() int {
	n := 0
	c.stacks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// hashStack computes the FNV-1a hash of the program counters. Fast, good
// distribution for stack traces, stdlib implementation.
func hashStack(pcs []uintptr) ID {
	h := fnv.New64a()
	var buf [8]byte
	for _, pc := range pcs {
		v := uint64(pc)
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf[:]) // hash.Hash Write never fails
	}
	return ID(h.Sum64())
}
