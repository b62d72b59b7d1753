// Package asan provides the public API for the heap diagnosis engine.
//
// See doc.go for detailed documentation and examples.
package asan

import (
	"fmt"

	"github.com/kolkov/heapguard/internal/asan/crashdata"
	"github.com/kolkov/heapguard/internal/asan/errorinfo"
	"github.com/kolkov/heapguard/internal/asan/heap"
	"github.com/kolkov/heapguard/internal/asan/stackcache"
)

// Report is a fully classified bad-access diagnosis, ready to attach to a
// crash record.
type Report struct {
	// ErrorType names the diagnosis, e.g. "heap-buffer-overflow" or
	// "heap-use-after-free".
	ErrorType string

	// Location is the faulting address.
	Location uintptr

	// Info holds every field the classifier recovered: the nearest
	// block's alloc/free stacks and thread ids, the shadow snapshot
	// around the fault, and the heap consistency verdict.
	Info errorinfo.AsanErrorInfo

	// Text is the report rendered as an indented value tree, the form
	// that crash processors and humans both read.
	Text string
}

// Runtime ties together the instrumented heap, the stack cache, and the
// error classifier. One Runtime owns one arena.
//
// Thread safety: Allocate, AllocateNested, Free, and CorruptBlockHeader
// may be called concurrently. Diagnose only reads and is always safe.
type Runtime struct {
	mgr    *heap.Manager
	cls    *errorinfo.Classifier
	stacks *stackcache.Cache
}

// Option configures a Runtime.
type Option func(*config)

type config struct {
	arenaSize uint64
	heapOpts  []heap.Option
}

// WithArenaSize sets the arena size in bytes. The default is 1 MiB.
func WithArenaSize(n uint64) Option {
	return func(c *config) { c.arenaSize = n }
}

// WithHeapOptions forwards options to the underlying heap manager.
func WithHeapOptions(opts ...heap.Option) Option {
	return func(c *config) { c.heapOpts = append(c.heapOpts, opts...) }
}

// NewRuntime creates a runtime with a fresh arena and an empty stack
// cache.
//
// Example:
//
//	rt, err := asan.NewRuntime()
//	if err != nil {
//		log.Fatal(err)
//	}
//	addr, _ := rt.Allocate(128)
func NewRuntime(opts ...Option) (*Runtime, error) {
	cfg := config{arenaSize: 1 << 20}
	for _, opt := range opts {
		opt(&cfg)
	}

	stacks := stackcache.New()
	mgr, err := heap.New(cfg.arenaSize, stacks, cfg.heapOpts...)
	if err != nil {
		return nil, fmt.Errorf("heapguard: %w", err)
	}
	return &Runtime{
		mgr:    mgr,
		cls:    errorinfo.NewClassifier(mgr.Shadow(), stacks),
		stacks: stacks,
	}, nil
}

// Allocate carves a tracked block of size bytes and returns its body
// address. The allocation stack, thread id, and tick stamp are recorded
// in the block.
func (r *Runtime) Allocate(size uint64) (uintptr, error) {
	return r.mgr.Allocate(size)
}

// AllocateNested carves a tracked block inside the body of an existing
// block. Nested blocks let a sub-allocator's frees be attributed
// separately from the enclosing allocation's.
func (r *Runtime) AllocateNested(parentBody uintptr, size uint64) (uintptr, error) {
	return r.mgr.AllocateNested(parentBody, size)
}

// Free quarantines the block whose body starts at body. The memory is
// retained so later accesses diagnose as use-after-free.
//
// Freeing a block twice does not panic: the second call returns a
// double-free Report describing the block's current state.
func (r *Runtime) Free(body uintptr) (*Report, error) {
	errInfo, err := r.mgr.Quarantine(body)
	if err != nil {
		return nil, err
	}
	if errInfo == nil {
		return nil, nil
	}
	return r.buildReport(errInfo), nil
}

// Diagnose classifies a bad access at location and builds the full
// report. The second return is false when location does not resolve to
// any tracked block, meaning the access is wild or the block's markers
// were destroyed.
//
// Diagnose never mutates heap state: it reads the shadow, the nearest
// block's header and trailer, and walks the whole arena for the heap
// consistency verdict.
func (r *Runtime) Diagnose(location uintptr) (*Report, bool) {
	errInfo := &errorinfo.AsanErrorInfo{
		Location:     location,
		CrashStackID: uint64(r.stacks.Capture(2)),
		// The facade has no view of the faulting instruction, so the
		// access direction is genuinely unknown, not read.
		AccessMode: errorinfo.AccessUnknown,
	}
	if !r.cls.GetBadAccessInformation(errInfo) {
		return nil, false
	}
	r.cls.CheckHeap(errInfo)
	return r.buildReport(errInfo), true
}

// CheckHeap walks every tracked block and reports corruption without a
// triggering access. Returns nil when the heap is consistent.
func (r *Runtime) CheckHeap() *Report {
	errInfo := &errorinfo.AsanErrorInfo{
		CrashStackID: uint64(r.stacks.Capture(2)),
		ErrorType:    errorinfo.CorruptHeap,
		AccessMode:   errorinfo.AccessUnknown,
	}
	if !r.cls.CheckHeap(errInfo) {
		return nil
	}
	return r.buildReport(errInfo)
}

// CorruptBlockHeader deliberately damages the header of the block whose
// body starts at body. Fault injection for demos and tests; calling it
// twice restores the header.
func (r *Runtime) CorruptBlockHeader(body uintptr) error {
	return r.mgr.CorruptHeader(body)
}

// Stats returns the underlying heap's lifecycle counters.
func (r *Runtime) Stats() heap.Stats {
	return r.mgr.Stats()
}

func (r *Runtime) buildReport(errInfo *errorinfo.AsanErrorInfo) *Report {
	tree := errorinfo.PopulateErrorInfo(errInfo)
	return &Report{
		ErrorType: errInfo.ErrorType.String(),
		Location:  errInfo.Location,
		Info:      *errInfo,
		Text:      crashdata.ToJSON(tree),
	}
}
