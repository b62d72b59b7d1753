// Package heap implements the instrumented arena heap that feeds the
// diagnostic engine: it carves blocks out of a registered arena, writes
// their headers and trailers, and pokes shadow memory on every lifecycle
// transition so that the shadow state is always consistent with the
// block's recorded state.
//
// This is deliberately a diagnosis-support allocator, not a production
// malloc: allocation is a bump pointer, freed blocks are quarantined
// rather than recycled, and the interesting work is the bookkeeping
// (stacks, thread ids, tick stamps, shadow markers) that classification
// later reads back.
package heap

import (
	"fmt"
	"sync"

	"github.com/kolkov/heapguard/internal/asan/block"
	"github.com/kolkov/heapguard/internal/asan/errorinfo"
	"github.com/kolkov/heapguard/internal/asan/shadow"
	"github.com/kolkov/heapguard/internal/asan/stackcache"
)

// DefaultRatioLog is the shadow granularity used unless a caller asks for
// another: one marker byte per 8 heap bytes, the classic ASAN ratio.
const DefaultRatioLog = 3

// Stats counts the manager's lifecycle activity.
type Stats struct {
	Allocations  uint64
	Quarantines  uint64
	DoubleFrees  uint64
	BytesCarved  uint64
	BytesInArena uint64
}

// Manager owns one arena and the block lifecycle inside it.
//
// Thread safety: all lifecycle methods lock the manager; classification
// against the shadow needs no lock because the fault path only reads.
type Manager struct {
	mu sync.Mutex

	arena  []byte
	shadow *shadow.ShadowMemory
	stacks *stackcache.Cache

	ratioLog uint
	heapType block.HeapType
	next     uint64 // bump offset into arena

	// blocks indexes live and quarantined blocks by body address so that
	// free-by-pointer can find them.
	blocks map[uintptr]block.Info

	// nestedNext tracks the bump offset into each parent body, keyed by
	// the parent's body address, so repeated nested allocations subdivide
	// the body instead of overlapping.
	nestedNext map[uintptr]uint64

	ticks    errorinfo.TickSource
	threadID func() uint32

	stats Stats
}

// Option configures a Manager.
type Option func(*Manager)

// WithHeapType tags all blocks from this manager with the given
// allocator type.
func WithHeapType(t block.HeapType) Option {
	return func(m *Manager) { m.heapType = t }
}

// WithRatioLog sets the shadow granularity (log2 bytes per marker).
func WithRatioLog(ratioLog uint) Option {
	return func(m *Manager) { m.ratioLog = ratioLog }
}

// WithTickSource replaces the monotonic tick source. For tests.
func WithTickSource(ts errorinfo.TickSource) Option {
	return func(m *Manager) { m.ticks = ts }
}

// WithThreadIDSource replaces the thread-id source. For tests.
func WithThreadIDSource(fn func() uint32) Option {
	return func(m *Manager) { m.threadID = fn }
}

// New creates a manager over a fresh arena of the given size, with the
// shadow covering it. arenaSize must be a multiple of the granule size.
func New(arenaSize uint64, stacks *stackcache.Cache, opts ...Option) (*Manager, error) {
	m := &Manager{
		stacks:     stacks,
		ratioLog:   DefaultRatioLog,
		heapType:   block.HeapTypeUnknown,
		blocks:     make(map[uintptr]block.Info),
		nestedNext: make(map[uintptr]uint64),
		ticks:      errorinfo.DefaultTicks,
		threadID:   errorinfo.CurrentThreadID,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.arena = make([]byte, arenaSize)
	sh, err := shadow.New(m.arena, m.ratioLog)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	m.shadow = sh
	m.stats.BytesInArena = arenaSize
	return m, nil
}

// Shadow returns the shadow covering this manager's arena.
func (m *Manager) Shadow() *shadow.ShadowMemory { return m.shadow }

// Stacks returns the stack cache blocks reference.
func (m *Manager) Stacks() *stackcache.Cache { return m.stacks }

// Stats returns a snapshot of the lifecycle counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Allocate carves a new block for size body bytes and returns its body
// address. The block's header, trailer, and shadow markers are fully
// written before the address escapes: the classification path may run
// against it at any moment after.
func (m *Manager) Allocate(size uint64) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ratio := uint64(1) << m.ratioLog
	layout, ok := block.PlanLayout(ratio, ratio, size, 0, 0)
	if !ok {
		return 0, fmt.Errorf("heap: cannot plan layout for size %d", size)
	}
	if m.next+layout.BlockSize > uint64(len(m.arena)) {
		return 0, fmt.Errorf("heap: arena exhausted (%d of %d bytes used)",
			m.next, len(m.arena))
	}

	region := m.arena[m.next : m.next+layout.BlockSize]
	m.next += layout.BlockSize

	info, err := m.initializeBlock(layout, region, false)
	if err != nil {
		return 0, err
	}
	return info.BodyAddr(), nil
}

// AllocateNested carves a block inside the body of an existing block,
// turning that body into a nested allocation arena. Successive calls
// for the same parent bump through its body left to right, so a body
// can hold several nested siblings. Nested blocks are what make
// use-after-free attribution interesting: their markers carry the
// nested variants so enclosing-block walks work.
func (m *Manager) AllocateNested(parentBody uintptr, size uint64) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.blocks[parentBody]
	if !ok {
		return 0, fmt.Errorf("heap: no block with body %#x", parentBody)
	}

	ratio := uint64(1) << m.ratioLog
	layout, ok := block.PlanLayout(ratio, ratio, size, 0, 0)
	if !ok {
		return 0, fmt.Errorf("heap: cannot plan layout for size %d", size)
	}
	body := parent.Body()
	off := m.nestedNext[parentBody]
	if off+layout.BlockSize > uint64(len(body)) {
		return 0, fmt.Errorf("heap: nested block of %d bytes does not fit body of %d bytes (%d used)",
			layout.BlockSize, len(body), off)
	}

	info, err := m.initializeBlock(layout, body[off:off+layout.BlockSize], true)
	if err != nil {
		return 0, err
	}
	m.nestedNext[parentBody] = off + layout.BlockSize
	return info.BodyAddr(), nil
}

// initializeBlock binds, stamps, and poisons one block. Caller holds mu.
func (m *Manager) initializeBlock(layout block.Layout, region []byte, nested bool) (block.Info, error) {
	info, err := block.Initialize(layout, region, true)
	if err != nil {
		return block.Info{}, fmt.Errorf("heap: %w", err)
	}

	h := info.Header()
	h.SetMagic(block.HeaderMagic)
	h.SetState(block.StateAllocated)
	h.SetBodySize(layout.BodySize)
	h.SetHeapType(m.heapType)
	h.SetNested(nested)
	h.SetAllocStack(uint64(m.stacks.Capture(3)))

	t := info.Trailer()
	t.SetAllocTicks(m.ticks())
	t.SetAllocTID(m.threadID())

	if err := m.shadow.PoisonAllocatedBlock(info); err != nil {
		return block.Info{}, fmt.Errorf("heap: %w", err)
	}

	m.blocks[info.BodyAddr()] = info
	m.stats.Allocations++
	m.stats.BytesCarved += layout.BlockSize
	return info, nil
}

// Quarantine frees the block whose body starts at body: the state flips
// to quarantined, the free stack, tick and thread id are recorded, and
// the body's shadow granules are marked freed. The memory is retained so
// later accesses classify as use-after-free.
//
// Freeing an already-quarantined or freed block is a double free: the
// returned AsanErrorInfo describes it and the block is left untouched.
func (m *Manager) Quarantine(body uintptr) (*errorinfo.AsanErrorInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.blocks[body]
	if !ok {
		return nil, fmt.Errorf("heap: no block with body %#x", body)
	}

	h := info.Header()
	if h.State() != block.StateAllocated {
		m.stats.DoubleFrees++
		cls := errorinfo.NewClassifier(m.shadow, m.stacks)
		cls.SetTickSource(m.ticks)
		errInfo := &errorinfo.AsanErrorInfo{
			Location:     body,
			CrashStackID: uint64(m.stacks.Capture(2)),
			ErrorType:    errorinfo.DoubleFree,
			AccessMode:   errorinfo.AccessUnknown,
			BlockInfo:    cls.GetAsanBlockInfo(info),
		}
		return errInfo, nil
	}

	h.SetState(block.StateQuarantined)
	h.SetFreeStack(uint64(m.stacks.Capture(2)))

	t := info.Trailer()
	t.SetFreeTicks(m.ticks())
	t.SetFreeTID(m.threadID())

	if err := m.shadow.MarkBlockAsFreed(info); err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	m.stats.Quarantines++
	return nil, nil
}

// Lookup returns the block view for a body address.
func (m *Manager) Lookup(body uintptr) (block.Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.blocks[body]
	return info, ok
}

// CorruptHeader flips the magic constant of the block whose body starts
// at body. Fault injection for tests and demos: the next classification
// or heap check will find the block corrupt. Flipping twice restores it.
func (m *Manager) CorruptHeader(body uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.blocks[body]
	if !ok {
		return fmt.Errorf("heap: no block with body %#x", body)
	}
	h := info.Header()
	h.SetMagic(^h.Magic())
	return nil
}
