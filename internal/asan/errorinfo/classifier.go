package errorinfo

import (
	"github.com/kolkov/heapguard/internal/asan/block"
	"github.com/kolkov/heapguard/internal/asan/shadow"
	"github.com/kolkov/heapguard/internal/asan/stackcache"
)

// Classifier is the decision engine binding the shadow view, the stack
// cache, and the OS collaborators together. All collaborators are explicit
// configuration: tests inject deterministic tick and page-bit sources, and
// nothing here reads process-wide state.
type Classifier struct {
	shadow *shadow.ShadowMemory
	stacks *stackcache.Cache

	// ticks is the monotonic tick source, milliseconds granularity.
	ticks TickSource

	// pageBits supplies the OS page-state bitmap window for reports.
	pageBits PageBitsSource
}

// NewClassifier creates a classifier over the given shadow and stack
// cache, with the OS-backed default tick and page-bit sources.
func NewClassifier(sh *shadow.ShadowMemory, stacks *stackcache.Cache) *Classifier {
	return &Classifier{
		shadow:   sh,
		stacks:   stacks,
		ticks:    DefaultTicks,
		pageBits: DefaultPageBits,
	}
}

// SetTickSource replaces the monotonic tick source. For tests.
func (c *Classifier) SetTickSource(ts TickSource) { c.ticks = ts }

// SetPageBitsSource replaces the page-bitmap source. For tests.
func (c *Classifier) SetPageBitsSource(ps PageBitsSource) { c.pageBits = ps }

// GetBadAccessKind classifies a faulting address relative to one block's
// geometry:
//
//   - strictly before the body start: heap-buffer-underflow;
//   - at or after the body end, within the block's reserved extent:
//     heap-buffer-overflow;
//   - within body bounds while the block is quarantined or freed:
//     use-after-free;
//   - within the body of a live block: unknown-bad-access.
func GetBadAccessKind(location uintptr, info block.Info) ErrorKind {
	switch {
	case location < info.BodyAddr():
		return HeapBufferUnderflow
	case location >= info.BodyAddr()+uintptr(info.BodySize()):
		return HeapBufferOverflow
	case info.Header().State() != block.StateAllocated:
		return UseAfterFree
	default:
		return UnknownBadAccess
	}
}

// GetBadAccessInformation runs the full classification for the faulting
// address in errInfo.Location, populating errInfo in place.
//
// Returns false when no block can be associated with the address at all;
// the caller must treat errInfo as unpopulated in that case and fall back
// to a generic wild-access diagnosis.
func (c *Classifier) GetBadAccessInformation(errInfo *AsanErrorInfo) bool {
	info, ok := c.shadow.BlockInfoFromShadow(errInfo.Location)
	if !ok {
		return false
	}

	errInfo.ErrorType = GetBadAccessKind(errInfo.Location, info)

	// The innermost block's state can lag the memory's: a live nested
	// block whose enclosing allocation was freed has an allocated header
	// over freed granules. The freed marker is the ground truth.
	if errInfo.ErrorType == UnknownBadAccess &&
		c.shadow.Marker(errInfo.Location) == shadow.MarkerFreed {
		errInfo.ErrorType = UseAfterFree
	}

	// A use-after-free inside a nested allocation arena must be charged
	// to the block whose free record explains it. The innermost block
	// wins whenever it has a free record of its own; only then do we
	// fall back to an enclosing quarantined ancestor.
	resolved := info
	if errInfo.ErrorType == UseAfterFree {
		cur := info
		for cur.Header().FreeStack() == 0 {
			parent, ok := c.shadow.ParentBlockInfo(cur)
			if !ok {
				break
			}
			cur = parent
		}
		if cur.Header().FreeStack() != 0 {
			resolved = cur
		}
	}

	errInfo.BlockInfo = c.GetAsanBlockInfo(resolved)
	errInfo.ShadowMemory, errInfo.ShadowIndex = c.shadow.SnapshotAround(errInfo.Location)
	errInfo.PageBits, errInfo.PageBitsIndex = c.pageBits(errInfo.Location)
	return true
}

// GetAsanBlockInfo projects a live block view into its report snapshot:
// sizes and state copied out, stacks resolved through the cache (a cache
// miss degrades to an empty stack), thread ids from the trailer, and the
// corruption analysis from the header magic check.
func (c *Classifier) GetAsanBlockInfo(info block.Info) AsanBlockInfo {
	h := info.Header()
	t := info.Trailer()

	bi := AsanBlockInfo{
		HeaderAddr: uint64(info.BaseAddr()),
		UserSize:   info.BodySize(),
		State:      h.State(),
		AllocTID:   t.AllocTID(),
		FreeTID:    t.FreeTID(),
		HeapType:   h.HeapType(),
	}

	if h.IsValid() {
		bi.Analysis.Block = DataIsClean
		bi.Analysis.Header = DataIsClean
	} else {
		bi.Analysis.Block = DataIsCorrupt
		bi.Analysis.Header = DataIsCorrupt
	}
	// Body checksums live in a deeper collaborator; never claim clean
	// here. The trailer carries no validity field of its own.
	bi.Analysis.Body = DataStateUnknown
	bi.Analysis.Trailer = DataIsClean

	bi.AllocStack = boundedStack(c.stacks.Resolve(stackcache.ID(h.AllocStack())))
	bi.FreeStack = boundedStack(c.stacks.Resolve(stackcache.ID(h.FreeStack())))
	bi.MillisecondsSinceFree = c.timeSinceFree(t)
	return bi
}

// timeSinceFree computes the elapsed ticks since the block's free,
// saturating at zero: the result is never negative and is zero for a
// block that was never freed.
func (c *Classifier) timeSinceFree(t block.Trailer) uint64 {
	freed := t.FreeTicks()
	if freed == 0 {
		return 0
	}
	now := c.ticks()
	if now < freed {
		return 0
	}
	return now - freed
}

// boundedStack enforces the fixed frame cap on a resolved stack. The
// cache already caps on save; this guards report size against any future
// path that stores longer stacks. Truncate, don't fail.
func boundedStack(pcs []uintptr) []uintptr {
	if len(pcs) > stackcache.MaxFrames {
		return pcs[:stackcache.MaxFrames]
	}
	return pcs
}
