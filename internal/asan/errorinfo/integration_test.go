package errorinfo_test

import (
	"testing"
	"time"

	"github.com/kolkov/heapguard/internal/asan/block"
	"github.com/kolkov/heapguard/internal/asan/errorinfo"
	"github.com/kolkov/heapguard/internal/asan/heap"
	"github.com/kolkov/heapguard/internal/asan/stackcache"
)

func newManager(t *testing.T, opts ...heap.Option) (*heap.Manager, *stackcache.Cache) {
	t.Helper()
	stacks := stackcache.New()
	mgr, err := heap.New(1<<16, stacks, opts...)
	if err != nil {
		t.Fatalf("heap.New() error: %v", err)
	}
	return mgr, stacks
}

func classify(t *testing.T, mgr *heap.Manager, stacks *stackcache.Cache, location uintptr) (*errorinfo.AsanErrorInfo, bool) {
	t.Helper()
	c := errorinfo.NewClassifier(mgr.Shadow(), stacks)
	errInfo := &errorinfo.AsanErrorInfo{Location: location}
	ok := c.GetBadAccessInformation(errInfo)
	return errInfo, ok
}

// TestClassifyBufferOverflow verifies the end-to-end overflow diagnosis:
// allocate 100 bytes, fault one byte past the body.
func TestClassifyBufferOverflow(t *testing.T) {
	mgr, stacks := newManager(t)

	addr, err := mgr.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}

	errInfo, ok := classify(t, mgr, stacks, addr+100)
	if !ok {
		t.Fatal("GetBadAccessInformation() = false")
	}

	if errInfo.ErrorType != errorinfo.HeapBufferOverflow {
		t.Errorf("ErrorType = %v, want heap-buffer-overflow", errInfo.ErrorType)
	}
	if errInfo.BlockInfo.UserSize != 100 {
		t.Errorf("UserSize = %d, want 100", errInfo.BlockInfo.UserSize)
	}
	if errInfo.BlockInfo.State != block.StateAllocated {
		t.Errorf("State = %v, want allocated", errInfo.BlockInfo.State)
	}
	if errInfo.BlockInfo.HeapType.String() != "unknown" {
		t.Errorf("HeapType = %q, want %q", errInfo.BlockInfo.HeapType.String(), "unknown")
	}
	if len(errInfo.BlockInfo.AllocStack) == 0 {
		t.Error("AllocStack empty, want captured frames")
	}
	if errInfo.BlockInfo.AllocTID == 0 {
		t.Error("AllocTID = 0, want current thread id")
	}
	if len(errInfo.ShadowMemory) == 0 {
		t.Error("ShadowMemory window empty")
	}
	if len(errInfo.PageBits) == 0 {
		t.Error("PageBits window empty")
	}
}

// TestClassifyBufferUnderflow verifies the diagnosis for an access just
// before the body.
func TestClassifyBufferUnderflow(t *testing.T) {
	mgr, stacks := newManager(t)

	addr, err := mgr.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}

	errInfo, ok := classify(t, mgr, stacks, addr-1)
	if !ok {
		t.Fatal("GetBadAccessInformation() = false")
	}
	if errInfo.ErrorType != errorinfo.HeapBufferUnderflow {
		t.Errorf("ErrorType = %v, want heap-buffer-underflow", errInfo.ErrorType)
	}
}

// TestClassifyUseAfterFree verifies the freed-block diagnosis with both
// lifecycle sides populated.
func TestClassifyUseAfterFree(t *testing.T) {
	now := uint64(100)
	ticks := func() uint64 { return now }
	mgr, stacks := newManager(t, heap.WithTickSource(ticks))

	addr, err := mgr.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if dup, err := mgr.Quarantine(addr); err != nil || dup != nil {
		t.Fatalf("Quarantine() = (%v, %v), want clean free", dup, err)
	}

	now = 350 // 250ms later

	c := errorinfo.NewClassifier(mgr.Shadow(), stacks)
	c.SetTickSource(ticks)
	errInfo := &errorinfo.AsanErrorInfo{Location: addr + 10}
	if !c.GetBadAccessInformation(errInfo) {
		t.Fatal("GetBadAccessInformation() = false")
	}

	if errInfo.ErrorType != errorinfo.UseAfterFree {
		t.Errorf("ErrorType = %v, want heap-use-after-free", errInfo.ErrorType)
	}
	bi := errInfo.BlockInfo
	if bi.State != block.StateQuarantined {
		t.Errorf("State = %v, want quarantined", bi.State)
	}
	if len(bi.FreeStack) == 0 {
		t.Error("FreeStack empty, want captured frames")
	}
	if bi.FreeTID == 0 {
		t.Error("FreeTID = 0, want freeing thread id")
	}
	if bi.MillisecondsSinceFree != 250 {
		t.Errorf("MillisecondsSinceFree = %d, want 250", bi.MillisecondsSinceFree)
	}
}

// TestClassifyNestedUseAfterFree verifies free-record attribution for
// nested blocks: the innermost freed block explains the fault; an
// unfreed inner block defers to its quarantined parent.
func TestClassifyNestedUseAfterFree(t *testing.T) {
	t.Run("inner freed, outer live", func(t *testing.T) {
		mgr, stacks := newManager(t)
		outer, err := mgr.Allocate(512)
		if err != nil {
			t.Fatalf("Allocate() error: %v", err)
		}
		inner, err := mgr.AllocateNested(outer, 64)
		if err != nil {
			t.Fatalf("AllocateNested() error: %v", err)
		}
		if _, err := mgr.Quarantine(inner); err != nil {
			t.Fatalf("Quarantine(inner) error: %v", err)
		}

		errInfo, ok := classify(t, mgr, stacks, inner+5)
		if !ok {
			t.Fatal("GetBadAccessInformation() = false")
		}
		if errInfo.ErrorType != errorinfo.UseAfterFree {
			t.Fatalf("ErrorType = %v, want heap-use-after-free", errInfo.ErrorType)
		}
		innerInfo, _ := mgr.Lookup(inner)
		if errInfo.BlockInfo.HeaderAddr != uint64(innerInfo.BaseAddr()) {
			t.Errorf("attributed to %#x, want inner block %#x",
				errInfo.BlockInfo.HeaderAddr, innerInfo.BaseAddr())
		}
		if len(errInfo.BlockInfo.FreeStack) == 0 {
			t.Error("FreeStack empty, want inner block's free record")
		}
	})

	t.Run("outer freed, inner never freed", func(t *testing.T) {
		mgr, stacks := newManager(t)
		outer, err := mgr.Allocate(512)
		if err != nil {
			t.Fatalf("Allocate() error: %v", err)
		}
		inner, err := mgr.AllocateNested(outer, 64)
		if err != nil {
			t.Fatalf("AllocateNested() error: %v", err)
		}
		if _, err := mgr.Quarantine(outer); err != nil {
			t.Fatalf("Quarantine(outer) error: %v", err)
		}

		errInfo, ok := classify(t, mgr, stacks, inner+5)
		if !ok {
			t.Fatal("GetBadAccessInformation() = false")
		}
		if errInfo.ErrorType != errorinfo.UseAfterFree {
			t.Fatalf("ErrorType = %v, want heap-use-after-free", errInfo.ErrorType)
		}
		outerInfo, _ := mgr.Lookup(outer)
		if errInfo.BlockInfo.HeaderAddr != uint64(outerInfo.BaseAddr()) {
			t.Errorf("attributed to %#x, want enclosing block %#x",
				errInfo.BlockInfo.HeaderAddr, outerInfo.BaseAddr())
		}
		if len(errInfo.BlockInfo.FreeStack) == 0 {
			t.Error("FreeStack empty, want outer block's free record")
		}
	})

	// The second sibling's base granule is directly preceded by the
	// first sibling's end marker; the parent walk must skip the whole
	// sibling extent rather than stop at its start.
	t.Run("outer freed, adjacent nested siblings", func(t *testing.T) {
		mgr, stacks := newManager(t)
		outer, err := mgr.Allocate(512)
		if err != nil {
			t.Fatalf("Allocate() error: %v", err)
		}
		if _, err := mgr.AllocateNested(outer, 8); err != nil {
			t.Fatalf("AllocateNested(first) error: %v", err)
		}
		second, err := mgr.AllocateNested(outer, 8)
		if err != nil {
			t.Fatalf("AllocateNested(second) error: %v", err)
		}
		if _, err := mgr.Quarantine(outer); err != nil {
			t.Fatalf("Quarantine(outer) error: %v", err)
		}

		errInfo, ok := classify(t, mgr, stacks, second+3)
		if !ok {
			t.Fatal("GetBadAccessInformation() = false")
		}
		if errInfo.ErrorType != errorinfo.UseAfterFree {
			t.Fatalf("ErrorType = %v, want heap-use-after-free", errInfo.ErrorType)
		}
		outerInfo, _ := mgr.Lookup(outer)
		if errInfo.BlockInfo.HeaderAddr != uint64(outerInfo.BaseAddr()) {
			t.Errorf("attributed to %#x, want enclosing block %#x",
				errInfo.BlockInfo.HeaderAddr, outerInfo.BaseAddr())
		}
		if len(errInfo.BlockInfo.FreeStack) == 0 {
			t.Error("FreeStack empty, want outer block's free record")
		}
	})
}

// TestTimeSinceFreeRealClock brackets the reported ms-since-free with
// independent clock reads around the free and the classification: the
// value must land inside what an outside observer measured.
func TestTimeSinceFreeRealClock(t *testing.T) {
	mgr, stacks := newManager(t)

	addr, err := mgr.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}

	before := errorinfo.DefaultTicks()
	if _, err := mgr.Quarantine(addr); err != nil {
		t.Fatalf("Quarantine() error: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	errInfo, ok := classify(t, mgr, stacks, addr+5)
	after := errorinfo.DefaultTicks()
	if !ok {
		t.Fatal("GetBadAccessInformation() = false")
	}

	got := errInfo.BlockInfo.MillisecondsSinceFree
	if got == 0 {
		t.Error("MillisecondsSinceFree = 0 after a measurable sleep")
	}
	if elapsed := after - before; got > elapsed {
		t.Errorf("MillisecondsSinceFree = %d, want at most %d", got, elapsed)
	}
}

// TestClassifyWildAccess verifies that an address no block explains
// reports as unclassifiable.
func TestClassifyWildAccess(t *testing.T) {
	mgr, stacks := newManager(t)
	if _, err := mgr.Allocate(32); err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}

	if _, ok := classify(t, mgr, stacks, uintptr(0x1)); ok {
		t.Error("classified a null-page address")
	}
}

// TestDoubleFreeDetection verifies the manager-side double-free report.
func TestDoubleFreeDetection(t *testing.T) {
	mgr, _ := newManager(t)

	addr, err := mgr.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if dup, err := mgr.Quarantine(addr); err != nil || dup != nil {
		t.Fatalf("first Quarantine() = (%v, %v), want clean", dup, err)
	}

	dup, err := mgr.Quarantine(addr)
	if err != nil {
		t.Fatalf("second Quarantine() error: %v", err)
	}
	if dup == nil {
		t.Fatal("second Quarantine() returned no report, want double-free")
	}
	if dup.ErrorType != errorinfo.DoubleFree {
		t.Errorf("ErrorType = %v, want attempting double-free", dup.ErrorType)
	}
	if dup.Location != addr {
		t.Errorf("Location = %#x, want %#x", dup.Location, addr)
	}
	if dup.BlockInfo.State != block.StateQuarantined {
		t.Errorf("State = %v, want quarantined", dup.BlockInfo.State)
	}
	if len(dup.BlockInfo.FreeStack) == 0 {
		t.Error("FreeStack empty, want the first free's record")
	}
	if dup.CrashStackID == 0 {
		t.Error("CrashStackID = 0, want captured crash stack")
	}

	if got := mgr.Stats().DoubleFrees; got != 1 {
		t.Errorf("Stats().DoubleFrees = %d, want 1", got)
	}
}

// TestManagerLifecycleStats verifies the lifecycle counters.
func TestManagerLifecycleStats(t *testing.T) {
	mgr, _ := newManager(t)

	a, err := mgr.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if _, err := mgr.Allocate(32); err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if _, err := mgr.Quarantine(a); err != nil {
		t.Fatalf("Quarantine() error: %v", err)
	}

	s := mgr.Stats()
	if s.Allocations != 2 {
		t.Errorf("Allocations = %d, want 2", s.Allocations)
	}
	if s.Quarantines != 1 {
		t.Errorf("Quarantines = %d, want 1", s.Quarantines)
	}
	if s.BytesCarved == 0 {
		t.Error("BytesCarved = 0, want non-zero")
	}
}

// TestManagerArenaExhaustion verifies that allocation failure is an
// error, not a panic.
func TestManagerArenaExhaustion(t *testing.T) {
	stacks := stackcache.New()
	mgr, err := heap.New(256, stacks)
	if err != nil {
		t.Fatalf("heap.New() error: %v", err)
	}

	if _, err := mgr.Allocate(128); err != nil {
		t.Fatalf("first Allocate() error: %v", err)
	}
	if _, err := mgr.Allocate(128); err == nil {
		t.Error("second Allocate() succeeded, want arena exhausted")
	}
}

// TestCheckHeapAfterCorruption runs the heap checker against a manager
// with one deliberately damaged header.
func TestCheckHeapAfterCorruption(t *testing.T) {
	mgr, stacks := newManager(t)

	victim, err := mgr.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if _, err := mgr.Allocate(64); err != nil {
		t.Fatalf("Allocate() error: %v", err)
	}
	if err := mgr.CorruptHeader(victim); err != nil {
		t.Fatalf("CorruptHeader() error: %v", err)
	}

	c := errorinfo.NewClassifier(mgr.Shadow(), stacks)
	var errInfo errorinfo.AsanErrorInfo
	if !c.CheckHeap(&errInfo) {
		t.Fatal("CheckHeap() = false, want corruption found")
	}
	if errInfo.CorruptBlockCount != 1 {
		t.Errorf("CorruptBlockCount = %d, want 1", errInfo.CorruptBlockCount)
	}
	victimInfo, _ := mgr.Lookup(victim)
	if errInfo.CorruptRanges[0].Address != uint64(victimInfo.BaseAddr()) {
		t.Errorf("corrupt range at %#x, want %#x",
			errInfo.CorruptRanges[0].Address, victimInfo.BaseAddr())
	}

	// Restoring the header clears the verdict.
	if err := mgr.CorruptHeader(victim); err != nil {
		t.Fatalf("CorruptHeader() error: %v", err)
	}
	var clean errorinfo.AsanErrorInfo
	if c.CheckHeap(&clean) {
		t.Error("CheckHeap() = true after restoring header")
	}
}
