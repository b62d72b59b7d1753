package asan_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/heapguard/asan"
)

// TestDiagnoseOverflowReport verifies the full public path: allocate,
// fault past the body, and check the rendered report carries the fields
// crash processors rely on.
func TestDiagnoseOverflowReport(t *testing.T) {
	rt, err := asan.NewRuntime(asan.WithArenaSize(1 << 16))
	require.NoError(t, err)

	addr, err := rt.Allocate(100)
	require.NoError(t, err)

	report, ok := rt.Diagnose(addr + 100)
	require.True(t, ok, "overflow address did not resolve")

	assert.Equal(t, "heap-buffer-overflow", report.ErrorType)
	assert.Equal(t, addr+100, report.Location)
	assert.Equal(t, uint64(100), report.Info.BlockInfo.UserSize)

	for _, field := range []string{
		`"location"`,
		`"crash-stack-id"`,
		`"block-info"`,
		`"error-type": "heap-buffer-overflow"`,
		`"user-size": 100`,
		`"state": "allocated"`,
		`"access-mode": "unknown"`,
		`"alloc-stack"`,
		`"shadow-memory"`,
		`"heap-is-corrupt": 0`,
	} {
		assert.True(t, strings.Contains(report.Text, field),
			"report text missing %s", field)
	}
	assert.False(t, strings.Contains(report.Text, `"free-stack"`),
		"live block report carries free-side fields")
}

// TestDiagnoseAccessModeUnknown verifies that a diagnosis without a
// faulting instruction never claims a read: the runtime cannot see the
// access direction, so every report must say so.
func TestDiagnoseAccessModeUnknown(t *testing.T) {
	rt, err := asan.NewRuntime(asan.WithArenaSize(1 << 16))
	require.NoError(t, err)

	addr, err := rt.Allocate(64)
	require.NoError(t, err)

	report, ok := rt.Diagnose(addr + 64)
	require.True(t, ok)
	assert.Equal(t, "unknown", report.Info.AccessMode.String())
	assert.Contains(t, report.Text, `"access-mode": "unknown"`)
	assert.NotContains(t, report.Text, `"access-mode": "read"`)
}

// TestDiagnoseUseAfterFreeReport verifies that freeing adds the
// free-side fields to the report.
func TestDiagnoseUseAfterFreeReport(t *testing.T) {
	rt, err := asan.NewRuntime()
	require.NoError(t, err)

	addr, err := rt.Allocate(64)
	require.NoError(t, err)
	dup, err := rt.Free(addr)
	require.NoError(t, err)
	require.Nil(t, dup, "first free flagged as double free")

	report, ok := rt.Diagnose(addr + 5)
	require.True(t, ok)

	assert.Equal(t, "heap-use-after-free", report.ErrorType)
	assert.True(t, strings.Contains(report.Text, `"state": "quarantined"`))
	assert.True(t, strings.Contains(report.Text, `"free-stack"`))
	assert.True(t, strings.Contains(report.Text, `"milliseconds-since-free"`))
	assert.NotEmpty(t, report.Info.BlockInfo.FreeStack)
}

// TestFreeTwiceReturnsDoubleFree verifies the double-free surface.
func TestFreeTwiceReturnsDoubleFree(t *testing.T) {
	rt, err := asan.NewRuntime()
	require.NoError(t, err)

	addr, err := rt.Allocate(32)
	require.NoError(t, err)

	dup, err := rt.Free(addr)
	require.NoError(t, err)
	require.Nil(t, dup)

	dup, err = rt.Free(addr)
	require.NoError(t, err)
	require.NotNil(t, dup, "second free not flagged")
	assert.Equal(t, "attempting double-free", dup.ErrorType)
	assert.Equal(t, addr, dup.Location)
}

// TestDiagnoseUntrackedAddress verifies the wild-access path.
func TestDiagnoseUntrackedAddress(t *testing.T) {
	rt, err := asan.NewRuntime()
	require.NoError(t, err)

	_, ok := rt.Diagnose(uintptr(0x10))
	assert.False(t, ok, "null-page address produced a report")
}

// TestCheckHeapSurface verifies the standalone heap checker with fault
// injection.
func TestCheckHeapSurface(t *testing.T) {
	rt, err := asan.NewRuntime()
	require.NoError(t, err)

	addr, err := rt.Allocate(64)
	require.NoError(t, err)

	require.Nil(t, rt.CheckHeap(), "clean heap flagged as corrupt")

	require.NoError(t, rt.CorruptBlockHeader(addr))
	report := rt.CheckHeap()
	require.NotNil(t, report, "corruption not flagged")
	assert.Equal(t, "corrupt-heap", report.ErrorType)
	assert.True(t, report.Info.HeapIsCorrupt)
	assert.Equal(t, uint64(1), report.Info.CorruptBlockCount)
	assert.True(t, strings.Contains(report.Text, `"corrupt-ranges"`))

	require.NoError(t, rt.CorruptBlockHeader(addr))
	assert.Nil(t, rt.CheckHeap(), "restored heap still flagged")
}

// TestNestedAllocationAttribution verifies the nested free-record
// resolution through the public API.
func TestNestedAllocationAttribution(t *testing.T) {
	rt, err := asan.NewRuntime()
	require.NoError(t, err)

	outer, err := rt.Allocate(512)
	require.NoError(t, err)
	inner, err := rt.AllocateNested(outer, 64)
	require.NoError(t, err)

	dup, err := rt.Free(outer)
	require.NoError(t, err)
	require.Nil(t, dup)

	report, ok := rt.Diagnose(inner + 3)
	require.True(t, ok)
	assert.Equal(t, "heap-use-after-free", report.ErrorType)
	assert.NotEmpty(t, report.Info.BlockInfo.FreeStack,
		"nested fault not attributed to the enclosing free")
}

// TestRuntimeStats verifies the counter surface.
func TestRuntimeStats(t *testing.T) {
	rt, err := asan.NewRuntime()
	require.NoError(t, err)

	a, err := rt.Allocate(16)
	require.NoError(t, err)
	_, err = rt.Allocate(16)
	require.NoError(t, err)
	_, err = rt.Free(a)
	require.NoError(t, err)

	s := rt.Stats()
	assert.Equal(t, uint64(2), s.Allocations)
	assert.Equal(t, uint64(1), s.Quarantines)
}

// TestGetInfo sanity-checks the version surface.
func TestGetInfo(t *testing.T) {
	info := asan.GetInfo()
	assert.Equal(t, asan.Version, info.Version)
	assert.True(t, info.Enabled)
}
