package errorinfo

import "github.com/kolkov/heapguard/internal/asan/block"

// Report truncation caps. Crash reports must have a predictable size:
// beyond these limits the true counts are still reported, only the
// samples are dropped.
const (
	// MaxCorruptRangesToReport caps the corrupt-range samples attached
	// to one error report.
	MaxCorruptRangesToReport = 10

	// MaxBlocksPerCorruptRange caps the block samples attached to one
	// corrupt range.
	MaxBlocksPerCorruptRange = 3
)

// CheckHeap walks every top-level block known to the shadow, validates
// each header, and fills errInfo's heap-corruption summary: whether the
// heap is corrupt, the true range/block counts, and a capped sample of
// ranges. Adjacent corrupt blocks coalesce into one range (an overwrite
// that tramples one header rarely stops at its neighbour's doorstep).
//
// Returns true when any corruption was found.
func (c *Classifier) CheckHeap(errInfo *AsanErrorInfo) bool {
	var (
		ranges  []AsanCorruptBlockRange
		lastEnd uintptr
		blocks  uint64
	)
	open := -1 // index of the range being extended, -1 when none

	c.shadow.WalkBlocks(func(info block.Info) bool {
		if info.Header().IsValid() {
			open = -1
			return true
		}
		blocks++

		if open >= 0 && info.BaseAddr() == lastEnd {
			// Extends the run of corrupt blocks.
			r := &ranges[open]
			r.Length = uint64(info.EndAddr()) - r.Address
			r.BlockCount++
			if len(r.Blocks) < MaxBlocksPerCorruptRange {
				r.Blocks = append(r.Blocks, c.GetAsanBlockInfo(info))
			}
		} else {
			ranges = append(ranges, AsanCorruptBlockRange{
				Address:    uint64(info.BaseAddr()),
				Length:     info.BlockSize(),
				BlockCount: 1,
				Blocks:     []AsanBlockInfo{c.GetAsanBlockInfo(info)},
			})
			open = len(ranges) - 1
		}
		lastEnd = info.EndAddr()
		return true
	})

	errInfo.HeapIsCorrupt = len(ranges) > 0
	errInfo.CorruptRangeCount = uint64(len(ranges))
	errInfo.CorruptBlockCount = blocks
	if len(ranges) > MaxCorruptRangesToReport {
		ranges = ranges[:MaxCorruptRangesToReport]
	}
	errInfo.CorruptRanges = ranges
	return errInfo.HeapIsCorrupt
}
