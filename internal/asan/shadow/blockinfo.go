package shadow

import (
	"fmt"

	"github.com/kolkov/heapguard/internal/asan/block"
)

// PoisonAllocatedBlock writes the marker pattern for a freshly allocated
// block: block-start over the first granule, left redzone up to the body,
// addressable body (with a partial count for a trailing granule), right
// redzone over the trailer padding, and block-end on the last granule.
// Nested blocks get the nested start/end variants so that enclosing-block
// scans can tell the two apart.
//
// The block's base, body offset and total size must be granule-aligned;
// the layout planner guarantees this when chunkSize equals the granule.
func (s *ShadowMemory) PoisonAllocatedBlock(info block.Info) error {
	layout := info.Layout()
	start, end, err := s.granuleRange(info.BaseAddr(), layout.BlockSize)
	if err != nil {
		return err
	}
	bodyUnits := layout.BodyOffset() >> s.ratioLog
	if layout.BodyOffset()&(s.Ratio()-1) != 0 {
		return fmt.Errorf("shadow: block body offset %d not granule-aligned", layout.BodyOffset())
	}

	startMarker, endMarker := MarkerBlockStart, MarkerBlockEnd
	if info.Header().IsNested() {
		startMarker, endMarker = MarkerNestedBlockStart, MarkerNestedBlockEnd
	}

	s.marks[start] = byte(startMarker)
	for i := start + 1; i < start+int(bodyUnits); i++ {
		s.marks[i] = byte(MarkerLeftRedzone)
	}

	i := start + int(bodyUnits)
	for n := layout.BodySize >> s.ratioLog; n > 0; n-- {
		s.marks[i] = byte(MarkerAddressable)
		i++
	}
	if tail := layout.BodySize & (s.Ratio() - 1); tail != 0 {
		s.marks[i] = byte(tail)
		i++
	}

	for ; i < end-1; i++ {
		s.marks[i] = byte(MarkerRightRedzone)
	}
	s.marks[end-1] = byte(endMarker)
	return nil
}

// MarkBlockAsFreed marks the block's body granules freed. Only granules
// currently addressable (fully or partially) are touched: start/end and
// redzone markers of the block itself — and of any block nested inside the
// body — are preserved, so nested blocks stay locatable after the
// enclosing block is quarantined.
func (s *ShadowMemory) MarkBlockAsFreed(info block.Info) error {
	layout := info.Layout()
	bodyBytes := layout.BodySize &^ (s.Ratio() - 1)
	if tail := layout.BodySize & (s.Ratio() - 1); tail != 0 {
		bodyBytes += s.Ratio() // the shared trailing granule is freed too
	}
	if bodyBytes == 0 {
		return nil
	}
	start, end, err := s.granuleRange(info.BodyAddr(), bodyBytes)
	if err != nil {
		return err
	}
	for i := start; i < end; i++ {
		if m := uint64(s.marks[i]); m < s.Ratio() {
			s.marks[i] = byte(MarkerFreed)
		}
	}
	return nil
}

// blockStartIndexFor scans left from the granule at idx for the start of
// the innermost block covering it. An end marker at idx itself is the
// covering block's own closing granule; end markers strictly left of idx
// open nested sibling blocks whose whole extent must be skipped.
func (s *ShadowMemory) blockStartIndexFor(idx int) (int, bool) {
	if Marker(s.marks[idx]).IsBlockEnd() {
		idx-- // the address sits in this block's closing granule
	}
	return s.enclosingStartIndexFor(idx)
}

// enclosingStartIndexFor scans left from idx for the nearest unmatched
// block start, counting every end marker seen — including one at idx
// itself — as opening a sibling extent to skip. The parent walk starts
// one granule left of a child block, which lands exactly on a sibling's
// end marker when the two are adjacent; that marker closes the sibling,
// not the block being walked from.
func (s *ShadowMemory) enclosingStartIndexFor(idx int) (int, bool) {
	depth := 0
	for i := idx; i >= 0; i-- {
		m := Marker(s.marks[i])
		switch {
		case m.IsBlockEnd():
			depth++
		case m.IsBlockStart():
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}

// blockEndIndexFrom scans right from a block start granule for the
// matching block end granule.
func (s *ShadowMemory) blockEndIndexFrom(startIdx int) (int, bool) {
	depth := 0
	for j := startIdx + 1; j < len(s.marks); j++ {
		m := Marker(s.marks[j])
		switch {
		case m.IsBlockStart():
			depth++
		case m.IsBlockEnd():
			if depth == 0 {
				return j, true
			}
			depth--
		}
	}
	return 0, false
}

// blockInfoAt reconstructs a block view from the marker stream, given the
// granule index of its start marker.
//
// The extent comes from depth-matched start/end markers and the body
// offset from the left redzone run, neither of which requires trusting the
// header. The body size is taken from the header only after its magic
// checks out; for a corrupt header it is inferred from the right redzone
// run instead, so corrupt blocks still classify defensively.
func (s *ShadowMemory) blockInfoAt(startIdx int) (block.Info, bool) {
	endIdx, ok := s.blockEndIndexFrom(startIdx)
	if !ok {
		return block.Info{}, false
	}
	blockSize := uint64(endIdx-startIdx+1) << s.ratioLog
	regionOff := uint64(startIdx) << s.ratioLog
	region := s.arena[regionOff : regionOff+blockSize]

	// Body offset: first granule past the left redzone run.
	bodyIdx := startIdx + 1
	for bodyIdx < endIdx && Marker(s.marks[bodyIdx]) == MarkerLeftRedzone {
		bodyIdx++
	}
	bodyOffset := uint64(bodyIdx-startIdx) << s.ratioLog
	if bodyOffset < block.HeaderBytes {
		return block.Info{}, false
	}

	bodySize, ok := s.bodySizeAt(region, startIdx, bodyIdx, endIdx)
	if !ok {
		return block.Info{}, false
	}
	if bodyOffset+bodySize+block.TrailerBytes > blockSize {
		return block.Info{}, false
	}

	layout := block.Layout{
		BlockSize:          blockSize,
		HeaderSize:         bodyOffset,
		BodySize:           bodySize,
		TrailerPaddingSize: blockSize - bodyOffset - bodySize - block.TrailerBytes,
		TrailerSize:        block.TrailerBytes,
	}
	info, err := block.Initialize(layout, region, false)
	if err != nil {
		return block.Info{}, false
	}
	return info, true
}

// bodySizeAt determines a block's body size, from the header when it is
// trustworthy and from the markers when it is not.
func (s *ShadowMemory) bodySizeAt(region []byte, startIdx, bodyIdx, endIdx int) (uint64, bool) {
	headerSize := uint64(bodyIdx-startIdx) << s.ratioLog
	if headerSize+block.TrailerBytes > uint64(len(region)) {
		return 0, false
	}
	// A valid magic means the recorded body size can be trusted.
	probe, err := block.Initialize(block.Layout{
		BlockSize:          uint64(len(region)),
		HeaderSize:         headerSize,
		BodySize:           0,
		TrailerPaddingSize: uint64(len(region)) - headerSize - block.TrailerBytes,
		TrailerSize:        block.TrailerBytes,
	}, region, false)
	if err == nil && probe.Header().IsValid() {
		return probe.Header().BodySize(), true
	}

	// Corrupt header: infer the body end from the right redzone run.
	j := endIdx - 1
	for j >= bodyIdx && Marker(s.marks[j]) == MarkerRightRedzone {
		j--
	}
	if j < bodyIdx {
		return 0, true // empty body
	}
	m := uint64(s.marks[j])
	bodyEnd := uint64(j-startIdx+1) << s.ratioLog
	if m > 0 && m < s.Ratio() {
		bodyEnd = uint64(j-startIdx)<<s.ratioLog + m
	}
	bodyOffset := uint64(bodyIdx-startIdx) << s.ratioLog
	if bodyEnd < bodyOffset {
		return 0, false
	}
	return bodyEnd - bodyOffset, true
}

// BlockInfoFromShadow locates the innermost block whose extent covers
// addr. Returns false when addr is outside the arena or no block covers it
// — the caller reports that upward as an unclassifiable (wild) access.
func (s *ShadowMemory) BlockInfoFromShadow(addr uintptr) (block.Info, bool) {
	idx, ok := s.index(addr)
	if !ok {
		return block.Info{}, false
	}
	startIdx, ok := s.blockStartIndexFor(idx)
	if !ok {
		return block.Info{}, false
	}
	info, ok := s.blockInfoAt(startIdx)
	if !ok || !info.ContainsAddr(addr) {
		return block.Info{}, false
	}
	return info, true
}

// ParentBlockInfo locates the nearest block enclosing the given one,
// for the nested use-after-free walk. The candidate found by the marker
// scan is only accepted if its body really encloses the child.
func (s *ShadowMemory) ParentBlockInfo(info block.Info) (block.Info, bool) {
	idx, ok := s.index(info.BaseAddr())
	if !ok || idx == 0 {
		return block.Info{}, false
	}
	startIdx, ok := s.enclosingStartIndexFor(idx - 1)
	if !ok {
		return block.Info{}, false
	}
	parent, ok := s.blockInfoAt(startIdx)
	if !ok || !parent.Encloses(info) {
		return block.Info{}, false
	}
	return parent, true
}

// WalkBlocks calls fn for every top-level block known to the shadow, in
// address order, until fn returns false. Nested blocks are skipped: the
// heap checker inspects arenas block by block and descends explicitly when
// it needs to.
func (s *ShadowMemory) WalkBlocks(fn func(block.Info) bool) {
	for i := 0; i < len(s.marks); {
		if !Marker(s.marks[i]).IsBlockStart() {
			i++
			continue
		}
		info, ok := s.blockInfoAt(i)
		if !ok {
			i++
			continue
		}
		if !fn(info) {
			return
		}
		i += int(info.BlockSize() >> s.ratioLog)
	}
}

// SnapshotAround copies the fixed-size shadow window surrounding addr for
// inclusion in a crash report, returning the window and the byte index of
// addr's granule within it. Out-of-arena space pads with MarkerInvalid.
// The copy is taken at call time; the report retains no live pointers.
func (s *ShadowMemory) SnapshotAround(addr uintptr) ([]byte, uint64) {
	window := make([]byte, WindowBytes)
	idx, ok := s.index(addr)
	if !ok {
		for i := range window {
			window[i] = byte(MarkerInvalid)
		}
		return window, 0
	}
	start := idx - WindowBytes/2
	if start > len(s.marks)-WindowBytes {
		start = len(s.marks) - WindowBytes
	}
	if start < 0 {
		start = 0
	}
	for i := range window {
		if start+i < len(s.marks) {
			window[i] = s.marks[start+i]
		} else {
			window[i] = byte(MarkerInvalid)
		}
	}
	return window, uint64(idx - start)
}
