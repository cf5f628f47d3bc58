package schemafile

import "github.com/iamNilotpal/pmt/internal/segment"

// UnallocatedAddr mirrors segment.UnallocatedAddr — the `-1` sentinel
// meaning "no segment yet".
const UnallocatedAddr = segment.UnallocatedAddr

// packAddress combines a page index and an intra-page segment index into
// a 64-bit segment address: `(page_index << 16) | segment_index`. The
// low 16 bits are the segment index, matching the Segment Address data
// model's `(page_index: 48 bits, segment_index: 16 bits)`.
func packAddress(pageIndex uint64, segIndex int) int64 {
	return int64(pageIndex)<<16 | int64(uint16(segIndex))
}

// unpackAddress splits a packed segment address back into its page index
// and intra-page segment index.
func unpackAddress(addr int64) (pageIndex uint64, segIndex int) {
	pageIndex = uint64(addr) >> 16
	segIndex = int(uint16(addr & 0xFFFF))
	return pageIndex, segIndex
}

// segmentHeaderOverhead is the fixed 25-byte segment header
// EstimateSegmentSize charges once per segment.
const segmentHeaderOverhead = 25

// perChildFixedOverhead is the cost EstimateSegmentSize charges per child
// on top of its name and payload: a 4-byte offset table slot (start
// offset plus the record's own footprint, tracked there rather than
// inline since a record's wire form carries no length of its own) plus
// the 4-byte key-length prefix every record carries.
const perChildFixedOverhead = 4 + 4 // offset table slot + key length prefix

// internalPayloadEstimate and measurementPayloadEstimateBase are the
// named constants for EstimateSegmentSize's payload term: roughly 14
// bytes for an internal node, 24 + alias length for a measurement.
const (
	internalPayloadEstimate        = 14
	measurementPayloadEstimateBase = 24
)

// EstimateSegmentSize returns the smallest size class expected to hold n
// children of average name length avgNameLen. Up to 150 children it uses
// the breakpoints as upper bounds (n ≤ 20→1 KiB, ≤ 40→2 KiB, ≤ 75→4 KiB,
// ≤ 150→8 KiB); above 150 it uses the general formula (header + n *
// per-child cost), capped at 16320 — keeping both the breakpoint table
// and the general formula independently testable.
func EstimateSegmentSize(n int, avgNameLen int, avgAliasLen int) int {
	switch {
	case n <= 20:
		return segment.SizeClasses[0]
	case n <= 40:
		return segment.SizeClasses[1]
	case n <= 75:
		return segment.SizeClasses[2]
	case n <= 150:
		return segment.SizeClasses[3]
	}

	payload := internalPayloadEstimate
	if avgAliasLen > 0 {
		payload = measurementPayloadEstimateBase + avgAliasLen
	}
	needed := segmentHeaderOverhead + n*(perChildFixedOverhead+avgNameLen+payload)

	for _, c := range segment.SizeClasses {
		if c >= needed {
			return c
		}
	}
	return segment.MaxSegmentSize
}
