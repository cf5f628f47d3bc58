// Package page implements the Page (§3/§4.C): a 16 KiB byte slab
// holding one or more Segments plus a table locating them by intra-page
// index. Structurally a page is the same "header + growing table of
// pointers into a shrinking free region" shape as a Segment one level up
// — a page's segment table plays the role a segment's offset table
// plays for records — but it is a distinct component with its own
// header, because a page's table entries locate whole segments (whose
// own headers carry their length), not length-implied records.
package page

import (
	"github.com/iamNilotpal/pmt/internal/codec"
	"github.com/iamNilotpal/pmt/internal/segment"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

// Size is the fixed byte size of every page in the schema file (§6
// "Page (16384 B)").
const Size = 16384

// HeaderSize is the fixed 16-byte page header (§6 "16 B page
// header").
const HeaderSize = 16

const (
	offPageIndex    = 0  // u64
	offSegmentCount = 8  // u16
	offFreeSpace    = 10 // u16
	offFlags        = 12 // u8
	// bytes 13-15 reserved, zero-padding.

	segTableStart  = HeaderSize
	segTableWidth  = 2 // u16 byte offset into the page, big-endian
	segEntryFree   = 0xFFFF
)

// Page is a view over one 16 KiB page-sized byte buffer.
type Page struct {
	buf []byte
}

// New wraps an existing, already-initialized page buffer (buf must be
// exactly Size bytes).
func New(buf []byte) *Page {
	return &Page{buf: buf}
}

// Init formats buf as a brand-new, empty page carrying pageIndex.
func Init(buf []byte, pageIndex uint64) *Page {
	p := &Page{buf: buf}
	_ = codec.WriteUint64(p.buf, offPageIndex, pageIndex)
	p.setSegmentCount(0)
	p.setFreeSpace(Size)
	_ = codec.WriteUint8(p.buf, offFlags, 0)
	return p
}

// Buf returns the page's backing byte buffer.
func (p *Page) Buf() []byte { return p.buf }

func (p *Page) PageIndex() uint64 {
	v, _ := codec.ReadUint64(p.buf, offPageIndex)
	return v
}

func (p *Page) SegmentCount() int {
	v, _ := codec.ReadUint16(p.buf, offSegmentCount)
	return int(v)
}

func (p *Page) setSegmentCount(v int) { _ = codec.WriteUint16(p.buf, offSegmentCount, uint16(v)) }

// FreeSpace is the high watermark of the segment-data region: the byte
// offset below which all bytes belong to already-allocated segments.
// Mirrors Segment's free_addr one level up.
func (p *Page) FreeSpace() int {
	v, _ := codec.ReadUint16(p.buf, offFreeSpace)
	return int(v)
}

func (p *Page) setFreeSpace(v int) { _ = codec.WriteUint16(p.buf, offFreeSpace, uint16(v)) }

func (p *Page) Flags() uint8 {
	v, _ := codec.ReadUint8(p.buf, offFlags)
	return v
}

func (p *Page) tableEntryAddr(i int) int { return segTableStart + i*segTableWidth }

func (p *Page) getTableEntry(i int) (int, error) {
	v, err := codec.ReadUint16(p.buf, p.tableEntryAddr(i))
	return int(v), err
}

func (p *Page) setTableEntry(i int, v int) error {
	return codec.WriteUint16(p.buf, p.tableEntryAddr(i), uint16(v))
}

func (p *Page) tableFloor(count int) int {
	return HeaderSize + count*segTableWidth
}

// GetSegment returns the segment at intra-page index, wrapping its span
// of the page's backing buffer. The segment's own header supplies its
// length, so the table only needs to record where it starts.
func (p *Page) GetSegment(index int) (*segment.Segment, error) {
	n := p.SegmentCount()
	if index < 0 || index >= n {
		return nil, pmterrors.NewCorruptError("GetSegment", "segment index out of range", nil).
			WithPageIndex(p.PageIndex())
	}

	off, err := p.getTableEntry(index)
	if err != nil {
		return nil, err
	}
	if off == segEntryFree {
		return nil, pmterrors.NewCorruptError("GetSegment", "segment slot is unallocated", nil).
			WithPageIndex(p.PageIndex())
	}

	seg := segment.New(p.buf[off:])
	length := int(seg.Length())
	if length <= 0 || off+length > len(p.buf) {
		return nil, pmterrors.NewCorruptError("GetSegment", "segment length out of range", nil).
			WithPageIndex(p.PageIndex())
	}
	return segment.New(p.buf[off : off+length]), nil
}

// AllocSegment finds room for a segment of sizeClass bytes: first by
// reusing any deleted slot whose old footprint is big enough, otherwise
// by carving a fresh slab off the free-space watermark. Fails with
// ErrorCodeOverflow ("PageOverflow", §4.C) if neither is available.
func (p *Page) AllocSegment(sizeClass int) (int, *segment.Segment, error) {
	n := p.SegmentCount()

	for i := 0; i < n; i++ {
		off, err := p.getTableEntry(i)
		if err != nil {
			return 0, nil, err
		}
		if off == segEntryFree {
			continue
		}
		seg := segment.New(p.buf[off:])
		if !seg.IsDeleted() {
			continue
		}
		if int(seg.Length()) < sizeClass {
			continue
		}
		span := p.buf[off : off+int(seg.Length())]
		fresh := segment.Init(span, segment.UnallocatedAddr, segment.UnallocatedAddr)
		return i, fresh, nil
	}

	free := p.FreeSpace() - p.tableFloor(n) - segTableWidth
	if free < sizeClass {
		return 0, nil, pmterrors.NewOverflowError("", "Page.AllocSegment", sizeClass, free).
			WithPageIndex(p.PageIndex())
	}

	newFree := p.FreeSpace() - sizeClass
	span := p.buf[newFree : newFree+sizeClass]
	seg := segment.Init(span, segment.UnallocatedAddr, segment.UnallocatedAddr)

	if err := p.setTableEntry(n, newFree); err != nil {
		return 0, nil, err
	}
	p.setSegmentCount(n + 1)
	p.setFreeSpace(newFree)

	return n, seg, nil
}

// DeleteSegment marks the segment at index deleted. Its space is not
// reclaimed — it becomes a candidate AllocSegment will reuse for a
// same-or-smaller size class. Pages are never compacted or rewritten to
// recover it.
func (p *Page) DeleteSegment(index int) error {
	seg, err := p.GetSegment(index)
	if err != nil {
		return err
	}
	seg.MarkDeleted()
	return nil
}

// TransplantSegment copies every record from srcPage's segment at
// srcIndex into a freshly allocated segment of newSizeClass on p (which
// may be srcPage itself, or a different page with more room), then marks
// the source slot deleted. Returns the new segment's intra-page index.
func (p *Page) TransplantSegment(srcPage *Page, srcIndex int, newSizeClass int) (int, error) {
	src, err := srcPage.GetSegment(srcIndex)
	if err != nil {
		return 0, err
	}

	newIndex, dst, err := p.AllocSegment(newSizeClass)
	if err != nil {
		return 0, err
	}

	if err := src.ExtendTo(dst); err != nil {
		return 0, err
	}

	if err := srcPage.DeleteSegment(srcIndex); err != nil {
		return 0, err
	}

	return newIndex, nil
}
