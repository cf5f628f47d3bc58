// Package segment implements the Segment (§3/§4.B): an ordered
// key→record store packed into a fixed byte span. A Segment is a thin,
// stateless-on-disk view over a []byte it does not own — the owning Page
// (internal/page) hands it a sub-slice of its 16 KiB buffer. Everything a
// Segment does is pure byte manipulation through internal/codec; it knows
// nothing about pages, files, or the tree above it. Records themselves
// carry no stored length (§6: a record is just key_len, key_bytes,
// payload) — the offset table entry that locates a record also carries
// its total byte footprint, so a generic Segment that never interprets
// payload bytes can still find where one record ends and the next
// begins.
package segment

import (
	"sort"

	"github.com/iamNilotpal/pmt/internal/codec"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

// HeaderSize is the fixed 25-byte segment header (§6).
const HeaderSize = 25

const (
	offLength            = 0  // i16
	offFreeAddr          = 2  // i16
	offRecordCount       = 4  // i16
	offOffsetTableBytes  = 6  // i16
	offPrevSegAddr       = 8  // i64
	offNextSegAddr       = 16 // i64
	offFlags             = 24 // u8
	offsetTableStart     = HeaderSize

	// offsetEntryWidth is one offset-table slot: a u16 record start
	// offset followed by a u16 total record footprint (key_len field +
	// key bytes + payload bytes). The footprint rides in the index
	// rather than inline in the record itself, since the record body's
	// own wire format stores no length for its payload.
	offsetEntryWidth       = 4
	offsetEntryLenRelative = 2

	flagDeleted  uint8 = 1 << 7
	flagHasAlias uint8 = 1 << 6
)

// SizeClasses is the growth ladder a segment escalates through before
// falling back to chaining (§4.C "Size-class growth").
var SizeClasses = [...]int{1024, 2048, 4096, 8192, 16320}

// MaxSegmentSize is the largest size class; only segments at this size
// may be chained via prev/next (§3 "prev/next chain forms a doubly
// linked list of maximum-size (≤16320) segments only").
const MaxSegmentSize = 16320

// UnallocatedAddr is the sentinel segment address / prev/next value
// meaning "no segment" (§4.D "address < 0 means unallocated").
const UnallocatedAddr int64 = -1

// NextSizeClass returns the smallest size class strictly larger than
// current, and false if current is already at or above MaxSegmentSize.
func NextSizeClass(current int) (int, bool) {
	for _, c := range SizeClasses {
		if c > current {
			return c, true
		}
	}
	return 0, false
}

// KV is one (key, payload) pair as returned by Children/Lookup.
type KV struct {
	Key     string
	Payload []byte
}

// Segment is a view over a caller-owned byte buffer laid out as the
// header, offset table, and record area described in §3.
type Segment struct {
	buf []byte

	// penu/last track the two most recently inserted keys, the
	// "monotonic insert" hint (§4.B step 4) that Split's incline bias
	// reads. They are runtime-only: not persisted, reset whenever a new
	// Segment view is constructed over a buffer.
	penu, last   string
	hintCount    int
}

// New wraps an existing, already-initialized segment buffer — the case
// when a Page hands back a segment it already allocated on a previous
// open.
func New(buf []byte) *Segment {
	return &Segment{buf: buf}
}

// Init formats buf as a brand-new, empty segment spanning its full
// length, linked into the chain via prevAddr/nextAddr (UnallocatedAddr for
// either end).
func Init(buf []byte, prevAddr, nextAddr int64) *Segment {
	s := &Segment{buf: buf}
	s.setLength(int16(len(buf)))
	s.setFreeAddr(int16(len(buf)))
	s.setRecordCount(0)
	s.setOffsetTableBytes(0)
	s.setPrevAddr(prevAddr)
	s.setNextAddr(nextAddr)
	s.setFlags(0)
	return s
}

// Buf returns the segment's backing byte span.
func (s *Segment) Buf() []byte { return s.buf }

func (s *Segment) Length() int16 {
	v, _ := codec.ReadInt16(s.buf, offLength)
	return v
}

func (s *Segment) setLength(v int16) { _ = codec.WriteInt16(s.buf, offLength, v) }

func (s *Segment) FreeAddr() int16 {
	v, _ := codec.ReadInt16(s.buf, offFreeAddr)
	return v
}

func (s *Segment) setFreeAddr(v int16) { _ = codec.WriteInt16(s.buf, offFreeAddr, v) }

func (s *Segment) RecordCount() int16 {
	v, _ := codec.ReadInt16(s.buf, offRecordCount)
	return v
}

func (s *Segment) setRecordCount(v int16) { _ = codec.WriteInt16(s.buf, offRecordCount, v) }

func (s *Segment) OffsetTableBytes() int16 {
	v, _ := codec.ReadInt16(s.buf, offOffsetTableBytes)
	return v
}

func (s *Segment) setOffsetTableBytes(v int16) {
	_ = codec.WriteInt16(s.buf, offOffsetTableBytes, v)
}

func (s *Segment) PrevAddr() int64 {
	v, _ := codec.ReadInt64(s.buf, offPrevSegAddr)
	return v
}

func (s *Segment) SetPrevAddr(v int64) { _ = codec.WriteInt64(s.buf, offPrevSegAddr, v) }

func (s *Segment) NextAddr() int64 {
	v, _ := codec.ReadInt64(s.buf, offNextSegAddr)
	return v
}

func (s *Segment) SetNextAddr(v int64) { _ = codec.WriteInt64(s.buf, offNextSegAddr, v) }

func (s *Segment) setPrevAddr(v int64) { _ = codec.WriteInt64(s.buf, offPrevSegAddr, v) }
func (s *Segment) setNextAddr(v int64) { _ = codec.WriteInt64(s.buf, offNextSegAddr, v) }

func (s *Segment) Flags() uint8 {
	v, _ := codec.ReadUint8(s.buf, offFlags)
	return v
}

func (s *Segment) setFlags(v uint8) { _ = codec.WriteUint8(s.buf, offFlags, v) }

// IsDeleted reports the deleted bit. This bit never transitions back to
// false once set.
func (s *Segment) IsDeleted() bool { return s.Flags()&flagDeleted != 0 }

// MarkDeleted sets the deleted bit. There is deliberately no corresponding
// "unmark" — see IsDeleted.
func (s *Segment) MarkDeleted() { s.setFlags(s.Flags() | flagDeleted) }

// HasAlias reports the segment's has-alias flag bit, as set by
// SetHasAlias (Split copies it to the new segment). Insert and Update do
// not change it.
func (s *Segment) HasAlias() bool { return s.Flags()&flagHasAlias != 0 }

// SetHasAlias sets or clears the has-alias bit.
func (s *Segment) SetHasAlias(v bool) {
	if v {
		s.setFlags(s.Flags() | flagHasAlias)
	} else {
		s.setFlags(s.Flags() &^ flagHasAlias)
	}
}

func (s *Segment) offsetEntryAddr(i int) int {
	return offsetTableStart + i*offsetEntryWidth
}

func (s *Segment) getOffsetEntry(i int) (int, error) {
	v, err := codec.ReadUint16LE(s.buf, s.offsetEntryAddr(i))
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (s *Segment) setOffsetEntry(i int, v int) error {
	return codec.WriteUint16LE(s.buf, s.offsetEntryAddr(i), uint16(v))
}

// getRecordLen and setRecordLen read/write the total on-disk footprint
// recorded alongside the i-th offset entry.
func (s *Segment) getRecordLen(i int) (int, error) {
	v, err := codec.ReadUint16LE(s.buf, s.offsetEntryAddr(i)+offsetEntryLenRelative)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (s *Segment) setRecordLen(i int, v int) error {
	return codec.WriteUint16LE(s.buf, s.offsetEntryAddr(i)+offsetEntryLenRelative, uint16(v))
}

// setOffsetEntryPair writes both halves of slot i in one call — the
// common case whenever a record moves or is newly placed.
func (s *Segment) setOffsetEntryPair(i, off, size int) error {
	if err := s.setOffsetEntry(i, off); err != nil {
		return err
	}
	return s.setRecordLen(i, size)
}

// keyAt reads the key of the record the i-th offset table entry points to.
func (s *Segment) keyAt(i int) (string, error) {
	off, err := s.getOffsetEntry(i)
	if err != nil {
		return "", err
	}
	keyLen, err := codec.ReadUint32(s.buf, off)
	if err != nil {
		return "", err
	}
	start := off + 4
	end := start + int(keyLen)
	if end > len(s.buf) {
		return "", pmterrors.NewCorruptError("keyAt", "key runs past segment end", nil)
	}
	return string(s.buf[start:end]), nil
}

// recordAt reads the full (key, payload) pair stored at the i-th offset
// table entry, along with the total on-disk byte length of that record.
// The payload's own end is never parsed out of the record bytes — it
// comes from the footprint recorded alongside the offset, since the
// record itself carries no length for the payload (§6).
func (s *Segment) recordAt(i int) (key string, payload []byte, totalSize int, err error) {
	off, err := s.getOffsetEntry(i)
	if err != nil {
		return "", nil, 0, err
	}
	totalSize, err = s.getRecordLen(i)
	if err != nil {
		return "", nil, 0, err
	}
	end := off + totalSize
	if end > len(s.buf) {
		return "", nil, 0, pmterrors.NewCorruptError("recordAt", "record runs past segment end", nil)
	}

	keyLen, err := codec.ReadUint32(s.buf, off)
	if err != nil {
		return "", nil, 0, err
	}
	keyStart := off + 4
	keyEnd := keyStart + int(keyLen)
	if keyEnd > end {
		return "", nil, 0, pmterrors.NewCorruptError("recordAt", "key runs past record end", nil)
	}
	key = string(s.buf[keyStart:keyEnd])

	return key, s.buf[keyEnd:end], totalSize, nil
}

// recordSize computes the on-disk byte footprint of a (key, payload)
// pair: a 4-byte key length, the key itself, and the payload itself —
// the payload's own length is never stored inline (§6); the offset
// table entry that locates the record also carries this footprint.
func recordSize(key string, payload []byte) int {
	return 4 + len(key) + len(payload)
}

// RecordSize exposes recordSize to callers outside the package (the
// schemafile write path) that need to measure a record's footprint
// before attempting to insert it, without duplicating the formula.
func RecordSize(key string, payload []byte) int {
	return recordSize(key, payload)
}

// MaxRecordSize is the largest (key, payload) footprint that can ever be
// inserted, even into a brand-new, empty, max-size segment. Beyond this,
// no amount of growth — transplant or chain — will ever make room; a
// record this large must be rejected outright rather than sent through
// the growth ladder.
func MaxRecordSize() int {
	return MaxSegmentSize - HeaderSize - offsetEntryWidth
}

// writeRecord writes a (key, payload) pair starting at byte offset off.
func (s *Segment) writeRecord(off int, key string, payload []byte) error {
	if err := codec.WriteUint32(s.buf, off, uint32(len(key))); err != nil {
		return err
	}
	keyStart := off + 4
	copy(s.buf[keyStart:keyStart+len(key)], key)

	payloadStart := keyStart + len(key)
	copy(s.buf[payloadStart:payloadStart+len(payload)], payload)
	return nil
}

// find performs the binary search the public operations share: it returns
// the index a key occupies or would occupy in the offset table. When
// exact is false, idx is the insertion point (0..RecordCount()), not an
// error condition — an absent key is an ordinary negative answer, per
// §9's "binarySearchOnKeys ... a missing key is an ordinary negative
// answer, not an error" (the equivalent of that implementation's -1 exit
// here is simply "exact == false").
func (s *Segment) find(key string) (idx int, exact bool, err error) {
	n := int(s.RecordCount())
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k, kerr := s.keyAt(mid)
		if kerr != nil {
			return 0, false, kerr
		}
		switch {
		case k == key:
			return mid, true, nil
		case k < key:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}

func (s *Segment) freeFloor() int {
	return HeaderSize + int(s.OffsetTableBytes())
}

// shiftOffsetTableInsert makes room for a new entry at idx by moving
// entries [idx, n) one slot to the right.
func (s *Segment) shiftOffsetTableInsert(idx int, n int) error {
	for i := n; i > idx; i-- {
		off, err := s.getOffsetEntry(i - 1)
		if err != nil {
			return err
		}
		size, err := s.getRecordLen(i - 1)
		if err != nil {
			return err
		}
		if err := s.setOffsetEntryPair(i, off, size); err != nil {
			return err
		}
	}
	return nil
}

// shiftOffsetTableDelete closes the gap at idx by moving entries
// (idx, n) one slot to the left.
func (s *Segment) shiftOffsetTableDelete(idx int, n int) error {
	for i := idx; i < n-1; i++ {
		off, err := s.getOffsetEntry(i + 1)
		if err != nil {
			return err
		}
		size, err := s.getRecordLen(i + 1)
		if err != nil {
			return err
		}
		if err := s.setOffsetEntryPair(i, off, size); err != nil {
			return err
		}
	}
	return nil
}

func (s *Segment) recordHint(key string) {
	s.penu = s.last
	s.last = key
	if s.hintCount < 2 {
		s.hintCount++
	}
}

// Insert adds a new (key, payload) entry in key order. Fails with a
// *pmterrors.SchemaError of ErrorCodeDuplicate if key already exists, or
// ErrorCodeOverflow if there is no contiguous free space left.
func (s *Segment) Insert(key string, payload []byte) (int, error) {
	idx, exact, err := s.find(key)
	if err != nil {
		return 0, err
	}
	if exact {
		return 0, pmterrors.NewDuplicateError(key)
	}

	size := recordSize(key, payload)
	free := int(s.FreeAddr()) - s.freeFloor() - offsetEntryWidth
	if free < size {
		return 0, pmterrors.NewOverflowError(key, "Insert", size, free)
	}

	newFree := int(s.FreeAddr()) - size
	if err := s.writeRecord(newFree, key, payload); err != nil {
		return 0, err
	}

	n := int(s.RecordCount())
	if err := s.shiftOffsetTableInsert(idx, n); err != nil {
		return 0, err
	}
	if err := s.setOffsetEntryPair(idx, newFree, size); err != nil {
		return 0, err
	}

	s.setFreeAddr(int16(newFree))
	s.setRecordCount(int16(n + 1))
	s.setOffsetTableBytes(int16((n + 1) * offsetEntryWidth))
	s.recordHint(key)

	return newFree, nil
}

// Lookup returns the payload stored for key, and false if absent. The
// returned slice is a view into the segment's backing buffer, not a copy.
func (s *Segment) Lookup(key string) ([]byte, bool, error) {
	idx, exact, err := s.find(key)
	if err != nil {
		return nil, false, err
	}
	if !exact {
		return nil, false, nil
	}
	_, payload, _, err := s.recordAt(idx)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Update replaces key's payload. If the new payload fits in the old
// record's footprint it is overwritten in place; otherwise Update tries to
// allocate fresh space from the free region, failing with
// ErrorCodeOverflow if that also doesn't fit (the caller then decides to
// re-chain or grow, per §4.B).
func (s *Segment) Update(key string, payload []byte) (int, error) {
	idx, exact, err := s.find(key)
	if err != nil {
		return 0, err
	}
	if !exact {
		return 0, pmterrors.NewNotFoundError(key, "Update")
	}

	oldOff, err := s.getOffsetEntry(idx)
	if err != nil {
		return 0, err
	}
	_, _, oldSize, err := s.recordAt(idx)
	if err != nil {
		return 0, err
	}

	newSize := recordSize(key, payload)
	if newSize <= oldSize {
		if err := s.writeRecord(oldOff, key, payload); err != nil {
			return 0, err
		}
		// The record's footprint can shrink even though its offset
		// doesn't move — without updating the recorded length here,
		// recordAt would keep handing back stale trailing bytes from
		// the old, larger payload.
		if err := s.setRecordLen(idx, newSize); err != nil {
			return 0, err
		}
		return oldOff, nil
	}

	free := int(s.FreeAddr()) - s.freeFloor()
	if free < newSize {
		return 0, pmterrors.NewOverflowError(key, "Update", newSize, free)
	}

	newFree := int(s.FreeAddr()) - newSize
	if err := s.writeRecord(newFree, key, payload); err != nil {
		return 0, err
	}
	if err := s.setOffsetEntryPair(idx, newFree, newSize); err != nil {
		return 0, err
	}
	s.setFreeAddr(int16(newFree))
	return newFree, nil
}

// Delete removes key's offset table entry. The record bytes themselves
// become garbage, reclaimed only by Compact.
func (s *Segment) Delete(key string) error {
	idx, exact, err := s.find(key)
	if err != nil {
		return err
	}
	if !exact {
		return pmterrors.NewNotFoundError(key, "Delete")
	}

	n := int(s.RecordCount())
	if err := s.shiftOffsetTableDelete(idx, n); err != nil {
		return err
	}
	s.setRecordCount(int16(n - 1))
	s.setOffsetTableBytes(int16((n - 1) * offsetEntryWidth))
	return nil
}

// Children returns every (key, payload) pair in key order.
func (s *Segment) Children() ([]KV, error) {
	n := int(s.RecordCount())
	out := make([]KV, 0, n)
	for i := 0; i < n; i++ {
		key, payload, _, err := s.recordAt(i)
		if err != nil {
			return nil, err
		}
		out = append(out, KV{Key: key, Payload: payload})
	}
	return out, nil
}

// Compact rewrites every live record contiguously from the top of the
// buffer downward in key order, recomputing every offset and free_addr.
// Invoked after a split, or when a caller judges spare fragmentation has
// grown past its own threshold.
func (s *Segment) Compact() error {
	entries, err := s.Children()
	if err != nil {
		return err
	}
	return s.rebuildFrom(entries)
}

// rebuildFrom clears the segment's record area and rewrites entries (which
// must already be in ascending key order) from scratch, packed
// contiguously from the top of the buffer downward — exactly the layout a
// sequence of Inserts in that order would produce, without re-running
// find() or disturbing the monotonic-insert hint.
func (s *Segment) rebuildFrom(entries []KV) error {
	n := len(entries)
	free := int(s.Length())
	floor := HeaderSize + n*offsetEntryWidth

	for i, kv := range entries {
		size := recordSize(kv.Key, kv.Payload)
		free -= size
		if free < floor {
			return pmterrors.NewOverflowError(kv.Key, "rebuild", size, free-floor+size)
		}
		if err := s.writeRecord(free, kv.Key, kv.Payload); err != nil {
			return err
		}
		if err := s.setOffsetEntryPair(i, free, size); err != nil {
			return err
		}
	}

	s.setFreeAddr(int16(free))
	s.setRecordCount(int16(n))
	s.setOffsetTableBytes(int16(n * offsetEntryWidth))
	return nil
}

// Split partitions this segment's records — plus, optionally, one incoming
// (key, payload) pair not yet present — between itself and target, an
// already-Init'd empty segment of the caller's choosing. It returns the
// smallest key that moved to target ("" if none did).
//
// incline biases the split point toward the side a run of monotonically
// ascending or descending inserts is growing into, using the last two
// keys Insert recorded (§4.B). The caller is responsible for wiring
// target's real segment address into self's NextAddr, and self's real
// address into target's PrevAddr, once target has been allocated — Split
// only establishes chain *continuation* (target inherits self's old
// next), not addressing, since a Segment has no notion of its own
// address.
func (s *Segment) Split(key string, payload []byte, hasIncoming bool, target *Segment, incline bool) (string, error) {
	existing, err := s.Children()
	if err != nil {
		return "", err
	}

	pos := sort.Search(len(existing), func(i int) bool { return existing[i].Key >= key })

	combined := existing
	if hasIncoming {
		combined = make([]KV, 0, len(existing)+1)
		combined = append(combined, existing[:pos]...)
		combined = append(combined, KV{Key: key, Payload: payload})
		combined = append(combined, existing[pos:]...)
	}

	total := len(combined)
	sp := total / 2

	if incline && hasIncoming && s.hintCount >= 2 {
		ascending := s.penu < s.last && s.last < key
		descending := s.penu > s.last && s.last > key
		switch {
		case ascending:
			sp = max(pos+1, total/2)
		case descending:
			sp = min(pos+2, total/2)
		}
	}

	if sp < 1 {
		sp = 1
	}
	if sp > total {
		sp = total
	}

	left := combined[:sp]
	right := combined[sp:]

	if err := s.rebuildFrom(left); err != nil {
		return "", err
	}
	if err := target.rebuildFrom(right); err != nil {
		return "", err
	}

	// Open Question #1 resolution (§9): the new segment copies the
	// alias flag unchanged and never inherits the deleted flag.
	target.SetHasAlias(s.HasAlias())

	target.SetNextAddr(s.NextAddr())
	target.SetPrevAddr(UnallocatedAddr)
	s.SetNextAddr(UnallocatedAddr)

	if len(right) == 0 {
		return "", nil
	}
	return right[0].Key, nil
}

// ExtendTo copies this segment's contents into larger, a freshly
// allocated, uninitialized-content buffer of a higher size class.
// Record offsets are shifted by the capacity delta so they keep pointing
// at the same end-anchored records in their new, bigger home. Fails with
// ErrorCodeCorrupt if larger is not actually larger.
func (s *Segment) ExtendTo(larger *Segment) error {
	delta := len(larger.buf) - len(s.buf)
	if delta < 0 {
		return pmterrors.NewCorruptError("ExtendTo", "target buffer smaller than source", nil)
	}

	n := int(s.RecordCount())
	for i := 0; i < n; i++ {
		oldOff, err := s.getOffsetEntry(i)
		if err != nil {
			return err
		}
		_, _, size, err := s.recordAt(i)
		if err != nil {
			return err
		}
		newOff := oldOff + delta
		copy(larger.buf[newOff:newOff+size], s.buf[oldOff:oldOff+size])
		if err := larger.setOffsetEntryPair(i, newOff, size); err != nil {
			return err
		}
	}

	larger.setLength(int16(len(larger.buf)))
	larger.setFreeAddr(s.FreeAddr() + int16(delta))
	larger.setRecordCount(int16(n))
	larger.setOffsetTableBytes(s.OffsetTableBytes())
	larger.setPrevAddr(s.PrevAddr())
	larger.setNextAddr(s.NextAddr())
	larger.setFlags(s.Flags())
	return nil
}
