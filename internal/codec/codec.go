// Package codec provides the bounds-checked, big-endian byte primitives
// every on-disk structure in PMT is built from: the file header, the page
// header, the segment header, the offset table, and records. Nothing in
// this package understands what a page or a segment is — it only knows how
// to get fixed-width integers and length-prefixed strings in and out of a
// byte slice safely.
//
// All multi-byte integers are big-endian (§6: "All integers
// big-endian"). Every Read* function returns a *SchemaError with
// ErrorCodeCorrupt when the supplied slice is too short, never panics.
package codec

import (
	"encoding/binary"

	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

// errShort builds the Corrupt error every bounds check below raises.
func errShort(op string, need, have int) error {
	return pmterrors.NewCorruptError(op, "insufficient bytes", nil).
		WithDetail("need", need).
		WithDetail("have", have)
}

// ReadUint8 reads a single byte from buf at offset off.
func ReadUint8(buf []byte, off int) (uint8, error) {
	if off < 0 || off+1 > len(buf) {
		return 0, errShort("ReadUint8", off+1, len(buf))
	}
	return buf[off], nil
}

// WriteUint8 writes a single byte to buf at offset off.
func WriteUint8(buf []byte, off int, v uint8) error {
	if off < 0 || off+1 > len(buf) {
		return errShort("WriteUint8", off+1, len(buf))
	}
	buf[off] = v
	return nil
}

// ReadUint16 reads a big-endian uint16 from buf at offset off.
func ReadUint16(buf []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(buf) {
		return 0, errShort("ReadUint16", off+2, len(buf))
	}
	return binary.BigEndian.Uint16(buf[off : off+2]), nil
}

// ReadInt16 reads a big-endian int16 from buf at offset off.
func ReadInt16(buf []byte, off int) (int16, error) {
	v, err := ReadUint16(buf, off)
	return int16(v), err
}

// WriteUint16 writes a big-endian uint16 to buf at offset off.
func WriteUint16(buf []byte, off int, v uint16) error {
	if off < 0 || off+2 > len(buf) {
		return errShort("WriteUint16", off+2, len(buf))
	}
	binary.BigEndian.PutUint16(buf[off:off+2], v)
	return nil
}

// WriteInt16 writes a big-endian int16 to buf at offset off.
func WriteInt16(buf []byte, off int, v int16) error {
	return WriteUint16(buf, off, uint16(v))
}

// ReadUint32 reads a big-endian uint32 from buf at offset off.
func ReadUint32(buf []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(buf) {
		return 0, errShort("ReadUint32", off+4, len(buf))
	}
	return binary.BigEndian.Uint32(buf[off : off+4]), nil
}

// ReadInt32 reads a big-endian int32 from buf at offset off.
func ReadInt32(buf []byte, off int) (int32, error) {
	v, err := ReadUint32(buf, off)
	return int32(v), err
}

// WriteUint32 writes a big-endian uint32 to buf at offset off.
func WriteUint32(buf []byte, off int, v uint32) error {
	if off < 0 || off+4 > len(buf) {
		return errShort("WriteUint32", off+4, len(buf))
	}
	binary.BigEndian.PutUint32(buf[off:off+4], v)
	return nil
}

// WriteInt32 writes a big-endian int32 to buf at offset off.
func WriteInt32(buf []byte, off int, v int32) error {
	return WriteUint32(buf, off, uint32(v))
}

// ReadUint64 reads a big-endian uint64 from buf at offset off.
func ReadUint64(buf []byte, off int) (uint64, error) {
	if off < 0 || off+8 > len(buf) {
		return 0, errShort("ReadUint64", off+8, len(buf))
	}
	return binary.BigEndian.Uint64(buf[off : off+8]), nil
}

// ReadInt64 reads a big-endian int64 from buf at offset off.
func ReadInt64(buf []byte, off int) (int64, error) {
	v, err := ReadUint64(buf, off)
	return int64(v), err
}

// WriteUint64 writes a big-endian uint64 to buf at offset off.
func WriteUint64(buf []byte, off int, v uint64) error {
	if off < 0 || off+8 > len(buf) {
		return errShort("WriteUint64", off+8, len(buf))
	}
	binary.BigEndian.PutUint64(buf[off:off+8], v)
	return nil
}

// WriteInt64 writes a big-endian int64 to buf at offset off.
func WriteInt64(buf []byte, off int, v int64) error {
	return WriteUint64(buf, off, uint64(v))
}

// ReadString reads a length-prefixed UTF-8 string from buf at offset off.
// The prefix is a 4-byte field interpreted as a signed int32; a negative
// value means the string is absent (ok=false, no error) rather than
// corrupt — callers that need "no string" as a distinct outcome from
// "zero-length string" rely on this. It returns the byte offset
// immediately following the string so callers can chain reads.
func ReadString(buf []byte, off int) (s string, next int, ok bool, err error) {
	rawLen, err := ReadInt32(buf, off)
	if err != nil {
		return "", 0, false, err
	}
	if rawLen < 0 {
		return "", off + 4, false, nil
	}

	length := int(rawLen)
	start := off + 4
	end := start + length
	if end > len(buf) || end < start {
		return "", 0, false, errShort("ReadString", end, len(buf))
	}

	return string(buf[start:end]), end, true, nil
}

// WriteString writes a length-prefixed UTF-8 string to buf at offset off
// and returns the offset immediately following it. Passing present=false
// writes the "absent" sentinel (-1) instead of the string's bytes.
func WriteString(buf []byte, off int, s string, present bool) (next int, err error) {
	if !present {
		if err := WriteInt32(buf, off, -1); err != nil {
			return 0, err
		}
		return off + 4, nil
	}

	if err := WriteInt32(buf, off, int32(len(s))); err != nil {
		return 0, err
	}

	start := off + 4
	end := start + len(s)
	if end > len(buf) {
		return 0, errShort("WriteString", end, len(buf))
	}
	copy(buf[start:end], s)
	return end, nil
}

// StringSize returns the number of bytes WriteString needs to encode s
// (the 4-byte length prefix plus its contents).
func StringSize(s string) int {
	return 4 + len(s)
}

// ReadUint16LE reads a little-endian uint16 from buf at offset off. Every
// integer in PMT's wire format is big-endian (§6) with one deliberate
// exception: a segment's offset table is specified as little-endian u16
// entries (§3 "Offset table: ... little-endian u16 offsets"). This
// function exists solely for that one field; everything else uses the
// big-endian helpers above.
func ReadUint16LE(buf []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(buf) {
		return 0, errShort("ReadUint16LE", off+2, len(buf))
	}
	return binary.LittleEndian.Uint16(buf[off : off+2]), nil
}

// WriteUint16LE writes a little-endian uint16 to buf at offset off. See
// ReadUint16LE for why this one field breaks from big-endian.
func WriteUint16LE(buf []byte, off int, v uint16) error {
	if off < 0 || off+2 > len(buf) {
		return errShort("WriteUint16LE", off+2, len(buf))
	}
	binary.LittleEndian.PutUint16(buf[off:off+2], v)
	return nil
}
