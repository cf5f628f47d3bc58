// Package record implements the logical Record (§3): the payload a
// Segment stores against a child's name. A Record is a tagged variant over
// the four tree node kinds — Database, Internal, Device, Measurement — each
// with its own fixed or variable payload shape (§9 "a tagged variant ...
// beats subclass hierarchies and preserves exhaustive match"). Encoding
// goes through internal/codec; nothing here knows about pages, segments,
// or files.
package record

import (
	"github.com/iamNilotpal/pmt/internal/codec"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

// Kind tags which of the four node variants a Payload carries.
type Kind uint8

const (
	KindDatabase Kind = iota
	KindInternal
	KindDevice
	KindMeasurement
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "Database"
	case KindInternal:
		return "Internal"
	case KindDevice:
		return "Device"
	case KindMeasurement:
		return "Measurement"
	default:
		return "Unknown"
	}
}

// UnallocatedAddr is the sentinel subtree_address value meaning "this node
// has no subtree segment yet" (§3: "a new (never-flushed) node has
// subtree_address = None until its first flush pre-allocates one").
const UnallocatedAddr int64 = -1

// Payload is the sealed set of per-kind record bodies. A type switch over
// the concrete types below is the exhaustive match the tagged variant is
// meant to support.
type Payload interface {
	Kind() Kind
	encode(buf []byte, off int) (int, error)
	encodedSize() int
}

// DatabasePayload is the payload for a Database node: the root of one
// database's own subtree, plus its retention policy.
type DatabasePayload struct {
	SubtreeAddr int64
	TTL         int64 // retention in milliseconds; 0 means unset/infinite.
}

func (DatabasePayload) Kind() Kind { return KindDatabase }

func (p DatabasePayload) encodedSize() int { return 1 + 8 + 8 }

func (p DatabasePayload) encode(buf []byte, off int) (int, error) {
	off, err := writeKind(buf, off, KindDatabase)
	if err != nil {
		return 0, err
	}
	if err := codec.WriteInt64(buf, off, p.SubtreeAddr); err != nil {
		return 0, err
	}
	off += 8
	if err := codec.WriteInt64(buf, off, p.TTL); err != nil {
		return 0, err
	}
	return off + 8, nil
}

// InternalPayload is the payload for a plain internal (non-device) path
// node: nothing but the address of its children's segment. Fixed-size,
// like DevicePayload.
type InternalPayload struct {
	SubtreeAddr int64
}

func (InternalPayload) Kind() Kind { return KindInternal }

func (p InternalPayload) encodedSize() int { return 1 + 8 }

func (p InternalPayload) encode(buf []byte, off int) (int, error) {
	off, err := writeKind(buf, off, KindInternal)
	if err != nil {
		return 0, err
	}
	if err := codec.WriteInt64(buf, off, p.SubtreeAddr); err != nil {
		return 0, err
	}
	return off + 8, nil
}

// DevicePayload is the payload for a device node: children's segment
// address plus whether the device is aligned (all measurements share one
// timestamp column).
type DevicePayload struct {
	SubtreeAddr int64
	Aligned     bool
}

func (DevicePayload) Kind() Kind { return KindDevice }

func (p DevicePayload) encodedSize() int { return 1 + 8 + 1 }

func (p DevicePayload) encode(buf []byte, off int) (int, error) {
	off, err := writeKind(buf, off, KindDevice)
	if err != nil {
		return 0, err
	}
	if err := codec.WriteInt64(buf, off, p.SubtreeAddr); err != nil {
		return 0, err
	}
	off += 8
	flag := uint8(0)
	if p.Aligned {
		flag = 1
	}
	if err := codec.WriteUint8(buf, off, flag); err != nil {
		return 0, err
	}
	return off + 1, nil
}

// MeasurementPayload is the payload for a leaf measurement node. It has no
// subtree address (measurements have no children) and is variable-length
// because of the optional alias string, unlike the fixed-width
// internal/device payloads.
type MeasurementPayload struct {
	HasAlias    bool
	Alias       string
	DataType    uint8
	Encoding    uint8
	Compression uint8
}

func (MeasurementPayload) Kind() Kind { return KindMeasurement }

func (p MeasurementPayload) encodedSize() int {
	size := 1 + 4 + 1 + 1 + 1 // kind + string length prefix + dataType + encoding + compression
	if p.HasAlias {
		size += len(p.Alias)
	}
	return size
}

func (p MeasurementPayload) encode(buf []byte, off int) (int, error) {
	off, err := writeKind(buf, off, KindMeasurement)
	if err != nil {
		return 0, err
	}
	off, err = codec.WriteString(buf, off, p.Alias, p.HasAlias)
	if err != nil {
		return 0, err
	}
	for _, b := range []uint8{p.DataType, p.Encoding, p.Compression} {
		if err := codec.WriteUint8(buf, off, b); err != nil {
			return 0, err
		}
		off++
	}
	return off, nil
}

func writeKind(buf []byte, off int, k Kind) (int, error) {
	if err := codec.WriteUint8(buf, off, uint8(k)); err != nil {
		return 0, err
	}
	return off + 1, nil
}

// Record pairs a child's name with its payload — the logical form a
// Segment's insert/lookup/update/children operations exchange with
// callers. The on-segment byte form (§3/§6) is (key_length,
// key_bytes, payload_bytes); Segment itself only ever sees the encoded
// payload bytes, since the key is carried as a separate argument.
type Record struct {
	Key     string
	Payload Payload
}

// Encode serializes a Payload into its on-segment byte form, suitable as
// the "record bytes" argument to Segment.Insert/Update.
func Encode(p Payload) ([]byte, error) {
	buf := make([]byte, p.encodedSize())
	n, err := p.encode(buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Decode parses the on-segment byte form of a payload back into its
// concrete, kind-tagged type. Returns *pmterrors.SchemaError with
// ErrorCodeCorrupt if buf is truncated or carries an unrecognised kind
// byte.
func Decode(buf []byte) (Payload, error) {
	if len(buf) < 1 {
		return nil, pmterrors.NewCorruptError("Decode", "empty payload", nil)
	}

	kindByte, err := codec.ReadUint8(buf, 0)
	if err != nil {
		return nil, err
	}

	switch Kind(kindByte) {
	case KindDatabase:
		subtreeAddr, err := codec.ReadInt64(buf, 1)
		if err != nil {
			return nil, err
		}
		ttl, err := codec.ReadInt64(buf, 9)
		if err != nil {
			return nil, err
		}
		return DatabasePayload{SubtreeAddr: subtreeAddr, TTL: ttl}, nil

	case KindInternal:
		subtreeAddr, err := codec.ReadInt64(buf, 1)
		if err != nil {
			return nil, err
		}
		return InternalPayload{SubtreeAddr: subtreeAddr}, nil

	case KindDevice:
		subtreeAddr, err := codec.ReadInt64(buf, 1)
		if err != nil {
			return nil, err
		}
		alignedByte, err := codec.ReadUint8(buf, 9)
		if err != nil {
			return nil, err
		}
		return DevicePayload{SubtreeAddr: subtreeAddr, Aligned: alignedByte != 0}, nil

	case KindMeasurement:
		alias, next, hasAlias, err := codec.ReadString(buf, 1)
		if err != nil {
			return nil, err
		}
		dataType, err := codec.ReadUint8(buf, next)
		if err != nil {
			return nil, err
		}
		encoding, err := codec.ReadUint8(buf, next+1)
		if err != nil {
			return nil, err
		}
		compression, err := codec.ReadUint8(buf, next+2)
		if err != nil {
			return nil, err
		}
		return MeasurementPayload{
			HasAlias:    hasAlias,
			Alias:       alias,
			DataType:    dataType,
			Encoding:    encoding,
			Compression: compression,
		}, nil

	default:
		return nil, pmterrors.NewCorruptError("Decode", "unrecognised record kind byte", nil).
			WithDetail("kindByte", kindByte)
	}
}

// EncodedSize reports how many bytes Encode(p) will produce, without
// allocating — used by callers estimating whether an update fits in place.
func EncodedSize(p Payload) int { return p.encodedSize() }

// SubtreeAddr returns the packed segment address of p's children, and
// false for kinds that never own one (Measurement, the only leaf kind).
func SubtreeAddr(p Payload) (int64, bool) {
	switch v := p.(type) {
	case DatabasePayload:
		return v.SubtreeAddr, true
	case InternalPayload:
		return v.SubtreeAddr, true
	case DevicePayload:
		return v.SubtreeAddr, true
	default:
		return UnallocatedAddr, false
	}
}

// WithSubtreeAddr returns a copy of p with its subtree address set to
// addr. Panics if p's kind has no subtree address — callers must check
// SubtreeAddr's ok result first.
func WithSubtreeAddr(p Payload, addr int64) Payload {
	switch v := p.(type) {
	case DatabasePayload:
		v.SubtreeAddr = addr
		return v
	case InternalPayload:
		v.SubtreeAddr = addr
		return v
	case DevicePayload:
		v.SubtreeAddr = addr
		return v
	default:
		panic("record: WithSubtreeAddr called on a kind with no subtree address")
	}
}
