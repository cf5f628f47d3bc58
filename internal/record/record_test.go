package record_test

import (
	"testing"

	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/stretchr/testify/require"
)

func TestDatabaseRoundTrip(t *testing.T) {
	p := record.DatabasePayload{SubtreeAddr: 4242, TTL: 86400000}
	buf, err := record.Encode(p)
	require.NoError(t, err)

	decoded, err := record.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, record.KindDatabase, decoded.Kind())
	require.Equal(t, p, decoded)
}

func TestInternalRoundTrip(t *testing.T) {
	p := record.InternalPayload{SubtreeAddr: record.UnallocatedAddr}
	buf, err := record.Encode(p)
	require.NoError(t, err)

	decoded, err := record.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestDeviceRoundTrip(t *testing.T) {
	p := record.DevicePayload{SubtreeAddr: 99, Aligned: true}
	buf, err := record.Encode(p)
	require.NoError(t, err)

	decoded, err := record.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestMeasurementRoundTripWithAlias(t *testing.T) {
	p := record.MeasurementPayload{
		HasAlias:    true,
		Alias:       "temp",
		DataType:    3,
		Encoding:    1,
		Compression: 2,
	}
	buf, err := record.Encode(p)
	require.NoError(t, err)
	require.Equal(t, record.EncodedSize(p), len(buf))

	decoded, err := record.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestMeasurementRoundTripNoAlias(t *testing.T) {
	p := record.MeasurementPayload{DataType: 0, Encoding: 0, Compression: 0}
	buf, err := record.Encode(p)
	require.NoError(t, err)

	decoded, err := record.Decode(buf)
	require.NoError(t, err)
	m := decoded.(record.MeasurementPayload)
	require.False(t, m.HasAlias)
	require.Equal(t, "", m.Alias)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := record.Decode([]byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
}

func TestDecodeRejectsEmptyBuffer(t *testing.T) {
	_, err := record.Decode(nil)
	require.Error(t, err)
}

func TestSubtreeAddrGetSet(t *testing.T) {
	p := record.InternalPayload{SubtreeAddr: record.UnallocatedAddr}
	addr, ok := record.SubtreeAddr(p)
	require.True(t, ok)
	require.Equal(t, record.UnallocatedAddr, addr)

	updated := record.WithSubtreeAddr(p, 99)
	addr, ok = record.SubtreeAddr(updated)
	require.True(t, ok)
	require.Equal(t, int64(99), addr)
}

func TestSubtreeAddrAbsentForMeasurement(t *testing.T) {
	_, ok := record.SubtreeAddr(record.MeasurementPayload{})
	require.False(t, ok)
}
