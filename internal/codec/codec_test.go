package codec_test

import (
	"testing"

	"github.com/iamNilotpal/pmt/internal/codec"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestIntegerRoundTrip(t *testing.T) {
	buf := make([]byte, 32)

	require.NoError(t, codec.WriteUint16(buf, 0, 0xBEEF))
	v16, err := codec.ReadUint16(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), v16)

	require.NoError(t, codec.WriteUint32(buf, 2, 0xCAFEBABE))
	v32, err := codec.ReadUint32(buf, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(0xCAFEBABE), v32)

	require.NoError(t, codec.WriteInt64(buf, 8, -123456789))
	v64, err := codec.ReadInt64(buf, 8)
	require.NoError(t, err)
	require.Equal(t, int64(-123456789), v64)
}

func TestReadBoundsChecked(t *testing.T) {
	buf := make([]byte, 4)

	_, err := codec.ReadUint64(buf, 0)
	require.Error(t, err)
	require.True(t, pmterrors.IsSchemaError(err))
}

func TestStringRoundTrip(t *testing.T) {
	buf := make([]byte, 64)

	next, err := codec.WriteString(buf, 0, "measurement01", true)
	require.NoError(t, err)
	require.Equal(t, 4+len("measurement01"), next)

	s, next2, ok, err := codec.ReadString(buf, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "measurement01", s)
	require.Equal(t, next, next2)
}

func TestStringAbsent(t *testing.T) {
	buf := make([]byte, 16)

	next, err := codec.WriteString(buf, 0, "", false)
	require.NoError(t, err)
	require.Equal(t, 4, next)

	s, _, ok, err := codec.ReadString(buf, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "", s)
}

func TestStringTruncatedIsCorrupt(t *testing.T) {
	buf := make([]byte, 8)
	require.NoError(t, codec.WriteUint32(buf, 0, 100))

	_, _, _, err := codec.ReadString(buf, 0)
	require.Error(t, err)
}
