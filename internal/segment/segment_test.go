package segment_test

import (
	"fmt"
	"testing"

	"github.com/iamNilotpal/pmt/internal/segment"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newEmpty(size int) *segment.Segment {
	return segment.Init(make([]byte, size), segment.UnallocatedAddr, segment.UnallocatedAddr)
}

func TestInsertLookupRoundTrip(t *testing.T) {
	s := newEmpty(1024)

	keys := []string{"c03", "c01", "c09", "c00", "c05"}
	for _, k := range keys {
		_, err := s.Insert(k, []byte("payload-"+k))
		require.NoError(t, err)
	}

	for _, k := range keys {
		payload, ok, err := s.Lookup(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "payload-"+k, string(payload))
	}

	children, err := s.Children()
	require.NoError(t, err)
	require.Len(t, children, len(keys))
	for i := 1; i < len(children); i++ {
		require.Less(t, children[i-1].Key, children[i].Key)
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	s := newEmpty(1024)
	_, err := s.Insert("a", []byte("1"))
	require.NoError(t, err)

	_, err = s.Insert("a", []byte("2"))
	require.Error(t, err)
	se, ok := pmterrors.AsSchemaError(err)
	require.True(t, ok)
	require.Equal(t, pmterrors.ErrorCodeDuplicate, se.Code())
}

func TestInsertOverflow(t *testing.T) {
	s := newEmpty(64)
	for i := 0; i < 100; i++ {
		_, err := s.Insert(fmt.Sprintf("k%03d", i), []byte("0123456789"))
		if err != nil {
			se, ok := pmterrors.AsSchemaError(err)
			require.True(t, ok)
			require.Equal(t, pmterrors.ErrorCodeOverflow, se.Code())
			return
		}
	}
	t.Fatal("expected overflow before 100 inserts into a 64-byte segment")
}

func TestUpdateInPlaceAndGrowth(t *testing.T) {
	s := newEmpty(1024)
	_, err := s.Insert("k", []byte("short"))
	require.NoError(t, err)

	_, err = s.Update("k", []byte("sh"))
	require.NoError(t, err)
	payload, ok, err := s.Lookup("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sh", string(payload))

	_, err = s.Update("k", []byte("a much longer replacement payload"))
	require.NoError(t, err)
	payload, ok, err = s.Lookup("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a much longer replacement payload", string(payload))
}

func TestUpdateNotFound(t *testing.T) {
	s := newEmpty(1024)
	_, err := s.Update("missing", []byte("x"))
	require.Error(t, err)
	se, ok := pmterrors.AsSchemaError(err)
	require.True(t, ok)
	require.Equal(t, pmterrors.ErrorCodeNotFound, se.Code())
}

func TestDeleteThenCompact(t *testing.T) {
	s := newEmpty(1024)
	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := s.Insert(k, []byte(k+k+k))
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete("b"))
	_, ok, err := s.Lookup("b")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Compact())
	children, err := s.Children()
	require.NoError(t, err)
	require.Len(t, children, 3)
	require.Equal(t, []string{"a", "c", "d"}, []string{children[0].Key, children[1].Key, children[2].Key})
}

func TestDeleteNotFound(t *testing.T) {
	s := newEmpty(1024)
	err := s.Delete("nope")
	require.Error(t, err)
}

// TestSplitConservation checks §8's Split conservation property:
// contents(S') ∪ contents(T) = contents(S) ∪ {(k,r)}, disjoint, and every
// key in S' <= every key in T.
func TestSplitConservation(t *testing.T) {
	s := newEmpty(1024)
	original := map[string]string{}
	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("m%02d", i)
		v := fmt.Sprintf("v%02d", i)
		_, err := s.Insert(k, []byte(v))
		require.NoError(t, err)
		original[k] = v
	}

	target := newEmpty(1024)
	incomingKey, incomingPayload := "m99", []byte("new")
	moved, err := s.Split(incomingKey, incomingPayload, true, target, false)
	require.NoError(t, err)
	require.NotEmpty(t, moved)

	left, err := s.Children()
	require.NoError(t, err)
	right, err := target.Children()
	require.NoError(t, err)

	union := map[string]string{}
	for _, kv := range left {
		union[kv.Key] = string(kv.Payload)
	}
	for _, kv := range right {
		_, dup := union[kv.Key]
		require.False(t, dup, "key %s present in both halves", kv.Key)
		union[kv.Key] = string(kv.Payload)
	}

	expected := map[string]string{}
	for k, v := range original {
		expected[k] = v
	}
	expected[incomingKey] = string(incomingPayload)
	require.Equal(t, expected, union)

	if len(left) > 0 && len(right) > 0 {
		require.LessOrEqual(t, left[len(left)-1].Key, right[0].Key)
	}
	require.Equal(t, right[0].Key, moved)
}

func TestSplitInclineBiasesAscendingInserts(t *testing.T) {
	s := newEmpty(16320)
	for i := 0; i < 400; i++ {
		_, err := s.Insert(fmt.Sprintf("k%04d", i), make([]byte, 20))
		require.NoError(t, err)
	}

	target := newEmpty(16320)
	_, err := s.Split("k0400", make([]byte, 20), true, target, true)
	require.NoError(t, err)

	leftCount := s.RecordCount()
	rightCount := target.RecordCount()
	// ascending run should bias the split so the growing (right) side
	// keeps more free room than a naive even split would leave it, i.e.
	// the left side ends up holding more records.
	require.Greater(t, int(leftCount), int(rightCount))
}

func TestExtendToShiftsOffsets(t *testing.T) {
	s := newEmpty(1024)
	for _, k := range []string{"a", "b", "c"} {
		_, err := s.Insert(k, []byte(k+"-payload"))
		require.NoError(t, err)
	}

	bigger := segment.Init(make([]byte, 2048), s.PrevAddr(), s.NextAddr())
	require.NoError(t, s.ExtendTo(bigger))

	children, err := bigger.Children()
	require.NoError(t, err)
	require.Len(t, children, 3)
	for _, kv := range children {
		require.Equal(t, string(kv.Key[0])+"-payload", string(kv.Payload))
	}
}

func TestExtendToRejectsSmallerBuffer(t *testing.T) {
	s := newEmpty(2048)
	smaller := segment.Init(make([]byte, 1024), segment.UnallocatedAddr, segment.UnallocatedAddr)
	err := s.ExtendTo(smaller)
	require.Error(t, err)
}

func TestChainLinksAfterSplit(t *testing.T) {
	s := newEmpty(1024)
	for i := 0; i < 10; i++ {
		_, err := s.Insert(fmt.Sprintf("k%02d", i), []byte("v"))
		require.NoError(t, err)
	}
	s.SetNextAddr(777)

	target := newEmpty(1024)
	_, err := s.Split("k10", []byte("v"), true, target, false)
	require.NoError(t, err)

	require.Equal(t, int64(777), target.NextAddr())
	require.Equal(t, segment.UnallocatedAddr, target.PrevAddr())
	require.Equal(t, segment.UnallocatedAddr, s.NextAddr())
}
