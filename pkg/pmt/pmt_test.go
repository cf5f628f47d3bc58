package pmt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pmt/pkg/options"
	"github.com/iamNilotpal/pmt/pkg/pmt"
)

func openInstance(t *testing.T) *pmt.Instance {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pmt.schema")
	inst, err := pmt.NewInstance(context.Background(), "pmt-test", options.WithFilePath(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func TestInstanceBuildsAndReadsTree(t *testing.T) {
	inst := openInstance(t)

	_, err := inst.PutDatabase([]string{"metrics"}, 0)
	require.NoError(t, err)

	_, err = inst.PutDevice([]string{"metrics", "sensor-a"}, true)
	require.NoError(t, err)

	_, err = inst.PutMeasurement([]string{"metrics", "sensor-a", "humidity"}, 2, 0, 0, "rh")
	require.NoError(t, err)

	n, err := inst.Get([]string{"metrics", "sensor-a", "humidity"})
	require.NoError(t, err)
	require.Equal(t, "humidity", n.Name)

	names, err := inst.Children([]string{"metrics"})
	require.NoError(t, err)
	require.Equal(t, []string{"sensor-a"}, names)

	require.NoError(t, inst.Delete([]string{"metrics", "sensor-a"}))
	_, err = inst.Get([]string{"metrics", "sensor-a"})
	require.Error(t, err)
}

func TestInstanceOptionsReflectOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmt.schema")
	inst, err := pmt.NewInstance(context.Background(), "pmt-test", options.WithFilePath(path), options.WithPageCacheCapacity(64))
	require.NoError(t, err)
	defer inst.Close()

	require.Equal(t, 64, inst.Options().PageCacheCapacity)
}
