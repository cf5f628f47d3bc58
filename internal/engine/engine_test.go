package engine_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pmt/internal/engine"
	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/iamNilotpal/pmt/pkg/options"
)

func openEngine(t *testing.T) *engine.Engine {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.FilePath = filepath.Join(t.TempDir(), "pmt.schema")

	e, err := engine.New(context.Background(), &engine.Config{Options: &opts})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestPutThenGetAcrossLevels(t *testing.T) {
	e := openEngine(t)

	_, err := e.Put([]string{"telemetry"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)

	_, err = e.Put([]string{"telemetry", "fleet-7"}, record.KindDevice, record.DevicePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)

	_, err = e.Put([]string{"telemetry", "fleet-7", "engine-temp"}, record.KindMeasurement, record.MeasurementPayload{DataType: 1})
	require.NoError(t, err)

	n, err := e.Get([]string{"telemetry", "fleet-7", "engine-temp"})
	require.NoError(t, err)
	require.Equal(t, record.KindMeasurement, n.Kind)

	_, err = e.Get([]string{"telemetry", "fleet-7", "missing"})
	require.Error(t, err)
}

func TestPutUpdatePreservesSubtreeAddress(t *testing.T) {
	e := openEngine(t)

	_, err := e.Put([]string{"db"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)
	_, err = e.Put([]string{"db", "dev"}, record.KindDevice, record.DevicePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)
	_, err = e.Put([]string{"db", "dev", "m0"}, record.KindMeasurement, record.MeasurementPayload{DataType: 1})
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	// Re-save "db" with a different TTL — its subtree address must survive
	// even though this payload starts out with UnallocatedAddr.
	_, err = e.Put([]string{"db"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr, TTL: 5000})
	require.NoError(t, err)

	n, err := e.Get([]string{"db", "dev", "m0"})
	require.NoError(t, err)
	require.Equal(t, record.KindMeasurement, n.Kind)
}

func TestDeleteRemovesChildAfterFlush(t *testing.T) {
	e := openEngine(t)

	_, err := e.Put([]string{"db"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)
	_, err = e.Put([]string{"db", "dev"}, record.KindDevice, record.DevicePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)
	require.NoError(t, e.Flush())

	require.NoError(t, e.Delete([]string{"db", "dev"}))

	_, err = e.Get([]string{"db", "dev"})
	require.Error(t, err)
}

func TestDeleteRemovesNeverFlushedChild(t *testing.T) {
	e := openEngine(t)

	_, err := e.Put([]string{"db"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)
	_, err = e.Put([]string{"db", "dev"}, record.KindDevice, record.DevicePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)

	// dev was never flushed — DeleteChild against the schema file will
	// report NotFound, which Delete must tolerate rather than surface.
	require.NoError(t, e.Delete([]string{"db", "dev"}))
	_, err = e.Get([]string{"db", "dev"})
	require.Error(t, err)
}

func TestChildrenMergesResidentAndFlushed(t *testing.T) {
	e := openEngine(t)

	_, err := e.Put([]string{"db"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := e.Put([]string{"db", fmt.Sprintf("dev-%d", i)}, record.KindDevice, record.DevicePayload{SubtreeAddr: record.UnallocatedAddr})
		require.NoError(t, err)
	}
	require.NoError(t, e.Flush())

	_, err = e.Put([]string{"db", "dev-3"}, record.KindDevice, record.DevicePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)

	names, err := e.Children([]string{"db"})
	require.NoError(t, err)
	require.Len(t, names, 4)
}

func TestFlushAndReopenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pmt.schema")
	opts := options.NewDefaultOptions()
	opts.FilePath = path

	e, err := engine.New(context.Background(), &engine.Config{Options: &opts})
	require.NoError(t, err)

	_, err = e.Put([]string{"db"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)
	_, err = e.Put([]string{"db", "dev"}, record.KindDevice, record.DevicePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)
	_, err = e.Put([]string{"db", "dev", "m0"}, record.KindMeasurement, record.MeasurementPayload{DataType: 3, HasAlias: true, Alias: "temp-c"})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := engine.New(context.Background(), &engine.Config{Options: &opts})
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Get([]string{"db", "dev", "m0"})
	require.NoError(t, err)
	m := n.Payload.(record.MeasurementPayload)
	require.Equal(t, "temp-c", m.Alias)
}

func TestStatReportsResidentAndPageCounts(t *testing.T) {
	e := openEngine(t)

	_, err := e.Put([]string{"db"}, record.KindDatabase, record.DatabasePayload{SubtreeAddr: record.UnallocatedAddr})
	require.NoError(t, err)

	stat := e.Stat()
	require.GreaterOrEqual(t, stat.Schema.PageCount, 1)
	require.GreaterOrEqual(t, stat.Cache.Resident, 2) // root + db
}
