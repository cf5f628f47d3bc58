package schemafile_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pmt/internal/node"
	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/iamNilotpal/pmt/internal/schemafile"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

func openSchemaFile(t *testing.T) *schemafile.SchemaFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pmt.schema")
	sf, err := schemafile.Open(context.Background(), &schemafile.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sf.Close() })
	return sf
}

func deviceNode(id node.Id, name string) *node.Node {
	return &node.Node{Id: id, Name: name, Kind: record.KindDevice, Payload: record.DevicePayload{SubtreeAddr: record.UnallocatedAddr}}
}

func measurementNode(id node.Id, name string) *node.Node {
	return &node.Node{Id: id, Name: name, Kind: record.KindMeasurement, Payload: record.MeasurementPayload{DataType: 1}}
}

func TestWriteThenReadSmallTree(t *testing.T) {
	sf := openSchemaFile(t)

	root := &node.Node{Id: 0, Name: "root", Kind: record.KindInternal, Payload: record.InternalPayload{SubtreeAddr: schemafile.RootSegmentAddress}}
	children := []*node.Node{deviceNode(1, "sensor-a"), deviceNode(2, "sensor-b")}

	require.NoError(t, sf.WriteNode(root, children))

	got, ok, err := sf.ReadChild(schemafile.RootSegmentAddress, "sensor-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.KindDevice, got.Kind())

	_, ok, err = sf.ReadChild(schemafile.RootSegmentAddress, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteNodeAllocatesSubtreeOnFirstFlush(t *testing.T) {
	sf := openSchemaFile(t)

	device := deviceNode(1, "device-1")
	measurements := []*node.Node{measurementNode(2, "temp"), measurementNode(3, "humidity")}

	require.NoError(t, sf.WriteNode(device, measurements))

	payload := device.Payload.(record.DevicePayload)
	require.NotEqual(t, record.UnallocatedAddr, payload.SubtreeAddr)

	got, ok, err := sf.ReadChild(payload.SubtreeAddr, "humidity")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.KindMeasurement, got.Kind())
}

func TestWriteNodeUpdatesExistingChild(t *testing.T) {
	sf := openSchemaFile(t)

	device := deviceNode(1, "device-1")
	child := measurementNode(2, "temp")

	require.NoError(t, sf.WriteNode(device, []*node.Node{child}))

	child.Payload = record.MeasurementPayload{DataType: 9, HasAlias: true, Alias: "updated"}
	require.NoError(t, sf.WriteNode(device, []*node.Node{child}))

	payload := device.Payload.(record.DevicePayload)
	got, ok, err := sf.ReadChild(payload.SubtreeAddr, "temp")
	require.NoError(t, err)
	require.True(t, ok)
	m := got.(record.MeasurementPayload)
	require.Equal(t, uint8(9), m.DataType)
	require.Equal(t, "updated", m.Alias)
}

func TestWriteNodeGrowsSegmentViaTransplant(t *testing.T) {
	sf := openSchemaFile(t)

	// A first flush with a single child sizes the subtree segment at the
	// smallest size class (1024 B). Flushing far more children afterward,
	// into that already-allocated segment, forces real overflow growth —
	// EstimateSegmentSize only ever sizes a subtree's very first segment.
	device := deviceNode(1, "device-1")
	require.NoError(t, sf.WriteNode(device, []*node.Node{measurementNode(2, "metric-00")}))

	var more []*node.Node
	for i := 1; i < 60; i++ {
		more = append(more, measurementNode(node.Id(i+2), fmt.Sprintf("metric-%02d", i)))
	}
	require.NoError(t, sf.WriteNode(device, more))

	payload := device.Payload.(record.DevicePayload)
	for i := 0; i < 60; i++ {
		_, ok, err := sf.ReadChild(payload.SubtreeAddr, fmt.Sprintf("metric-%02d", i))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestWriteNodeChainsOnOverflow(t *testing.T) {
	sf := openSchemaFile(t)

	device := deviceNode(1, "device-1")
	alias := make([]byte, 40)
	for i := range alias {
		alias[i] = 'x'
	}

	var children []*node.Node
	for i := 0; i < 500; i++ {
		children = append(children, &node.Node{
			Id:   node.Id(i + 2),
			Name: fmt.Sprintf("metric-%04d", i),
			Kind: record.KindMeasurement,
			Payload: record.MeasurementPayload{
				HasAlias: true, Alias: string(alias), DataType: 1,
			},
		})
	}

	require.NoError(t, sf.WriteNode(device, children))

	payload := device.Payload.(record.DevicePayload)
	it, err := sf.Children(payload.SubtreeAddr)
	require.NoError(t, err)

	count := 0
	for {
		_, _, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 500, count)
}

func TestDeleteChildRemovesRecord(t *testing.T) {
	sf := openSchemaFile(t)

	device := deviceNode(1, "device-1")
	children := []*node.Node{measurementNode(2, "temp"), measurementNode(3, "humidity")}
	require.NoError(t, sf.WriteNode(device, children))

	payload := device.Payload.(record.DevicePayload)
	require.NoError(t, sf.DeleteChild(payload.SubtreeAddr, "temp"))

	_, ok, err := sf.ReadChild(payload.SubtreeAddr, "temp")
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, sf.DeleteChild(payload.SubtreeAddr, "temp"))
}

func TestFlushAndReopenRecoversRootName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pmt.schema")

	sf, err := schemafile.Open(context.Background(), &schemafile.Config{Path: path})
	require.NoError(t, err)
	sf.SetRootName("/data")
	require.NoError(t, sf.Close())

	reopened, err := schemafile.Open(context.Background(), &schemafile.Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, "/data", reopened.RootName())
}

func TestEstimateSegmentSizeBreakpoints(t *testing.T) {
	require.Equal(t, 1024, schemafile.EstimateSegmentSize(10, 8, 0))
	require.Equal(t, 2048, schemafile.EstimateSegmentSize(40, 8, 0))
	require.Equal(t, 4096, schemafile.EstimateSegmentSize(75, 8, 0))
	require.Equal(t, 8192, schemafile.EstimateSegmentSize(150, 8, 0))
	require.Equal(t, 16320, schemafile.EstimateSegmentSize(300, 8, 12))
}

func TestWriteNodeRejectsColossalRecord(t *testing.T) {
	sf := openSchemaFile(t)

	device := deviceNode(1, "device-1")
	huge := &node.Node{
		Id:   2,
		Name: "metric-huge",
		Kind: record.KindMeasurement,
		Payload: record.MeasurementPayload{
			HasAlias: true, Alias: strings.Repeat("x", 20000), DataType: 1,
		},
	}

	err := sf.WriteNode(device, []*node.Node{huge})
	require.Error(t, err)
	se, ok := pmterrors.AsSchemaError(err)
	require.True(t, ok)
	require.Equal(t, pmterrors.ErrorCodeColossal, se.Code())
}

func TestStatReportsPageAndCacheCounts(t *testing.T) {
	sf := openSchemaFile(t)

	stat := sf.Stat()
	require.Equal(t, 1, stat.PageCount)

	device := deviceNode(1, "device-1")
	require.NoError(t, sf.WriteNode(device, []*node.Node{measurementNode(2, "temp")}))

	stat = sf.Stat()
	require.GreaterOrEqual(t, stat.PageCount, 2)
	require.GreaterOrEqual(t, stat.CachedPages, 1)
}
