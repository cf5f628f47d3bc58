// Package pmt is the public entry point for the Persistent Metadata Tree
// storage engine. It wraps internal/engine behind a small instance type:
// construct with NewInstance, drive the tree with Put/Get/Delete/
// Children, and Close when done.
package pmt

import (
	"context"

	"github.com/iamNilotpal/pmt/internal/engine"
	"github.com/iamNilotpal/pmt/internal/node"
	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/iamNilotpal/pmt/pkg/logger"
	"github.com/iamNilotpal/pmt/pkg/options"
)

// Instance is the primary entry point for interacting with the PMT
// store. It encapsulates the engine responsible for tree traversal and
// persistence, and the configuration options this instance was opened
// with.
type Instance struct {
	engine  *engine.Engine
	options *options.Options
}

// NewInstance opens (or creates) the paged file at the configured path
// and returns a ready-to-use Instance. service names the logger this
// instance writes through.
func NewInstance(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	resolved := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}

	eng, err := engine.New(ctx, &engine.Config{Options: &resolved, Logger: log})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &resolved}, nil
}

// Get resolves path to its node. An empty path returns the tree root.
// path is a sequence of child names from the root downward, e.g.
// []string{"telemetry", "fleet-7", "engine-temp"}.
func (i *Instance) Get(path []string) (*node.Node, error) {
	return i.engine.Get(path)
}

// Children lists the immediate child names of the node at path.
func (i *Instance) Children(path []string) ([]string, error) {
	return i.engine.Children(path)
}

// PutDatabase creates or updates a database node at path.
func (i *Instance) PutDatabase(path []string, ttlMillis int64) (node.Id, error) {
	return i.engine.Put(path, record.KindDatabase, record.DatabasePayload{
		SubtreeAddr: record.UnallocatedAddr, TTL: ttlMillis,
	})
}

// PutInternal creates or updates a plain internal (non-device) path node
// at path.
func (i *Instance) PutInternal(path []string) (node.Id, error) {
	return i.engine.Put(path, record.KindInternal, record.InternalPayload{
		SubtreeAddr: record.UnallocatedAddr,
	})
}

// PutDevice creates or updates a device node at path.
func (i *Instance) PutDevice(path []string, aligned bool) (node.Id, error) {
	return i.engine.Put(path, record.KindDevice, record.DevicePayload{
		SubtreeAddr: record.UnallocatedAddr, Aligned: aligned,
	})
}

// PutMeasurement creates or updates a leaf measurement node at path.
func (i *Instance) PutMeasurement(path []string, dataType, encoding, compression uint8, alias string) (node.Id, error) {
	return i.engine.Put(path, record.KindMeasurement, record.MeasurementPayload{
		HasAlias: alias != "", Alias: alias,
		DataType: dataType, Encoding: encoding, Compression: compression,
	})
}

// Delete removes the node at path, along with its resident subtree.
func (i *Instance) Delete(path []string) error {
	return i.engine.Delete(path)
}

// Flush persists every volatile subtree and dirty page buffer to disk
// without closing the instance.
func (i *Instance) Flush() error {
	return i.engine.Flush()
}

// Stat reports introspection counters for the underlying schema file and
// cache coordinator.
func (i *Instance) Stat() engine.Stat {
	return i.engine.Stat()
}

// Options returns the resolved configuration this instance was opened
// with.
func (i *Instance) Options() *options.Options {
	return i.options
}

// Close gracefully shuts down the instance, flushing pending writes and
// releasing the underlying file handle.
func (i *Instance) Close() error {
	return i.engine.Close()
}
