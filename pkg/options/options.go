// Package options provides data structures and functions for configuring
// the PMT storage engine. It defines the parameters that control the
// engine's resource usage — the paged file's location, how many page
// buffers the SchemaFile is allowed to cache, how many tree nodes the
// cache coordinator keeps resident, and how many NodeLock objects the
// lock pool recycles.
package options

import "strings"

// Options defines the configuration parameters for a PMT engine instance.
// It provides control over the single resource every subsystem is bounded
// by: memory. Every field here corresponds directly to a capacity named in
// the engine's external interface.
type Options struct {
	// FilePath is the path to the single paged file PMT stores the tree
	// in. It is created on first Open if it does not exist.
	//
	// Required — there is no default.
	FilePath string `json:"filePath"`

	// PageCacheCapacity bounds how many 16 KiB page buffers the SchemaFile
	// keeps resident at once. The root page is always pinned and does not
	// count against eviction eligibility.
	//
	// Default: 48
	PageCacheCapacity int `json:"pageCacheCapacity"`

	// NodeCacheCapacity bounds how many tree nodes the cache coordinator
	// keeps resident (cold set + buffer set + pinned set combined) before
	// it starts evicting cold entries.
	//
	// Default: 10000
	NodeCacheCapacity int `json:"nodeCacheCapacity"`

	// LockPoolCapacity bounds how many idle NodeLock objects the pool
	// recycles. Beyond this capacity, locks returned by nodes that go
	// idle are discarded instead of pooled.
	//
	// Default: 400
	LockPoolCapacity int `json:"lockPoolCapacity"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies the predefined set of default configuration
// values to the Options struct, leaving FilePath untouched since it has no
// sensible default.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		opts := NewDefaultOptions()
		o.PageCacheCapacity = opts.PageCacheCapacity
		o.NodeCacheCapacity = opts.NodeCacheCapacity
		o.LockPoolCapacity = opts.LockPoolCapacity
	}
}

// WithFilePath sets the path to the paged schema file.
func WithFilePath(path string) OptionFunc {
	return func(o *Options) {
		path = strings.TrimSpace(path)
		if path != "" {
			o.FilePath = path
		}
	}
}

// WithPageCacheCapacity sets how many page buffers the SchemaFile caches.
func WithPageCacheCapacity(capacity int) OptionFunc {
	return func(o *Options) {
		if capacity >= MinPageCacheCapacity {
			o.PageCacheCapacity = capacity
		}
	}
}

// WithNodeCacheCapacity sets how many resident nodes the cache coordinator
// keeps before evicting cold entries.
func WithNodeCacheCapacity(capacity int) OptionFunc {
	return func(o *Options) {
		if capacity >= MinNodeCacheCapacity {
			o.NodeCacheCapacity = capacity
		}
	}
}

// WithLockPoolCapacity sets how many idle NodeLock objects are recycled.
func WithLockPoolCapacity(capacity int) OptionFunc {
	return func(o *Options) {
		if capacity >= 0 {
			o.LockPoolCapacity = capacity
		}
	}
}
