// Package schemafile implements the SchemaFile (§3/§4.D): the single
// paged file backing the whole tree, a bounded LRU of page buffers in
// front of it, and the write/read/growth paths that turn a tree node's
// children into segment records. It is the component that turns Segment
// (internal/segment) and Page (internal/page) views — which know nothing
// about files — into durable, addressable storage.
//
// The bootstrap shape (Config-driven New, structured Infow/Errorw logging
// at every decision point, atomic.Bool closed-once guard) follows
// internal/storage/storage.go's segment-rotation bootstrap, adapted from
// "many segment files in a directory" to "one paged file with internal
// segment chaining".
package schemafile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/iamNilotpal/pmt/internal/codec"
	"github.com/iamNilotpal/pmt/internal/segment"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
	"github.com/iamNilotpal/pmt/pkg/filesys"
	"github.com/iamNilotpal/pmt/pkg/options"
)

// FileHeaderSize is the fixed 256-byte file header (§6).
const FileHeaderSize = 256

const (
	offLastPageIndex = 0 // u32
	offRootName       = 4 // length-prefixed string
)

// RootSegmentAddress is the packed address of the root's children
// segment — always page 0, segment 0. The root itself owns no on-disk
// record; only its children are stored.
const RootSegmentAddress int64 = 0

var (
	// ErrSchemaFileClosed is returned by every operation attempted
	// against a SchemaFile after Close has completed, the same
	// sentinel-on-closed pattern used throughout this module for
	// every other closeable component.
	ErrSchemaFileClosed = fmt.Errorf("operation failed: schema file is closed")
)

// Config configures Open.
type Config struct {
	Path              string
	PageCacheCapacity int
	Logger            *zap.SugaredLogger
}

// SchemaFile is the paged file plus its page cache.
type SchemaFile struct {
	path   string
	file   *os.File
	logger *zap.SugaredLogger
	closed atomic.Bool

	mu            sync.Mutex // guards the header fields below
	lastPageIndex uint64
	rootName      string
	headerDirty   bool

	cache *pageCache
}

// Stat reports introspection counters, so tests can observe growth/
// eviction behavior from outside the package.
type Stat struct {
	PageCount      int
	CachedPages    int
	DirtyPageCount int
}

// Open opens an existing schema file or creates a fresh one (§4.D
// "open(path): Open or create the file; read header; bring the root page
// into cache").
func Open(ctx context.Context, cfg *Config) (*SchemaFile, error) {
	if cfg == nil || strings.TrimSpace(cfg.Path) == "" {
		return nil, pmterrors.NewRequiredFieldError("Path")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	capacity := cfg.PageCacheCapacity
	if capacity < options.MinPageCacheCapacity {
		capacity = options.DefaultPageCacheCapacity
	}

	logger.Infow("opening schema file", "path", cfg.Path, "pageCacheCapacity", capacity)

	exists, err := filesys.Exists(cfg.Path)
	if err != nil {
		return nil, pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to stat schema file").
			WithPath(cfg.Path)
	}

	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, pmterrors.ClassifyFileOpenError(err, cfg.Path, cfg.Path)
	}

	// Single-writer sanity check: the file handle itself carries no
	// engine-level lock against concurrent in-process I/O, but this
	// guards against the separate, cheaper-to-catch mistake of two
	// *processes* pointing at the same file.
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "schema file is already locked by another process").
			WithPath(cfg.Path)
	}

	sf := &SchemaFile{path: cfg.Path, file: file, logger: logger}
	sf.cache = newPageCache(file, cfg.Path, capacity, logger)

	if !exists {
		logger.Infow("no existing schema file found, bootstrapping fresh", "path", cfg.Path)
		if err := sf.bootstrapFresh(); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		logger.Infow("recovering existing schema file", "path", cfg.Path)
		if err := sf.recoverExisting(); err != nil {
			file.Close()
			return nil, err
		}
	}

	logger.Infow("schema file ready", "path", cfg.Path, "lastPageIndex", sf.lastPageIndex)
	return sf, nil
}

// bootstrapFresh writes a new 256-byte header and a root page (index 0)
// containing one max-size segment for the root's children.
func (sf *SchemaFile) bootstrapFresh() error {
	header := make([]byte, FileHeaderSize)
	if err := codec.WriteUint32(header, offLastPageIndex, 0); err != nil {
		return err
	}
	if _, err := codec.WriteString(header, offRootName, "", false); err != nil {
		return err
	}
	if _, err := sf.file.WriteAt(header, 0); err != nil {
		return pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to write file header").
			WithPath(sf.path)
	}

	sf.lastPageIndex = 0
	root, err := sf.cache.allocatePage(0)
	if err != nil {
		return err
	}
	if _, _, err := root.AllocSegment(segment.MaxSegmentSize); err != nil {
		return err
	}
	sf.cache.markDirty(0)
	return sf.flushHeaderLocked()
}

// recoverExisting reads the file header and brings the root page into
// cache, pinned for the SchemaFile's lifetime.
func (sf *SchemaFile) recoverExisting() error {
	header := make([]byte, FileHeaderSize)
	if _, err := sf.file.ReadAt(header, 0); err != nil {
		return pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to read file header").
			WithPath(sf.path)
	}

	lastPageIndex, err := codec.ReadUint32(header, offLastPageIndex)
	if err != nil {
		return err
	}
	rootName, _, _, err := codec.ReadString(header, offRootName)
	if err != nil {
		return err
	}

	sf.lastPageIndex = uint64(lastPageIndex)
	sf.rootName = rootName

	if _, err := sf.cache.acquire(0); err != nil {
		return err
	}
	return nil
}

func (sf *SchemaFile) flushHeaderLocked() error {
	header := make([]byte, FileHeaderSize)
	if err := codec.WriteUint32(header, offLastPageIndex, uint32(sf.lastPageIndex)); err != nil {
		return err
	}
	if _, err := codec.WriteString(header, offRootName, sf.rootName, sf.rootName != ""); err != nil {
		return err
	}
	if _, err := sf.file.WriteAt(header, 0); err != nil {
		return pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to write file header").
			WithPath(sf.path)
	}
	sf.headerDirty = false
	return nil
}

// RootName returns the configured root path/name recorded in the file
// header (§6 "length-prefixed string root_name").
func (sf *SchemaFile) RootName() string {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.rootName
}

// SetRootName updates the root name recorded in the file header; it is
// written out on the next Flush/Close.
func (sf *SchemaFile) SetRootName(name string) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.rootName = name
	sf.headerDirty = true
}

// Flush forces every dirty page buffer to disk (§4.D "flush()").
func (sf *SchemaFile) Flush() error {
	if sf.closed.Load() {
		return ErrSchemaFileClosed
	}
	return sf.flush()
}

// flush does the actual work, shared by Flush and Close. Close must not
// go through the public Flush — it has already flipped closed to true by
// the time it needs to persist the final state.
func (sf *SchemaFile) flush() error {
	var errs error
	sf.mu.Lock()
	if sf.headerDirty {
		if err := sf.flushHeaderLocked(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	sf.mu.Unlock()

	if err := sf.cache.flushAll(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		sf.logger.Errorw("flush failed", "path", sf.path, "error", errs)
	}
	return errs
}

// Close flushes every dirty page and the header, then releases the file
// handle. Idempotent: a second Close is a no-op, guarded by an
// atomic.Bool CAS close-once flag.
func (sf *SchemaFile) Close() error {
	if !sf.closed.CompareAndSwap(false, true) {
		return nil
	}

	sf.logger.Infow("closing schema file", "path", sf.path)

	var errs error
	if err := sf.flush(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := unix.Flock(int(sf.file.Fd()), unix.LOCK_UN); err != nil {
		errs = multierr.Append(errs, pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to release file lock").
			WithPath(sf.path))
	}
	if err := sf.file.Close(); err != nil {
		errs = multierr.Append(errs, pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to close schema file").
			WithPath(sf.path))
	}

	if errs != nil {
		sf.logger.Errorw("schema file closed with errors", "path", sf.path, "error", errs)
	} else {
		sf.logger.Infow("schema file closed", "path", sf.path)
	}
	return errs
}

// Stat reports the current page/cache counters.
func (sf *SchemaFile) Stat() Stat {
	sf.mu.Lock()
	pageCount := int(sf.lastPageIndex) + 1
	sf.mu.Unlock()

	cached, dirty := sf.cache.counts()
	return Stat{PageCount: pageCount, CachedPages: cached, DirtyPageCount: dirty}
}
