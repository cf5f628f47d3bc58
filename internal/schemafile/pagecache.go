package schemafile

import (
	"container/list"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamNilotpal/pmt/internal/page"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

// pageOffset computes a page's byte position in the file: the 256-byte
// file header, then pageIndex 16 KiB slabs.
func pageOffset(pageIndex uint64) int64 {
	return int64(FileHeaderSize) + int64(pageIndex)*int64(page.Size)
}

// cachedPage is one page cache slot: the page view, its LRU membership
// (nil for the pinned root page, which never sits in the LRU), refcount
// of in-flight borrowers, and dirty bit.
type cachedPage struct {
	pg       *page.Page
	elem     *list.Element
	refcount int
	dirty    bool
	pinned   bool
}

// pageCache is the bounded LRU of page buffers SchemaFile reads and
// writes through (§4.D "a bounded LRU of ~48 page buffers... The
// root page is pinned").
type pageCache struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	capacity int
	logger   *zap.SugaredLogger

	entries map[uint64]*cachedPage
	lru     *list.List // back = least recently used; root page (pinned) is never a member
}

func newPageCache(file *os.File, path string, capacity int, logger *zap.SugaredLogger) *pageCache {
	return &pageCache{
		file:     file,
		path:     path,
		capacity: capacity,
		logger:   logger,
		entries:  make(map[uint64]*cachedPage),
		lru:      list.New(),
	}
}

// acquire returns the page at pageIndex, loading it from disk on a miss,
// and increments its refcount. Callers must call release once they are
// done borrowing the returned view (§5 "Segment views borrow from
// page buffers; they must be released before the buffer may be evicted").
func (c *pageCache) acquire(pageIndex uint64) (*page.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ce, ok := c.entries[pageIndex]; ok {
		ce.refcount++
		if ce.elem != nil {
			c.lru.MoveToFront(ce.elem)
		}
		return ce.pg, nil
	}

	buf := make([]byte, page.Size)
	if _, err := c.file.ReadAt(buf, pageOffset(pageIndex)); err != nil {
		return nil, pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to read page").
			WithPath(c.path).WithOffset(int(pageOffset(pageIndex))).WithDetail("pageIndex", pageIndex)
	}

	ce := &cachedPage{pg: page.New(buf), refcount: 1}
	c.insertLocked(pageIndex, ce)
	if err := c.evictLocked(); err != nil {
		return nil, err
	}
	return ce.pg, nil
}

// allocatePage installs a brand-new, zero-filled page at pageIndex —
// used both for the very first root page and for every page grown by the
// write path when no existing page has room.
func (c *pageCache) allocatePage(pageIndex uint64) (*page.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]byte, page.Size)
	pg := page.Init(buf, pageIndex)
	ce := &cachedPage{pg: pg, refcount: 1, dirty: true}
	c.insertLocked(pageIndex, ce)
	if err := c.evictLocked(); err != nil {
		return nil, err
	}
	return pg, nil
}

func (c *pageCache) insertLocked(pageIndex uint64, ce *cachedPage) {
	if pageIndex == 0 {
		ce.pinned = true
	} else {
		ce.elem = c.lru.PushFront(pageIndex)
	}
	c.entries[pageIndex] = ce
}

// release decrements pageIndex's refcount.
func (c *pageCache) release(pageIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ce, ok := c.entries[pageIndex]; ok && ce.refcount > 0 {
		ce.refcount--
	}
}

// markDirty flags pageIndex for write-back on the next flush or eviction.
func (c *pageCache) markDirty(pageIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ce, ok := c.entries[pageIndex]; ok {
		ce.dirty = true
	}
}

// evictLocked drops least-recently-used, unborrowed, unpinned pages
// (flushing them first if dirty) until the cache is back at or under
// capacity. Caller must hold c.mu. A page with refcount > 0 or the pinned
// root is never a candidate, so evictLocked may legitimately leave the
// cache over capacity under heavy concurrent use — it makes best effort,
// it does not block.
func (c *pageCache) evictLocked() error {
	for len(c.entries) > c.capacity {
		var victim *list.Element
		for el := c.lru.Back(); el != nil; el = el.Prev() {
			idx := el.Value.(uint64)
			if ce := c.entries[idx]; ce.refcount == 0 {
				victim = el
				break
			}
		}
		if victim == nil {
			c.logger.Warnw("page cache over capacity with nothing evictable",
				"cached", len(c.entries), "capacity", c.capacity)
			return nil
		}

		idx := victim.Value.(uint64)
		ce := c.entries[idx]
		if ce.dirty {
			if err := c.flushOneLocked(idx, ce); err != nil {
				return err
			}
		}
		c.lru.Remove(victim)
		delete(c.entries, idx)
	}
	return nil
}

func (c *pageCache) flushOneLocked(pageIndex uint64, ce *cachedPage) error {
	if _, err := c.file.WriteAt(ce.pg.Buf(), pageOffset(pageIndex)); err != nil {
		return pmterrors.NewStorageError(err, pmterrors.ErrorCodeIO, "failed to write page").
			WithPath(c.path).WithOffset(int(pageOffset(pageIndex))).WithDetail("pageIndex", pageIndex)
	}
	ce.dirty = false
	return nil
}

// flushAll writes back every dirty page, aggregating every failure via
// multierr rather than stopping at the first so no failing page is
// silently dropped from the report.
func (c *pageCache) flushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	for idx, ce := range c.entries {
		if ce.dirty {
			if err := c.flushOneLocked(idx, ce); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// counts reports how many pages are currently cached and how many of
// those are dirty, for Stat.
func (c *pageCache) counts() (cached, dirty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ce := range c.entries {
		cached++
		if ce.dirty {
			dirty++
		}
	}
	return cached, dirty
}
