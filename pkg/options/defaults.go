package options

const (
	// DefaultPageCacheCapacity is the default number of 16 KiB page
	// buffers the SchemaFile keeps resident.
	DefaultPageCacheCapacity = 48

	// MinPageCacheCapacity is the smallest page cache capacity accepted;
	// below this the root page alone would starve the LRU.
	MinPageCacheCapacity = 2

	// DefaultNodeCacheCapacity is the default number of resident tree
	// nodes the cache coordinator allows before evicting cold entries,
	// sized to a working set a few orders of magnitude larger than the
	// expected number of actively-traversed paths.
	DefaultNodeCacheCapacity = 10000

	// MinNodeCacheCapacity is the smallest node cache capacity accepted.
	MinNodeCacheCapacity = 16

	// DefaultLockPoolCapacity is the default number of idle NodeLock
	// objects recycled by the pool.
	DefaultLockPoolCapacity = 400
)

// defaultOptions holds the default configuration settings for a PMT
// engine instance, with the exception of FilePath which has no sensible
// default and must always be supplied by the caller.
var defaultOptions = Options{
	PageCacheCapacity: DefaultPageCacheCapacity,
	NodeCacheCapacity: DefaultNodeCacheCapacity,
	LockPoolCapacity:  DefaultLockPoolCapacity,
}

// NewDefaultOptions returns a copy of the default configuration.
func NewDefaultOptions() Options {
	return defaultOptions
}
