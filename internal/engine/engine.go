// Package engine orchestrates the three core subsystems of the store: a
// NodeLock (internal/nodelock) acquired per visited node during
// traversal, a CacheCoordinator (internal/cache) tracking which nodes
// are resident, and a SchemaFile (internal/schemafile) persisting the
// tree to its single paged file. Engine is the thing a tree traversal
// actually talks to; none of its three collaborators know about each
// other directly.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamNilotpal/pmt/internal/cache"
	"github.com/iamNilotpal/pmt/internal/node"
	"github.com/iamNilotpal/pmt/internal/nodelock"
	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/iamNilotpal/pmt/internal/schemafile"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
	"github.com/iamNilotpal/pmt/pkg/options"
)

// ErrEngineClosed is returned when attempting to perform operations on a
// closed engine.
var ErrEngineClosed = pmterrors.NewSchemaError(nil, pmterrors.ErrorCodeInternal, "operation failed: cannot access closed engine")

// Config holds all the parameters needed to initialize a new Engine.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Engine is the orchestrator every tree operation goes through. It owns
// the node lock table (lazily attached, returned to the pool once idle —
// §4.E "a node lazily attaches a lock on first use, and detaches it
// when is_free() and returns it to the pool"), wires the cache
// coordinator's flush driver to the schema file, and bootstraps the
// synthetic root node whose children live at segment address (0, 0).
type Engine struct {
	options *options.Options
	logger  *zap.SugaredLogger
	closed  atomic.Bool

	schemaFile *schemafile.SchemaFile
	cache      *cache.Coordinator
	lockPool   *nodelock.Pool
	rootID     node.Id

	locksMu sync.Mutex
	locks   map[node.Id]*lockEntry
}

// lockEntry pairs a checked-out *nodelock.Lock with a reference count, so
// the lock table never hands the same node's lock back to the pool while
// a second caller on the same id is still mid-acquire — only when the
// last reference drops and the lock reports idle is it safe to recycle.
type lockEntry struct {
	lock *nodelock.Lock
	refs int
}

// New initializes a new Engine: opens the schema file, wires a fresh
// cache coordinator over it, and bootstraps the root node. The root owns
// no on-disk record of its own — its children live directly at
// schemafile.RootSegmentAddress (§3) — so it is pinned into
// residency for the engine's entire lifetime rather than tracked through
// the ordinary read-from-disk/evict lifecycle.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Options == nil {
		return nil, pmterrors.NewRequiredFieldError("Options")
	}
	opts := cfg.Options
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	logger.Infow("starting pmt engine", "filePath", opts.FilePath)

	sf, err := schemafile.Open(ctx, &schemafile.Config{
		Path:              opts.FilePath,
		PageCacheCapacity: opts.PageCacheCapacity,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	arena := node.NewArena(opts.NodeCacheCapacity)
	coordinator := cache.New(cache.Config{
		Arena:    arena,
		Writer:   sf,
		Capacity: opts.NodeCacheCapacity,
		Logger:   logger,
	})

	root := &node.Node{
		Name:    sf.RootName(),
		Kind:    record.KindInternal,
		Payload: record.InternalPayload{SubtreeAddr: schemafile.RootSegmentAddress},
		Parent:  node.NoParent,
	}
	rootID := coordinator.ReadFromDisk(node.NoParent, root)
	coordinator.Pin(rootID)

	e := &Engine{
		options:    opts,
		logger:     logger,
		schemaFile: sf,
		cache:      coordinator,
		lockPool:   nodelock.NewPool(opts.LockPoolCapacity),
		rootID:     rootID,
		locks:      make(map[node.Id]*lockEntry),
	}

	logger.Infow("pmt engine ready", "filePath", opts.FilePath, "lockPoolCapacity", opts.LockPoolCapacity)
	return e, nil
}

// acquireLock returns id's lock, attaching one from the pool on first
// use, and bumps its reference count so releaseLock won't recycle it out
// from under a concurrent holder.
func (e *Engine) acquireLock(id node.Id) *nodelock.Lock {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	ent, ok := e.locks[id]
	if !ok {
		ent = &lockEntry{lock: e.lockPool.Get()}
		e.locks[id] = ent
	}
	ent.refs++
	return ent.lock
}

// releaseLock drops one reference on id's lock; once nobody else holds a
// reference and the lock itself reports idle, it is detached from id and
// returned to the pool (§4.E "Lock pool").
func (e *Engine) releaseLock(id node.Id) {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	ent, ok := e.locks[id]
	if !ok {
		return
	}
	ent.refs--
	if ent.refs == 0 && ent.lock.IsFree() {
		delete(e.locks, id)
		e.lockPool.Put(ent.lock)
	}
}

// resolveChild looks up name among parentID's children: first among
// already-resident children, then — if parentID owns a subtree and the
// name isn't resident — via the schema file. A hit loaded from disk is
// attached to the cache as parentID's child so the next lookup finds it
// resident. Caller must already hold parentID's lock (read or write).
func (e *Engine) resolveChild(parentID node.Id, name string) (node.Id, error) {
	parent, ok := e.cache.Node(parentID)
	if !ok {
		return 0, pmterrors.NewCorruptError("resolveChild", "parent node evicted mid-traversal", nil).
			WithKey(name)
	}

	for _, childID := range parent.Children() {
		if child, ok := e.cache.Node(childID); ok && child.Name == name {
			e.cache.ReadFromMemory(childID)
			return childID, nil
		}
	}

	subtreeAddr, hasSubtree := record.SubtreeAddr(parent.Payload)
	if !hasSubtree || subtreeAddr == record.UnallocatedAddr {
		return 0, pmterrors.NewNotFoundError(name, "Lookup")
	}

	payload, found, err := e.schemaFile.ReadChild(subtreeAddr, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, pmterrors.NewNotFoundError(name, "Lookup")
	}

	child := &node.Node{Name: name, Kind: payload.Kind(), Payload: payload}
	return e.cache.ReadFromDisk(parentID, child), nil
}

// lookupChild resolves name under parentID using a stamped optimistic
// read first, falling back to a thread-held read only if a concurrent
// writer invalidated the stamp while resolveChild ran (§4.E
// "Stamped (optimistic) read... on invalidation, falls back to a
// thread-held read"). The thread-held fallback uses prior=true: by the
// time a caller is resolving a child under parentID, parentID is already
// an ancestor step of the traversal, exactly the "hot ancestor" case
// §4.E carves the starvation bypass out for.
func (e *Engine) lookupChild(parentID node.Id, name string) (node.Id, error) {
	lock := e.acquireLock(parentID)
	defer e.releaseLock(parentID)

	stamp := lock.StampedRead()
	id, err := e.resolveChild(parentID, name)
	if lock.ValidateStamp(stamp) {
		return id, err
	}

	lock.RLock(true)
	id, err = e.resolveChild(parentID, name)
	lock.RUnlock()
	return id, err
}

// traverse walks path from the root, one NodeLock-guarded hop per name,
// and returns the id of the node the full path resolves to.
func (e *Engine) traverse(path []string) (node.Id, error) {
	current := e.rootID
	for _, name := range path {
		id, err := e.lookupChild(current, name)
		if err != nil {
			return 0, err
		}
		current = id
	}
	return current, nil
}

func lastSegment(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

// Get resolves path to its node, loading any unresident ancestors from
// the schema file along the way. An empty path returns the root node.
func (e *Engine) Get(path []string) (*node.Node, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	id, err := e.traverse(path)
	if err != nil {
		return nil, err
	}
	n, ok := e.cache.Node(id)
	if !ok {
		return nil, pmterrors.NewNotFoundError(lastSegment(path), "Get")
	}
	return n, nil
}

// Put creates or updates the node at path, taking path's last element as
// the new node's name and the rest as the parent path. The parent's
// writer lock serializes this against every other mutation of the
// parent's children (§5 "all mutations on a given node's children
// are totally ordered by the writer lock on that node").
func (e *Engine) Put(path []string, kind record.Kind, payload record.Payload) (node.Id, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	if len(path) == 0 {
		return 0, pmterrors.NewRequiredFieldError("path")
	}

	parentID, err := e.traverse(path[:len(path)-1])
	if err != nil {
		return 0, err
	}
	name := path[len(path)-1]

	lock := e.acquireLock(parentID)
	defer e.releaseLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	existingID, err := e.resolveChild(parentID, name)
	if err == nil {
		existing, ok := e.cache.Node(existingID)
		if !ok {
			return 0, pmterrors.NewCorruptError("Put", "resident child vanished mid-update", nil).WithKey(name)
		}
		// A caller updating a node's own attributes passes a fresh payload
		// that knows nothing about a subtree segment this node may already
		// own; carry the existing address forward rather than orphaning
		// every child already written under it.
		if oldAddr, hadSubtree := record.SubtreeAddr(existing.Payload); hadSubtree {
			if newAddr, hasSubtree := record.SubtreeAddr(payload); hasSubtree && newAddr == record.UnallocatedAddr {
				payload = record.WithSubtreeAddr(payload, oldAddr)
			}
		}
		existing.Kind = kind
		existing.Payload = payload
		e.cache.Update(existingID)
		e.logger.Infow("updated node", "name", name, "kind", kind.String())
		return existingID, nil
	}
	if se, ok := pmterrors.AsSchemaError(err); !ok || se.Code() != pmterrors.ErrorCodeNotFound {
		return 0, err
	}

	child := &node.Node{Name: name, Kind: kind, Payload: payload}
	id := e.cache.AppendChild(parentID, child)
	e.logger.Infow("created node", "name", name, "kind", kind.String())

	if e.cache.ResidentCount() > e.options.NodeCacheCapacity {
		if evicted := e.cache.MaintainCapacity(); evicted > 0 {
			e.logger.Infow("evicted subtrees to maintain capacity", "count", evicted)
		}
	}
	return id, nil
}

// Delete removes the node at path: its record from the parent's on-disk
// segment chain (§4.D "delete"), and its resident subtree from the
// cache. A child that was appended but never flushed has no on-disk
// record yet — DeleteChild's NotFound is expected and not an error in
// that case.
func (e *Engine) Delete(path []string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if len(path) == 0 {
		return pmterrors.NewRequiredFieldError("path")
	}

	parentID, err := e.traverse(path[:len(path)-1])
	if err != nil {
		return err
	}
	name := path[len(path)-1]

	lock := e.acquireLock(parentID)
	defer e.releaseLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	childID, err := e.resolveChild(parentID, name)
	if err != nil {
		return err
	}

	parent, ok := e.cache.Node(parentID)
	if !ok {
		return pmterrors.NewCorruptError("Delete", "parent node evicted mid-delete", nil).WithKey(name)
	}
	if subtreeAddr, hasSubtree := record.SubtreeAddr(parent.Payload); hasSubtree && subtreeAddr != record.UnallocatedAddr {
		if derr := e.schemaFile.DeleteChild(subtreeAddr, name); derr != nil {
			if se, ok := pmterrors.AsSchemaError(derr); !ok || se.Code() != pmterrors.ErrorCodeNotFound {
				return derr
			}
		}
	}

	e.cache.Remove(childID)
	e.logger.Infow("deleted node", "name", name)
	return nil
}

// Children lists the names of path's immediate children, merging
// already-resident (possibly still-volatile, not yet flushed) entries
// with whatever the schema file's segment chain holds on disk.
func (e *Engine) Children(path []string) ([]string, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	parentID, err := e.traverse(path)
	if err != nil {
		return nil, err
	}

	lock := e.acquireLock(parentID)
	defer e.releaseLock(parentID)
	lock.RLock(true)
	defer lock.RUnlock()

	parent, ok := e.cache.Node(parentID)
	if !ok {
		return nil, pmterrors.NewCorruptError("Children", "node evicted mid-read", nil)
	}

	seen := make(map[string]struct{}, len(parent.Children()))
	names := make([]string, 0, len(parent.Children()))
	for _, childID := range parent.Children() {
		if child, ok := e.cache.Node(childID); ok {
			seen[child.Name] = struct{}{}
			names = append(names, child.Name)
		}
	}

	subtreeAddr, hasSubtree := record.SubtreeAddr(parent.Payload)
	if !hasSubtree || subtreeAddr == record.UnallocatedAddr {
		return names, nil
	}

	it, err := e.schemaFile.Children(subtreeAddr)
	if err != nil {
		return nil, err
	}
	for {
		name, _, ok := it.Next()
		if !ok {
			break
		}
		if _, already := seen[name]; !already {
			names = append(names, name)
		}
	}
	return names, nil
}

// Flush drives the cache coordinator's flush algorithm, persisting every
// volatile subtree through the schema file, then forces dirty page
// buffers to disk.
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if err := e.cache.Flush(); err != nil {
		return err
	}
	return e.schemaFile.Flush()
}

// Stat reports combined introspection counters from the schema file and
// the cache coordinator.
type Stat struct {
	Schema schemafile.Stat
	Cache  cache.Stat
}

// Stat returns the engine's current introspection counters.
func (e *Engine) Stat() Stat {
	return Stat{Schema: e.schemaFile.Stat(), Cache: e.cache.Stat()}
}

// Close flushes every volatile subtree and dirty page, then releases the
// schema file's handle. A second Close does nothing and returns
// ErrEngineClosed; the close-once guard is the same atomic.Bool CAS
// pattern schemafile.SchemaFile uses (whose second Close returns nil).
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	e.logger.Infow("closing pmt engine")

	var errs error
	if err := e.cache.Flush(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := e.schemaFile.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		e.logger.Errorw("pmt engine closed with errors", "error", errs)
	} else {
		e.logger.Infow("pmt engine closed")
	}
	return errs
}
