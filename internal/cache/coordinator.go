// Package cache implements the CacheCoordinator: the in-memory tracker
// of which tree nodes are resident, which are "volatile" (dirty, not yet
// persisted), which are pinned, and the eviction/flush algorithms that
// keep the resident set bounded and synchronised with the SchemaFile.
//
// It maintains three disjoint populations of resident nodes — a cold set
// of evictable entries (a sharded LRU, to cut lock contention a single
// map-wide mutex would cause), a buffer set of volatile-subtree roots,
// and an implicit pinned set (pin_count > 0) — and enforces the
// "volatile ⇒ ancestors resident and non-cold" invariant on every
// mutation.
package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pmt/internal/node"
	pmterrors "github.com/iamNilotpal/pmt/pkg/errors"
)

// Writer is the subset of SchemaFile the flush driver needs. Cache never
// imports internal/schemafile directly — the engine wires a concrete
// *schemafile.SchemaFile in, avoiding an import cycle between the two
// collaborating components.
//
// WriteNode persists n's own children — the records filed under n's
// subtree segment, not n's own record (which lives in n.Parent's
// segment and is written when n.Parent itself appears in a write list).
// children is resolved from the arena up front since the Writer has no
// arena access of its own.
type Writer interface {
	WriteNode(n *node.Node, children []*node.Node) error
}

// Config configures a Coordinator.
type Config struct {
	Arena    *node.Arena
	Writer   Writer
	Capacity int // node cache capacity
	Shards   int // cold-set shard count; 0 uses DefaultShards
	Logger   *zap.SugaredLogger
}

// DefaultShards targets roughly a thousand shards; a node's shard is its
// id modulo the shard count.
const DefaultShards = 1024

// Coordinator is the CacheCoordinator.
type Coordinator struct {
	arena    *node.Arena
	writer   Writer
	capacity int
	logger   *zap.SugaredLogger

	cold *coldSet

	mu        sync.Mutex
	bufferSet map[node.Id]struct{}
}

// New creates a Coordinator over an existing node arena.
func New(cfg Config) *Coordinator {
	shards := cfg.Shards
	if shards <= 0 {
		shards = DefaultShards
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Coordinator{
		arena:     cfg.Arena,
		writer:    cfg.Writer,
		capacity:  cfg.Capacity,
		logger:    logger,
		cold:      newColdSet(shards),
		bufferSet: make(map[node.Id]struct{}),
	}
}

// ResidentCount reports how many nodes currently have a cache entry.
func (c *Coordinator) ResidentCount() int { return c.arena.Len() }

// Stat reports the coordinator's population sizes, so tests and
// operators can observe the cold/buffer-set invariants from outside the
// package.
type Stat struct {
	Resident int
	Cold     int
	Buffered int
}

// Stat returns the current population counts.
func (c *Coordinator) Stat() Stat {
	c.mu.Lock()
	buffered := len(c.bufferSet)
	c.mu.Unlock()

	return Stat{Resident: c.arena.Len(), Cold: c.cold.len(), Buffered: buffered}
}

// Node returns the resident node at id, for callers — the engine's
// traversal path — that need to read its fields (name, kind, payload,
// children) rather than just mutate cache-entry state.
func (c *Coordinator) Node(id node.Id) (*node.Node, bool) { return c.arena.Get(id) }

// ReadFromMemory bumps LRU recency for id if it is currently in the cold
// set; a no-op for volatile or pinned nodes, which are never cold.
func (c *Coordinator) ReadFromMemory(id node.Id) {
	c.cold.touch(id)
}

// ReadFromDisk records a node freshly loaded from the SchemaFile as
// resident: attached under parent, and evictable (inserted into the cold
// set) since nothing freshly read from disk can be dirty.
func (c *Coordinator) ReadFromDisk(parent node.Id, n *node.Node) node.Id {
	n.Parent = parent
	id := c.arena.Alloc(n)
	if parent != node.NoParent {
		c.arena.AddChild(parent, n.Name, id)
	}
	c.cold.insert(id)
	return id
}

// AppendChild allocates child under parent, marks it volatile, and
// propagates the volatile-ancestor-chain invariant: if parent was cold it
// joins the buffer set and leaves the cold set, and the walk continues
// up the ancestor chain until it reaches an ancestor already outside the
// cold set (§4.F).
func (c *Coordinator) AppendChild(parent node.Id, child *node.Node) node.Id {
	child.Parent = parent
	child.Volatile = true
	id := c.arena.Alloc(child)
	c.arena.AddChild(parent, child.Name, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.markVolatileUpwardLocked(parent)
	return id
}

// Update marks id volatile (if it was not already) and performs the same
// ancestor-walk propagation AppendChild does, starting from id itself
// rather than its parent.
func (c *Coordinator) Update(id node.Id) {
	n, ok := c.arena.Get(id)
	if !ok || n.Volatile {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n.Volatile = true
	c.markVolatileUpwardLocked(n.Parent)
}

// markVolatileUpwardLocked walks from id up to the root, removing each
// ancestor from the cold set. The node the walk starts at (the direct
// parent of the node that just turned volatile) joins the buffer set
// unless it is itself volatile, in which case it already lies inside a
// buffered volatile subtree. The walk continues through ancestors that
// were in the cold set or are volatile, and stops at the first that is
// neither, since everything above that point has already been walked by
// an earlier mutation. Caller must hold c.mu.
func (c *Coordinator) markVolatileUpwardLocked(id node.Id) {
	first := true
	for id != node.NoParent {
		n, ok := c.arena.Get(id)
		if !ok {
			return
		}
		removed := c.cold.remove(id)
		if first {
			if !n.Volatile {
				c.bufferSet[id] = struct{}{}
			}
			first = false
		}
		if !removed && !n.Volatile {
			// Already outside the cold set from an earlier walk; nothing
			// higher needs revisiting.
			return
		}
		id = n.Parent
	}
}

// PersistComplete marks id clean and reinserts it into the cold set
// (§4.F "persist_complete"). It only ever touches the one node named —
// Flush calls it once per id that WriteNode actually succeeded for, so
// nothing gets marked durable on the strength of a sibling's or a
// descendant's write.
func (c *Coordinator) PersistComplete(id node.Id) {
	n, ok := c.arena.Get(id)
	if !ok {
		return
	}
	n.Volatile = false
	c.cold.insert(id)
}

// Pin increments pin_count on id and every ancestor up to the root.
// Pinned entries remain structurally wherever they already are (cold set
// membership is untouched); eviction is responsible for skipping
// pinned candidates.
func (c *Coordinator) Pin(id node.Id) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id != node.NoParent {
		n, ok := c.arena.Get(id)
		if !ok {
			return
		}
		n.PinCount++
		id = n.Parent
	}
}

// Unpin decrements pin_count on id and, while it reaches zero at each
// level, continues up the ancestor chain (§4.F "unpin").
func (c *Coordinator) Unpin(id node.Id) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id != node.NoParent {
		n, ok := c.arena.Get(id)
		if !ok {
			return
		}
		if n.PinCount > 0 {
			n.PinCount--
		}
		if n.PinCount != 0 {
			return
		}
		id = n.Parent
	}
}

// Evict removes one evictable subtree from the cache: a cold entry with
// pin_count == 0, together with its entire resident subtree. The pin
// invariant (pin_count(ancestor) >= pin_count(descendant), §8) guarantees
// that if the picked root has pin_count 0 none of its descendants can be
// pinned either, and the volatile-ancestor invariant guarantees none can
// be volatile — so the whole subtree comes out atomically, with no
// partial tear-down left behind.
func (c *Coordinator) Evict() (node.Id, bool) {
	id, ok := c.cold.pickEvictable(c.arena)
	if !ok {
		return 0, false
	}
	if _, ok := c.arena.Get(id); !ok {
		return 0, false
	}
	c.detachSubtree(id)
	return id, true
}

// Remove tears down the resident subtree rooted at id unconditionally —
// used by a caller that has already deleted id's on-disk record and now
// needs its in-memory cache entry (and every resident descendant) gone,
// regardless of cold/volatile/pinned state. Unlike Evict, which only ever
// picks an already-evictable cold candidate under memory pressure, Remove
// is for an explicit, targeted deletion the caller named.
func (c *Coordinator) Remove(id node.Id) {
	if _, ok := c.arena.Get(id); !ok {
		return
	}
	c.detachSubtree(id)
}

// detachSubtree removes id and every resident descendant from whichever
// population each currently belongs to, then releases their arena slots.
// The pin invariant (pin_count(ancestor) >= pin_count(descendant)) and the
// volatile-ancestor invariant together guarantee that whenever the caller
// is allowed to tear down id at all, its descendants come out cleanly too
// — no partial tear-down left behind.
func (c *Coordinator) detachSubtree(id node.Id) {
	n, ok := c.arena.Get(id)
	if !ok {
		return
	}

	var detach func(id node.Id)
	detach = func(id node.Id) {
		child, ok := c.arena.Get(id)
		if !ok {
			return
		}
		for _, grandchildID := range append([]node.Id(nil), child.Children()...) {
			detach(grandchildID)
		}
		c.cold.remove(id)
		c.arena.Release(id)
	}
	for _, childID := range append([]node.Id(nil), n.Children()...) {
		detach(childID)
	}
	c.cold.remove(id)
	if n.Parent != node.NoParent {
		c.arena.RemoveChild(n.Parent, id)
	}
	c.arena.Release(id)
}

// MaintainCapacity evicts until resident count is at or below capacity,
// or until nothing is left evictable. It returns the number of subtree
// roots evicted.
func (c *Coordinator) MaintainCapacity() int {
	evicted := 0
	for c.capacity > 0 && c.arena.Len() > c.capacity {
		if _, ok := c.Evict(); !ok {
			c.logger.Warnw("cache at capacity with nothing evictable",
				"resident", c.arena.Len(), "capacity", c.capacity)
			break
		}
		evicted++
	}
	return evicted
}

// Flush runs the flush algorithm (§4.F): snapshot and clear the
// buffer set, depth-first collect each root's volatile descendants
// (parent before child), delegate each to the injected Writer, and mark
// clean exactly the nodes that were actually written via
// PersistComplete — never the whole subtree by assumption. Failed
// subtrees are left volatile and re-added to the buffer set for the
// next flush to retry.
func (c *Coordinator) Flush() error {
	c.mu.Lock()
	roots := make([]node.Id, 0, len(c.bufferSet))
	for id := range c.bufferSet {
		roots = append(roots, id)
	}
	c.bufferSet = make(map[node.Id]struct{})
	c.mu.Unlock()

	var failed []node.Id
	for _, root := range roots {
		writeList := c.collectVolatile(root)
		written := make([]node.Id, 0, len(writeList))
		ok := true
		for _, id := range writeList {
			n, exists := c.arena.Get(id)
			if !exists {
				continue
			}
			children := make([]*node.Node, 0, len(n.Children()))
			for _, childID := range n.Children() {
				if child, exists := c.arena.Get(childID); exists {
					children = append(children, child)
				}
			}
			if err := c.writer.WriteNode(n, children); err != nil {
				c.logger.Errorw("flush failed for subtree", "root", root, "node", id, "error", err)
				ok = false
				break
			}
			written = append(written, id)
		}
		if ok {
			for _, id := range written {
				c.PersistComplete(id)
			}
		} else {
			failed = append(failed, root)
		}
	}

	if len(failed) > 0 {
		c.mu.Lock()
		for _, id := range failed {
			c.bufferSet[id] = struct{}{}
		}
		c.mu.Unlock()
		return pmterrors.NewFlushFailedError(subtreeName(c.arena, failed[0]), nil).
			WithDetail("failedSubtrees", len(failed))
	}
	return nil
}

func subtreeName(arena *node.Arena, id node.Id) string {
	if n, ok := arena.Get(id); ok {
		return n.Name
	}
	return "<unknown>"
}

// collectVolatile depth-first collects root and every volatile
// descendant beneath it, parent before child, so a parent's
// pre-allocated child subtree address is visible by the time the child
// itself is written (§4.F step 2).
//
// root itself is always included regardless of its own Volatile flag:
// root is a buffer-set entry, and markVolatileUpwardLocked's first
// entry added to bufferSet is always the *parent* of whatever child
// was just appended or updated, not the child itself — that parent
// stays non-volatile even though its own children list (the thing
// WriteNode persists) now has a new or changed entry. The engine's
// synthetic tree root is the sharpest case: it is never AppendChild'd
// or Updated, so it can structurally never become Volatile, yet it is
// still the node whose on-disk segment needs "db" written into it the
// first time a top-level child is created. Descendants, by contrast,
// are only walked into while still Volatile — once a node is clean
// there is nothing new under it to persist.
func (c *Coordinator) collectVolatile(root node.Id) []node.Id {
	if _, ok := c.arena.Get(root); !ok {
		return nil
	}

	out := []node.Id{root}
	var walk func(id node.Id)
	walk = func(id node.Id) {
		n, ok := c.arena.Get(id)
		if !ok {
			return
		}
		for _, childID := range n.Children() {
			child, ok := c.arena.Get(childID)
			if !ok || !child.Volatile {
				continue
			}
			out = append(out, childID)
			walk(childID)
		}
	}
	walk(root)
	return out
}
