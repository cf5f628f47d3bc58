package cache

import (
	"container/list"
	"math/rand/v2"
	"sync"

	"github.com/iamNilotpal/pmt/internal/node"
)

// coldSet is the evictable population: a sharded LRU keyed by node.Id,
// sharded to reduce lock contention under concurrent traversal (spec
// §4.F "sharded LRU (≈1000 shards by entry hash)").
type coldSet struct {
	shards []*coldShard
}

type coldShard struct {
	mu    sync.Mutex
	lru   *list.List               // front = most recently used
	index map[node.Id]*list.Element
}

func newColdSet(n int) *coldSet {
	shards := make([]*coldShard, n)
	for i := range shards {
		shards[i] = &coldShard{lru: list.New(), index: make(map[node.Id]*list.Element)}
	}
	return &coldSet{shards: shards}
}

func (c *coldSet) shardFor(id node.Id) *coldShard {
	return c.shards[uint32(id)%uint32(len(c.shards))]
}

func (c *coldSet) insert(id node.Id) {
	sh := c.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.index[id]; ok {
		return
	}
	sh.index[id] = sh.lru.PushFront(id)
}

// remove deletes id from the cold set if present, reporting whether it
// was there.
func (c *coldSet) remove(id node.Id) bool {
	sh := c.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.index[id]
	if !ok {
		return false
	}
	sh.lru.Remove(el)
	delete(sh.index, id)
	return true
}

// len reports how many entries are currently cold, summed across shards.
func (c *coldSet) len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		total += len(sh.index)
		sh.mu.Unlock()
	}
	return total
}

// touch bumps id to most-recently-used if it is present.
func (c *coldSet) touch(id node.Id) {
	sh := c.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.index[id]
	if !ok {
		return
	}
	sh.lru.MoveToFront(el)
}

// pickEvictable scans a random starting shard and onward for the least
// recently used entry whose pin_count is 0, skipping pinned entries in
// place rather than removing them (pin membership in the cold set is
// otherwise untouched — see Coordinator.Pin).
func (c *coldSet) pickEvictable(arena *node.Arena) (node.Id, bool) {
	n := len(c.shards)
	start := rand.IntN(n)

	for i := 0; i < n; i++ {
		sh := c.shards[(start+i)%n]
		sh.mu.Lock()
		for el := sh.lru.Back(); el != nil; el = el.Prev() {
			id := el.Value.(node.Id)
			nd, ok := arena.Get(id)
			if !ok {
				sh.lru.Remove(el)
				delete(sh.index, id)
				continue
			}
			if nd.PinCount == 0 {
				sh.mu.Unlock()
				return id, true
			}
		}
		sh.mu.Unlock()
	}
	return 0, false
}
