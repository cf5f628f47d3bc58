// Package node implements the in-memory tree node and its arena (§9
// "Cyclic back-references"). A Node holds a parent reference and a node
// holds its resident children; naively that's a reference cycle, so nodes
// are owned by an Arena indexed by NodeId and every reference — parent,
// child — is a NodeId rather than a pointer. Nothing outside the
// CacheCoordinator should construct a Node directly.
package node

import (
	"sort"
	"sync"

	"github.com/iamNilotpal/pmt/internal/record"
)

// Id indexes a Node inside an Arena. The zero value is NoParent's partner —
// a valid, allocatable id — so absence is represented by the separate
// NoParent constant below, never by the zero value.
type Id uint32

// NoParent marks a Node with no parent (the tree root). It is the maximum
// Id value, which an Arena never hands out to a real allocation.
const NoParent Id = ^Id(0)

// Node is the logical tree node the CacheCoordinator tracks. Its on-disk
// form is a record.Record filed under its parent's segment; this struct is
// the resident, addressable counterpart used for traversal and pinning.
type Node struct {
	Id       Id
	Name     string
	Kind     record.Kind
	Payload  record.Payload
	Parent   Id
	Volatile bool
	PinCount uint32

	// children holds only the currently resident children, sorted by
	// Name to mirror the segment offset table's ordering; children that
	// exist on disk but have never been loaded are simply absent here.
	children []Id
}

// Children returns the node's resident children in key order. The
// returned slice must not be mutated by the caller.
func (n *Node) Children() []Id { return n.children }

// Arena owns every resident Node, indexed by Id. It is the single place
// nodes are allocated and released, which is what lets Node.Parent and
// Node.children be plain Id values instead of pointers that would form a
// reference cycle.
type Arena struct {
	mu    sync.RWMutex
	slots []*Node
	free  []Id
}

// NewArena creates an empty arena, pre-sizing its backing slice to
// capacityHint entries to avoid early reallocation under a known working
// set (see options.NodeCacheCapacity).
func NewArena(capacityHint int) *Arena {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Arena{slots: make([]*Node, 0, capacityHint)}
}

// Alloc installs n into the arena, assigns it a fresh Id (reusing a freed
// slot if one is available), and returns that Id.
func (a *Arena) Alloc(n *Node) Id {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) > 0 {
		id := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		n.Id = id
		a.slots[id] = n
		return id
	}

	id := Id(len(a.slots))
	n.Id = id
	a.slots = append(a.slots, n)
	return id
}

// Get returns the node at id, or nil, false if id is unallocated, freed,
// or NoParent.
func (a *Arena) Get(id Id) (*Node, bool) {
	if id == NoParent {
		return nil, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if int(id) >= len(a.slots) {
		return nil, false
	}
	n := a.slots[id]
	return n, n != nil
}

// Release frees id's slot for reuse by a later Alloc. It is the caller's
// responsibility to have already detached id from its parent's children
// list (the cache Coordinator's detachSubtree does this as part of its
// atomic subtree tear-down).
func (a *Arena) Release(id Id) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(id) >= len(a.slots) || a.slots[id] == nil {
		return
	}
	a.slots[id] = nil
	a.free = append(a.free, id)
}

// Len reports the number of currently resident (allocated, unreleased)
// nodes.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}

// AddChild records childID as a resident child of the node at parentID,
// keeping the child list sorted by name for iteration in key order.
func (a *Arena) AddChild(parentID Id, childName string, childID Id) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent := a.slots[parentID]
	idx := sort.Search(len(parent.children), func(i int) bool {
		sib, _ := a.getLocked(parent.children[i])
		return sib.Name >= childName
	})
	if idx < len(parent.children) {
		if sib, ok := a.getLocked(parent.children[idx]); ok && sib.Name == childName {
			return
		}
	}
	parent.children = append(parent.children, NoParent)
	copy(parent.children[idx+1:], parent.children[idx:])
	parent.children[idx] = childID
}

// RemoveChild detaches childID from parentID's resident-children list.
func (a *Arena) RemoveChild(parentID Id, childID Id) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent := a.slots[parentID]
	for i, c := range parent.children {
		if c == childID {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}

func (a *Arena) getLocked(id Id) (*Node, bool) {
	if id == NoParent || int(id) >= len(a.slots) {
		return nil, false
	}
	n := a.slots[id]
	return n, n != nil
}
