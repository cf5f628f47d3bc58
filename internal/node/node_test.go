package node_test

import (
	"testing"

	"github.com/iamNilotpal/pmt/internal/node"
	"github.com/iamNilotpal/pmt/internal/record"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocAndGet(t *testing.T) {
	a := node.NewArena(4)

	root := &node.Node{Name: "root", Kind: record.KindDatabase, Parent: node.NoParent}
	id := a.Alloc(root)
	require.Equal(t, id, root.Id)

	got, ok := a.Get(id)
	require.True(t, ok)
	require.Same(t, root, got)
	require.Equal(t, 1, a.Len())
}

func TestArenaGetMissing(t *testing.T) {
	a := node.NewArena(0)
	_, ok := a.Get(node.NoParent)
	require.False(t, ok)

	_, ok = a.Get(node.Id(99))
	require.False(t, ok)
}

func TestArenaReleaseReusesSlot(t *testing.T) {
	a := node.NewArena(1)

	n1 := &node.Node{Name: "a"}
	id1 := a.Alloc(n1)
	a.Release(id1)

	n2 := &node.Node{Name: "b"}
	id2 := a.Alloc(n2)
	require.Equal(t, id1, id2)
	require.Equal(t, 1, a.Len())

	got, ok := a.Get(id1)
	require.True(t, ok)
	require.Equal(t, "b", got.Name)
}

func TestArenaAddChildKeepsSortedOrder(t *testing.T) {
	a := node.NewArena(4)

	parent := &node.Node{Name: "root", Parent: node.NoParent}
	parentID := a.Alloc(parent)

	cID := a.Alloc(&node.Node{Name: "c", Parent: parentID})
	aID := a.Alloc(&node.Node{Name: "a", Parent: parentID})
	bID := a.Alloc(&node.Node{Name: "b", Parent: parentID})

	a.AddChild(parentID, "c", cID)
	a.AddChild(parentID, "a", aID)
	a.AddChild(parentID, "b", bID)

	got, _ := a.Get(parentID)
	names := make([]string, 0, 3)
	for _, id := range got.Children() {
		child, _ := a.Get(id)
		names = append(names, child.Name)
	}
	require.Equal(t, []string{"a", "b", "c"}, names)
}

func TestArenaAddChildIsIdempotent(t *testing.T) {
	a := node.NewArena(2)
	parent := &node.Node{Name: "root", Parent: node.NoParent}
	parentID := a.Alloc(parent)
	childID := a.Alloc(&node.Node{Name: "x", Parent: parentID})

	a.AddChild(parentID, "x", childID)
	a.AddChild(parentID, "x", childID)

	got, _ := a.Get(parentID)
	require.Len(t, got.Children(), 1)
}

func TestArenaRemoveChild(t *testing.T) {
	a := node.NewArena(2)
	parent := &node.Node{Name: "root", Parent: node.NoParent}
	parentID := a.Alloc(parent)
	childID := a.Alloc(&node.Node{Name: "x", Parent: parentID})
	a.AddChild(parentID, "x", childID)

	a.RemoveChild(parentID, childID)

	got, _ := a.Get(parentID)
	require.Empty(t, got.Children())
}
