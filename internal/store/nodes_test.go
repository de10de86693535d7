package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/snowcrash/internal/model"
)

func TestCreateNode_Defaults(t *testing.T) {
	s := createTestStore(t)

	n, err := s.CreateNode(context.Background(), model.NewNode{Label: "web01"})
	require.NoError(t, err)

	assert.Positive(t, n.ID)
	assert.Equal(t, model.NodeTypeDefault, n.Type)
	assert.Equal(t, 0, n.Position)
	assert.Nil(t, n.ParentID)
	assert.True(t, n.IsRoot())
}

func TestCreateNode_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	methodology := mustNode(t, s, "Methodologies", model.NodeTypeMethodology, nil)
	library := mustNode(t, s, "All issues", model.NodeTypeIssueLibrary, nil)

	tests := []struct {
		name    string
		in      model.NewNode
		field   string
		message string
	}{
		{"empty label", model.NewNode{Label: ""}, "label", "can't be blank"},
		{"blank label", model.NewNode{Label: "   "}, "label", "can't be blank"},
		{"unknown type", model.NewNode{Label: "x", Type: model.NodeType(9)}, "type_id", "is not a known node type"},
		{"missing parent", model.NewNode{Label: "x", ParentID: ptr(999)}, "parent_id", "is missing/invalid."},
		{"methodology parent", model.NewNode{Label: "x", ParentID: &methodology.ID}, "parent_id", "has an invalid type."},
		{"issue library parent", model.NewNode{Label: "x", ParentID: &library.ID}, "parent_id", "has an invalid type."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateNode(ctx, tt.in)
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, tt.message, ve.Message)
		})
	}

	// Nothing was written by the failed calls.
	roots, err := s.RootsOfType(ctx, []model.NodeType{model.NodeTypeDefault, model.NodeTypeHost})
	require.NoError(t, err)
	assert.Empty(t, roots)
	assertCountersConsistent(t, s)
}

func TestCreateNode_NormalizesLabel(t *testing.T) {
	s := createTestStore(t)

	// "e" followed by a combining acute accent.
	n := mustNode(t, s, "cafe\u0301", model.NodeTypeDefault, nil)
	assert.Equal(t, "caf\u00e9", n.Label)
}

func TestCreateNode_UpdatesParentCounter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	parent := mustNode(t, s, "network", model.NodeTypeDefault, nil)
	host := mustNode(t, s, "10.0.0.1", model.NodeTypeHost, &parent.ID)
	mustNode(t, s, "10.0.0.2", model.NodeTypeHost, &parent.ID)
	mustNode(t, s, "port 443", model.NodeTypeDefault, &host.ID)

	got, err := s.GetNode(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChildrenCount)

	got, err = s.GetNode(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChildrenCount)

	assertCountersConsistent(t, s)
}

func TestCreateNode_ConcurrentChildren(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	parent := mustNode(t, s, "network", model.NodeTypeDefault, nil)

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := s.CreateNode(ctx, model.NewNode{Label: "host", Type: model.NodeTypeHost, ParentID: &parent.ID})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetNode(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.ChildrenCount)
	assertCountersConsistent(t, s)
}

func TestGetNode_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetNode(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.EqualError(t, err, "node 42 not found")
}

func TestRootsOfType_OrderAndFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := mustNode(t, s, "beta", model.NodeTypeDefault, nil)
	a1 := mustNode(t, s, "alpha", model.NodeTypeHost, nil)
	a2 := mustNode(t, s, "alpha", model.NodeTypeDefault, nil)
	mustNode(t, s, "aaa-child", model.NodeTypeDefault, &b.ID)
	mustNode(t, s, "All issues", model.NodeTypeIssueLibrary, nil)
	mustNode(t, s, "Methodologies", model.NodeTypeMethodology, nil)

	roots, err := s.InTree(ctx)
	require.NoError(t, err)

	ids := make([]int64, len(roots))
	for i, r := range roots {
		ids[i] = r.ID
	}
	// Equal labels keep insertion order.
	assert.Equal(t, []int64{a1.ID, a2.ID, b.ID}, ids)

	libs, err := s.RootsOfType(ctx, []model.NodeType{model.NodeTypeIssueLibrary})
	require.NoError(t, err)
	require.Len(t, libs, 1)
	assert.Equal(t, "All issues", libs[0].Label)

	none, err := s.RootsOfType(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChildren_OrderedByLabel(t *testing.T) {
	s := createTestStore(t)
	parent := mustNode(t, s, "network", model.NodeTypeDefault, nil)
	mustNode(t, s, "zeta", model.NodeTypeHost, &parent.ID)
	mustNode(t, s, "alpha", model.NodeTypeHost, &parent.ID)

	children, err := s.Children(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "alpha", children[0].Label)
	assert.Equal(t, "zeta", children[1].Label)
}

func TestAncestorOf(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	root := mustNode(t, s, "root", model.NodeTypeDefault, nil)
	mid := mustNode(t, s, "mid", model.NodeTypeDefault, &root.ID)
	leaf := mustNode(t, s, "leaf", model.NodeTypeHost, &mid.ID)
	other := mustNode(t, s, "other", model.NodeTypeDefault, nil)

	tests := []struct {
		name      string
		candidate int64
		node      int64
		want      bool
	}{
		{"parent", mid.ID, leaf.ID, true},
		{"grandparent", root.ID, leaf.ID, true},
		{"self is not ancestor", leaf.ID, leaf.ID, false},
		{"descendant is not ancestor", leaf.ID, root.ID, false},
		{"unrelated", other.ID, leaf.ID, false},
		{"root has no ancestors", other.ID, root.ID, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.AncestorOf(ctx, tt.candidate, tt.node)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.AncestorOf(ctx, root.ID, 999)
	assert.True(t, IsNotFound(err))
}

func TestAncestorOf_TerminatesOnSelfReference(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	loop := mustNode(t, s, "loop", model.NodeTypeDefault, nil)
	other := mustNode(t, s, "other", model.NodeTypeDefault, nil)
	corruptParent(t, s, loop.ID, loop.ID)

	got, err := s.AncestorOf(ctx, loop.ID, loop.ID)
	require.NoError(t, err)
	assert.True(t, got, "a self-referencing node lists itself as parent")

	got, err = s.AncestorOf(ctx, other.ID, loop.ID)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestAncestorOf_TerminatesOnLongCycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := mustNode(t, s, "a", model.NodeTypeDefault, nil)
	b := mustNode(t, s, "b", model.NodeTypeDefault, &a.ID)
	c := mustNode(t, s, "c", model.NodeTypeDefault, &b.ID)
	outside := mustNode(t, s, "outside", model.NodeTypeDefault, nil)
	corruptParent(t, s, a.ID, c.ID)

	got, err := s.AncestorOf(ctx, outside.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, got)

	chain, err := s.Ancestors(ctx, c.ID)
	assert.True(t, IsConstraint(err))
	assert.Len(t, chain, 3)
}

func TestAncestors_NearestFirst(t *testing.T) {
	s := createTestStore(t)

	root := mustNode(t, s, "root", model.NodeTypeDefault, nil)
	mid := mustNode(t, s, "mid", model.NodeTypeDefault, &root.ID)
	leaf := mustNode(t, s, "leaf", model.NodeTypeHost, &mid.ID)

	chain, err := s.Ancestors(context.Background(), leaf.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, mid.ID, chain[0].ID)
	assert.Equal(t, root.ID, chain[1].ID)
}

func TestMoveNode(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := mustNode(t, s, "a", model.NodeTypeDefault, nil)
	b := mustNode(t, s, "b", model.NodeTypeDefault, nil)
	child := mustNode(t, s, "child", model.NodeTypeHost, &a.ID)

	moved, err := s.MoveNode(ctx, child.ID, &b.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, b.ID, *moved.ParentID)

	gotA, err := s.GetNode(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := s.GetNode(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotA.ChildrenCount)
	assert.Equal(t, 1, gotB.ChildrenCount)

	// To root.
	moved, err = s.MoveNode(ctx, child.ID, nil)
	require.NoError(t, err)
	assert.True(t, moved.IsRoot())
	assertCountersConsistent(t, s)
}

func TestMoveNode_RefusesCycles(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	root := mustNode(t, s, "root", model.NodeTypeDefault, nil)
	mid := mustNode(t, s, "mid", model.NodeTypeDefault, &root.ID)
	leaf := mustNode(t, s, "leaf", model.NodeTypeDefault, &mid.ID)

	_, err := s.MoveNode(ctx, root.ID, &leaf.ID)
	assert.True(t, IsConstraint(err), "moving under a descendant: %v", err)

	_, err = s.MoveNode(ctx, root.ID, &root.ID)
	assert.True(t, IsConstraint(err), "moving under itself: %v", err)

	got, err := s.GetNode(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRoot())
	assertCountersConsistent(t, s)
}

func TestMoveNode_RefusesInvalidParent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	lib := mustNode(t, s, "All issues", model.NodeTypeIssueLibrary, nil)
	n := mustNode(t, s, "n", model.NodeTypeDefault, nil)

	_, err := s.MoveNode(ctx, n.ID, &lib.ID)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "parent_id", ve.Field)
}

func TestCheckCounters_DetectsAndRepairsDrift(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	parent := mustNode(t, s, "parent", model.NodeTypeDefault, nil)
	mustNode(t, s, "child", model.NodeTypeDefault, &parent.ID)

	_, err := s.db.Exec(`UPDATE nodes SET children_count = 5 WHERE id = ?`, parent.ID)
	require.NoError(t, err)

	drifts, err := s.CheckCounters(ctx)
	require.NoError(t, err)
	require.Equal(t, []CounterDrift{{NodeID: parent.ID, Cached: 5, Actual: 1}}, drifts)

	n, err := s.RepairCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assertCountersConsistent(t, s)
}

func TestParentTypeInvariant_HoldsAfterMutations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	root := mustNode(t, s, "root", model.NodeTypeDefault, nil)
	var mu sync.Mutex
	created := []int64{root.ID}

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			n, err := s.CreateNode(ctx, model.NewNode{Label: "h", Type: model.NodeTypeHost, ParentID: &root.ID})
			if err != nil {
				return err
			}
			mu.Lock()
			created = append(created, n.ID)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range created[1:5] {
		_, err := s.DestroyNode(ctx, id)
		require.NoError(t, err)
	}

	var bad int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM nodes c JOIN nodes p ON p.id = c.parent_id
		WHERE p.type_id NOT IN (0, 1)
	`).Scan(&bad)
	require.NoError(t, err)
	assert.Zero(t, bad)
	assertCountersConsistent(t, s)
}

func TestChildrenCount_ConcurrentCreateAndDestroy(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	root := mustNode(t, s, "root", model.NodeTypeDefault, nil)
	doomed := make([]model.Node, 8)
	for i := range doomed {
		doomed[i] = mustNode(t, s, "old", model.NodeTypeDefault, &root.ID)
		mustNode(t, s, "old host", model.NodeTypeHost, &doomed[i].ID)
		_, err := s.CreateNote(ctx, doomed[i].ID, "note")
		require.NoError(t, err)
	}

	const creators = 8
	var g errgroup.Group
	for i := 0; i < creators; i++ {
		victim := doomed[i]
		g.Go(func() error {
			_, err := s.DestroyNode(ctx, victim.ID)
			return err
		})
		g.Go(func() error {
			_, err := s.CreateNode(ctx, model.NewNode{Label: "new", Type: model.NodeTypeHost, ParentID: &root.ID})
			return err
		})
		g.Go(func() error {
			// Racing a destroy of the parent: either side may win.
			_, err := s.CreateNode(ctx, model.NewNode{Label: "late", Type: model.NodeTypeHost, ParentID: &victim.ID})
			if IsNotFound(err) || IsValidation(err) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.GetNode(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, creators, got.ChildrenCount)
	assertCountersConsistent(t, s)

	var strays int
	require.NoError(t, s.db.QueryRow(`
		SELECT COUNT(*) FROM nodes c LEFT JOIN nodes p ON p.id = c.parent_id
		WHERE c.parent_id IS NOT NULL AND p.id IS NULL
	`).Scan(&strays))
	assert.Zero(t, strays, "no node may point at a destroyed parent")
}
