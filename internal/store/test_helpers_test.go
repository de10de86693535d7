package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/snowcrash/internal/model"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mustNode creates a node and fails the test on error.
func mustNode(t *testing.T, s *Store, label string, typ model.NodeType, parentID *int64) model.Node {
	t.Helper()
	n, err := s.CreateNode(context.Background(), model.NewNode{Label: label, Type: typ, ParentID: parentID})
	require.NoError(t, err, "CreateNode(%q)", label)
	return n
}

func mustIssue(t *testing.T, s *Store, nodeID int64, title string) model.Issue {
	t.Helper()
	is, err := s.CreateIssue(context.Background(), nodeID, title, "")
	require.NoError(t, err, "CreateIssue(%q)", title)
	return is
}

func ptr(id int64) *int64 { return &id }

// assertCountersConsistent fails the test if any children_count drifted.
func assertCountersConsistent(t *testing.T, s *Store) {
	t.Helper()
	drifts, err := s.CheckCounters(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts, "children_count drift")
}

// corruptParent writes parent_id directly, bypassing the tree invariants.
func corruptParent(t *testing.T, s *Store, id int64, parentID int64) {
	t.Helper()
	_, err := s.db.Exec(`UPDATE nodes SET parent_id = ? WHERE id = ?`, parentID, id)
	require.NoError(t, err)
}
