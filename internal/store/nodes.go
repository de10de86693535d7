package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/queryir"
	"github.com/roach88/snowcrash/internal/querysql"
)

var nodeColumns = []string{"id", "label", "type_id", "parent_id", "position", "children_count"}

const nodeSelect = `SELECT id, label, type_id, parent_id, position, children_count FROM nodes`

// maxTreeDepth bounds every parent-chain walk. The visited set already stops
// cycles; the cap keeps a corrupted chain from costing more than this many
// lookups.
const maxTreeDepth = 1024

// CreateNode inserts a node and bumps its parent's children_count in the same
// transaction.
//
// The label is NFC-normalized before validation and storage. Returns a
// *ValidationError when the label is blank, the type is unknown, or the
// parent is missing or not one of model.UserTypes. Nothing is written on
// failure.
func (s *Store) CreateNode(ctx context.Context, in model.NewNode) (node model.Node, err error) {
	defer func() { observeMutation("create", err) }()

	node = model.Node{
		Label:    norm.NFC.String(in.Label),
		Type:     in.Type,
		ParentID: in.ParentID,
		Position: in.Position,
	}
	if err := validateRecord(node); err != nil {
		return model.Node{}, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if node.ParentID != nil {
			if err := checkParent(ctx, tx, *node.ParentID); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (label, type_id, parent_id, position)
			VALUES (?, ?, ?, ?)
		`, node.Label, int(node.Type), nullableID(node.ParentID), node.Position)
		if err != nil {
			return fmt.Errorf("create node: insert: %w", err)
		}
		if node.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("create node: last insert id: %w", err)
		}

		if node.ParentID != nil {
			if err := adjustChildrenCount(ctx, tx, *node.ParentID, 1); err != nil {
				return fmt.Errorf("create node: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Node{}, err
	}

	s.logger.Info("node created",
		"id", node.ID,
		"label", node.Label,
		"type", node.Type.String(),
		"parent_id", derefID(node.ParentID),
	)
	return node, nil
}

// GetNode retrieves a node by ID.
// Returns a *NotFoundError if it does not exist.
func (s *Store) GetNode(ctx context.Context, id int64) (model.Node, error) {
	return getNode(ctx, s.db, id)
}

func getNode(ctx context.Context, q querier, id int64) (model.Node, error) {
	row := q.QueryRowContext(ctx, nodeSelect+` WHERE id = ?`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Node{}, notFound("node", id)
	}
	if err != nil {
		return model.Node{}, fmt.Errorf("get node %d: %w", id, err)
	}
	return node, nil
}

// Children returns the direct children of a node ordered by label, then id.
func (s *Store) Children(ctx context.Context, id int64) ([]model.Node, error) {
	return s.selectNodes(ctx, queryir.Select{
		From:    "nodes",
		Columns: nodeColumns,
		Filter:  queryir.Equals{Field: "parent_id", Value: id},
		OrderBy: []queryir.Order{queryir.Asc("label"), queryir.Asc("id")},
	})
}

// RootsOfType returns the top-level nodes whose type is in types, ordered by
// label ascending with id as tiebreaker. An empty type set matches nothing.
func (s *Store) RootsOfType(ctx context.Context, types []model.NodeType) ([]model.Node, error) {
	if len(types) == 0 {
		return []model.Node{}, nil
	}
	values := make([]any, len(types))
	for i, t := range types {
		values[i] = int64(t)
	}

	return s.selectNodes(ctx, queryir.Select{
		From:    "nodes",
		Columns: nodeColumns,
		Filter: queryir.AllOf(
			queryir.IsNull{Field: "parent_id"},
			queryir.In{Field: "type_id", Values: values},
		),
		OrderBy: []queryir.Order{queryir.Asc("label"), queryir.Asc("id")},
	})
}

// InTree returns the roots shown in the repository tree: top-level nodes of
// a user-visible type.
func (s *Store) InTree(ctx context.Context) ([]model.Node, error) {
	return s.RootsOfType(ctx, model.UserTypes)
}

// MoveNode reparents a node. A nil parentID makes it a root.
//
// Both the old and the new parent's children_count are updated in the same
// transaction. Returns a *ConstraintError when the move would make the node
// its own ancestor, and a *ValidationError when the new parent is missing or
// may not have children.
func (s *Store) MoveNode(ctx context.Context, id int64, parentID *int64) (node model.Node, err error) {
	defer func() { observeMutation("move", err) }()

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := getNode(ctx, tx, id)
		if err != nil {
			return err
		}
		if sameParent(current.ParentID, parentID) {
			node = current
			return nil
		}

		if parentID != nil {
			if *parentID == id {
				return &ConstraintError{Op: "move", NodeID: id, Message: "a node cannot be its own parent"}
			}
			if err := checkParent(ctx, tx, *parentID); err != nil {
				return err
			}
			found, cyclic, err := s.ancestorOf(ctx, tx, id, *parentID)
			if err != nil {
				return err
			}
			if found {
				return &ConstraintError{Op: "move", NodeID: id, Message: fmt.Sprintf("node %d is a descendant", *parentID)}
			}
			if cyclic {
				return &ConstraintError{Op: "move", NodeID: id, Message: fmt.Sprintf("parent chain of node %d contains a cycle", *parentID)}
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET parent_id = ? WHERE id = ?`, nullableID(parentID), id); err != nil {
			return fmt.Errorf("move node: %w", err)
		}
		if current.ParentID != nil {
			if err := adjustChildrenCount(ctx, tx, *current.ParentID, -1); err != nil {
				return fmt.Errorf("move node: %w", err)
			}
		}
		if parentID != nil {
			if err := adjustChildrenCount(ctx, tx, *parentID, 1); err != nil {
				return fmt.Errorf("move node: %w", err)
			}
		}

		node, err = getNode(ctx, tx, id)
		return err
	})
	if err != nil {
		return model.Node{}, err
	}

	s.logger.Info("node moved", "id", id, "parent_id", derefID(parentID))
	return node, nil
}

// AncestorOf reports whether candidateID appears in the parent chain of
// nodeID (its parent, the parent's parent, and so on to the root).
//
// The walk keeps a visited set, so a corrupted store whose parent chain loops
// still terminates: the loop is logged and the answer is whatever the nodes
// visited before the repeat showed. Returns a *NotFoundError when nodeID does
// not exist.
func (s *Store) AncestorOf(ctx context.Context, candidateID, nodeID int64) (bool, error) {
	found, _, err := s.ancestorOf(ctx, s.db, candidateID, nodeID)
	return found, err
}

func (s *Store) ancestorOf(ctx context.Context, q querier, candidateID, nodeID int64) (bool, bool, error) {
	found := false
	cyclic, err := s.walkAncestors(ctx, q, nodeID, func(n model.Node) bool {
		if n.ID == candidateID {
			found = true
			return false
		}
		return true
	})
	return found, cyclic, err
}

// Ancestors returns the parent chain of a node, nearest first. A cyclic
// chain is cut at the first repeated node and reported as a
// *ConstraintError alongside the nodes collected so far.
func (s *Store) Ancestors(ctx context.Context, id int64) ([]model.Node, error) {
	chain := []model.Node{}
	cyclic, err := s.walkAncestors(ctx, s.db, id, func(n model.Node) bool {
		chain = append(chain, n)
		return true
	})
	if err != nil {
		return nil, err
	}
	if cyclic {
		return chain, &ConstraintError{Op: "ancestors", NodeID: id, Message: "parent chain contains a cycle"}
	}
	return chain, nil
}

// walkAncestors calls visit for each ancestor of id, nearest first, until
// visit returns false or the root is reached. It reports whether the walk
// stopped because a node repeated or the depth cap was hit.
func (s *Store) walkAncestors(ctx context.Context, q querier, id int64, visit func(model.Node) bool) (bool, error) {
	start, err := getNode(ctx, q, id)
	if err != nil {
		return false, err
	}

	visited := map[int64]bool{}
	next := start.ParentID
	for depth := 0; next != nil; depth++ {
		if visited[*next] || depth >= maxTreeDepth {
			s.logger.Warn("parent chain cycle detected", "node_id", id, "repeated_id", *next, "depth", depth)
			return true, nil
		}
		visited[*next] = true

		parent, err := getNode(ctx, q, *next)
		if IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !visit(parent) {
			return false, nil
		}
		next = parent.ParentID
	}
	return false, nil
}

// CounterDrift describes a node whose cached children_count disagrees with
// the number of rows pointing at it.
type CounterDrift struct {
	NodeID int64 `json:"node_id"`
	Cached int   `json:"cached"`
	Actual int   `json:"actual"`
}

// CheckCounters returns every node whose children_count is out of date,
// ordered by id. An empty result means the counter cache is consistent.
func (s *Store) CheckCounters(ctx context.Context) ([]CounterDrift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.children_count,
		       (SELECT COUNT(*) FROM nodes c WHERE c.parent_id = n.id) AS actual
		FROM nodes n
		WHERE n.children_count <> (SELECT COUNT(*) FROM nodes c WHERE c.parent_id = n.id)
		ORDER BY n.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("check counters: %w", err)
	}
	defer rows.Close()

	drifts := []CounterDrift{}
	for rows.Next() {
		var d CounterDrift
		if err := rows.Scan(&d.NodeID, &d.Cached, &d.Actual); err != nil {
			return nil, fmt.Errorf("check counters: scan: %w", err)
		}
		drifts = append(drifts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("check counters: iterate: %w", err)
	}
	return drifts, nil
}

// RepairCounters recomputes every children_count from the parent_id column
// and returns how many rows changed.
func (s *Store) RepairCounters(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET children_count = (SELECT COUNT(*) FROM nodes c WHERE c.parent_id = nodes.id)
		WHERE children_count <> (SELECT COUNT(*) FROM nodes c WHERE c.parent_id = nodes.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("repair counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repair counters: rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Warn("children counters repaired", "rows", n)
	}
	return n, nil
}

// checkParent enforces the parentage invariant for a prospective parent.
func checkParent(ctx context.Context, q querier, parentID int64) error {
	var typeID int
	err := q.QueryRowContext(ctx, `SELECT type_id FROM nodes WHERE id = ?`, parentID).Scan(&typeID)
	if errors.Is(err, sql.ErrNoRows) {
		return &ValidationError{Field: "parent_id", Message: "is missing/invalid."}
	}
	if err != nil {
		return fmt.Errorf("check parent %d: %w", parentID, err)
	}
	if !model.NodeType(typeID).UserVisible() {
		return &ValidationError{Field: "parent_id", Message: "has an invalid type."}
	}
	return nil
}

func adjustChildrenCount(ctx context.Context, q querier, id int64, delta int) error {
	_, err := q.ExecContext(ctx, `UPDATE nodes SET children_count = children_count + ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("adjust children_count of %d: %w", id, err)
	}
	return nil
}

func (s *Store) selectNodes(ctx context.Context, sel queryir.Select) ([]model.Node, error) {
	return selectNodes(ctx, s.db, sel)
}

func selectNodes(ctx context.Context, q querier, sel queryir.Select) ([]model.Node, error) {
	query, params, err := querysql.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("compile node query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []model.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(r rowScanner) (model.Node, error) {
	var (
		n        model.Node
		typeID   int
		parentID sql.NullInt64
	)
	if err := r.Scan(&n.ID, &n.Label, &typeID, &parentID, &n.Position, &n.ChildrenCount); err != nil {
		return model.Node{}, err
	}
	n.Type = model.NodeType(typeID)
	if parentID.Valid {
		id := parentID.Int64
		n.ParentID = &id
	}
	return n, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
