package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/snowcrash/internal/queryir"
	"github.com/roach88/snowcrash/internal/querysql"
)

// AttachmentHook removes the filesystem area of nodes being destroyed.
//
// StageRemoval is called inside the destroy transaction, after every record
// has been deleted and before commit. It must move the attachment data out
// of reach without losing it; an error aborts the destroy and rolls back the
// records. Nodes with no attachment area must be skipped without error.
type AttachmentHook interface {
	StageRemoval(ctx context.Context, nodeIDs []int64) (Removal, error)
}

// Removal is a staged attachment removal.
type Removal interface {
	// Commit permanently deletes the staged data. Called after the records
	// are committed; a failure leaves orphaned files but not orphaned rows.
	Commit() error

	// Rollback restores the staged data. Called when the records are not
	// deleted after all.
	Rollback() error
}

// DestroyReport counts what a DestroyNode call removed.
type DestroyReport struct {
	Nodes    int `json:"nodes"`
	Notes    int `json:"notes"`
	Evidence int `json:"evidence"`
	Issues   int `json:"issues"`
}

// DestroyNode deletes a node together with its descendants and every note,
// evidence record, and issue they own, then decrements the parent's
// children_count. All record changes happen in one transaction.
//
// Refused with a *ConstraintError when:
//   - the subtree contains a parent cycle
//   - an issue filed in the subtree is referenced by evidence outside it
//     (deleting it would leave that evidence dangling; move the issue or
//     the evidence first, for example to the Recovered container)
//
// Attachment areas are staged before commit and purged after it. A staging
// failure aborts the destroy. A purge failure after commit is logged and
// not returned: the records are gone and the leftover directory is inert.
//
// Activities that point at removed records are kept; the log is history.
func (s *Store) DestroyNode(ctx context.Context, id int64) (report DestroyReport, err error) {
	defer func() { observeMutation("destroy", err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DestroyReport{}, fmt.Errorf("destroy node: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	node, err := getNode(ctx, tx, id)
	if err != nil {
		return DestroyReport{}, err
	}

	subtree, err := collectSubtree(ctx, tx, id)
	if err != nil {
		return DestroyReport{}, err
	}

	if err := checkOrphanedIssues(ctx, tx, id, subtree); err != nil {
		return DestroyReport{}, err
	}

	report, err = deleteOwnedRecords(ctx, tx, subtree)
	if err != nil {
		return DestroyReport{}, err
	}

	// Children before parents so no delete leaves a dangling parent_id.
	for i := len(subtree) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, subtree[i]); err != nil {
			return DestroyReport{}, fmt.Errorf("destroy node: delete node %d: %w", subtree[i], err)
		}
	}
	report.Nodes = len(subtree)

	if node.ParentID != nil {
		if err := adjustChildrenCount(ctx, tx, *node.ParentID, -1); err != nil {
			return DestroyReport{}, fmt.Errorf("destroy node: %w", err)
		}
	}

	var removal Removal
	if s.attachments != nil {
		removal, err = s.attachments.StageRemoval(ctx, subtree)
		if err != nil {
			return DestroyReport{}, fmt.Errorf("destroy node: stage attachments: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if removal != nil {
			if rbErr := removal.Rollback(); rbErr != nil {
				s.logger.Error("attachment restore failed", "node_id", id, "error", rbErr)
			}
		}
		return DestroyReport{}, fmt.Errorf("destroy node: commit: %w", err)
	}

	if removal != nil {
		if err := removal.Commit(); err != nil {
			s.logger.Warn("attachment purge failed", "node_id", id, "error", err)
		}
	}

	s.logger.Info("node destroyed",
		"id", id,
		"label", node.Label,
		"nodes", report.Nodes,
		"notes", report.Notes,
		"evidence", report.Evidence,
		"issues", report.Issues,
	)
	return report, nil
}

// collectSubtree returns id and all its descendants in breadth-first order.
// A node reached twice means the parent links loop.
func collectSubtree(ctx context.Context, q querier, id int64) ([]int64, error) {
	order := []int64{id}
	seen := map[int64]bool{id: true}

	for i := 0; i < len(order); i++ {
		children, err := childIDs(ctx, q, order[i])
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if seen[child] {
				return nil, &ConstraintError{Op: "destroy", NodeID: id, Message: fmt.Sprintf("node %d is reachable twice; parent links contain a cycle", child)}
			}
			seen[child] = true
			order = append(order, child)
		}
	}
	return order, nil
}

func childIDs(ctx context.Context, q querier, id int64) ([]int64, error) {
	return queryIDs(ctx, q, `SELECT id FROM nodes WHERE parent_id = ? ORDER BY id ASC`, id)
}

// checkOrphanedIssues refuses the destroy when evidence outside the subtree
// points at an issue filed inside it. The lowest (issue, evidence) pair is
// reported.
func checkOrphanedIssues(ctx context.Context, q querier, rootID int64, subtree []int64) error {
	inSubtree := make(map[int64]bool, len(subtree))
	for _, id := range subtree {
		inSubtree[id] = true
	}

	var issueID, evidenceID int64
	for _, chunk := range idChunks(subtree) {
		issueIn, params, err := querysql.CompilePredicate(queryir.InInt64("i.node_id", chunk))
		if err != nil {
			return fmt.Errorf("destroy node: %w", err)
		}
		rows, err := q.QueryContext(ctx, `
			SELECT i.id, e.id, e.node_id FROM issues i
			JOIN evidence e ON e.issue_id = i.id
			WHERE `+issueIn+`
			ORDER BY i.id ASC, e.id ASC
		`, params...)
		if err != nil {
			return fmt.Errorf("destroy node: check issues: %w", err)
		}
		for rows.Next() {
			var iID, eID, nodeID int64
			if err := rows.Scan(&iID, &eID, &nodeID); err != nil {
				rows.Close()
				return fmt.Errorf("destroy node: check issues: scan: %w", err)
			}
			if inSubtree[nodeID] {
				continue
			}
			if issueID == 0 || iID < issueID || (iID == issueID && eID < evidenceID) {
				issueID, evidenceID = iID, eID
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("destroy node: check issues: %w", err)
		}
	}

	if issueID == 0 {
		return nil
	}
	return &ConstraintError{
		Op:      "destroy",
		NodeID:  rootID,
		Message: fmt.Sprintf("issue %d is still referenced by evidence %d outside the subtree", issueID, evidenceID),
	}
}

// deleteOwnedRecords removes tag links, evidence, issues, and notes owned by
// the given nodes, in foreign-key order. Each step covers every node before
// the next starts, since evidence may point at an issue filed in another
// part of the subtree.
func deleteOwnedRecords(ctx context.Context, tx *sql.Tx, nodeIDs []int64) (DestroyReport, error) {
	var report DestroyReport
	steps := []struct {
		name  string
		query string
		count *int
	}{
		{"issue tags", `DELETE FROM issues_tags WHERE issue_id IN (SELECT id FROM issues WHERE %s)`, nil},
		{"evidence", `DELETE FROM evidence WHERE %s`, &report.Evidence},
		{"issues", `DELETE FROM issues WHERE %s`, &report.Issues},
		{"notes", `DELETE FROM notes WHERE %s`, &report.Notes},
	}

	for _, step := range steps {
		for _, chunk := range idChunks(nodeIDs) {
			in, params, err := querysql.CompilePredicate(queryir.InInt64("node_id", chunk))
			if err != nil {
				return DestroyReport{}, fmt.Errorf("destroy node: %w", err)
			}
			res, err := tx.ExecContext(ctx, fmt.Sprintf(step.query, in), params...)
			if err != nil {
				return DestroyReport{}, fmt.Errorf("destroy node: delete %s: %w", step.name, err)
			}
			if step.count != nil {
				n, err := res.RowsAffected()
				if err != nil {
					return DestroyReport{}, fmt.Errorf("destroy node: delete %s: rows affected: %w", step.name, err)
				}
				*step.count += int(n)
			}
		}
	}
	return report, nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
