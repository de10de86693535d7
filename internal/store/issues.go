package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/queryir"
	"github.com/roach88/snowcrash/internal/querysql"
)

// IssuesUnder returns the distinct issues reachable through evidence owned
// by rootID or any of its descendants, ordered by issue id. Tags are loaded.
//
// The subtree is collected with the same visited-set walk DestroyNode uses,
// so a cyclic store yields a *ConstraintError instead of a hang.
func (s *Store) IssuesUnder(ctx context.Context, rootID int64) ([]model.Issue, error) {
	if err := requireNode(ctx, s.db, rootID); err != nil {
		return nil, err
	}
	subtree, err := collectSubtree(ctx, s.db, rootID)
	if err != nil {
		return nil, err
	}
	return s.issuesWhere(ctx, `
		SELECT DISTINCT i.id, i.node_id, i.title, i.text
		FROM issues i JOIN evidence e ON e.issue_id = i.id
		WHERE %s
		ORDER BY i.id ASC
	`, inChunks("e.node_id", subtree)...)
}

// NodeIssues returns the distinct issues a single node has evidence for.
func (s *Store) NodeIssues(ctx context.Context, nodeID int64) ([]model.Issue, error) {
	if err := requireNode(ctx, s.db, nodeID); err != nil {
		return nil, err
	}
	return s.issuesWhere(ctx, `
		SELECT DISTINCT i.id, i.node_id, i.title, i.text
		FROM issues i JOIN evidence e ON e.issue_id = i.id
		WHERE %s
		ORDER BY i.id ASC
	`, queryir.Equals{Field: "e.node_id", Value: nodeID})
}

// LibraryIssues returns the issues filed in rootID or its descendants,
// whether or not any evidence references them yet. This is the set the
// dashboard counts for the issue library.
func (s *Store) LibraryIssues(ctx context.Context, rootID int64) ([]model.Issue, error) {
	if err := requireNode(ctx, s.db, rootID); err != nil {
		return nil, err
	}
	subtree, err := collectSubtree(ctx, s.db, rootID)
	if err != nil {
		return nil, err
	}
	return s.issuesWhere(ctx, `
		SELECT i.id, i.node_id, i.title, i.text
		FROM issues i
		WHERE %s
		ORDER BY i.id ASC
	`, inChunks("i.node_id", subtree)...)
}

// inChunks returns one membership filter per run of ids.
func inChunks(field string, ids []int64) []queryir.Predicate {
	chunks := idChunks(ids)
	filters := make([]queryir.Predicate, len(chunks))
	for i, chunk := range chunks {
		filters[i] = queryir.InInt64(field, chunk)
	}
	return filters
}

// issuesWhere runs an issue query once per filter, substituting the compiled
// filter for the WHERE clause. Results are merged by issue id, so an issue
// matched by several filters is returned once.
func (s *Store) issuesWhere(ctx context.Context, query string, filters ...queryir.Predicate) ([]model.Issue, error) {
	issues := []model.Issue{}
	seen := map[int64]bool{}
	for _, filter := range filters {
		where, params, err := querysql.CompilePredicate(filter)
		if err != nil {
			return nil, fmt.Errorf("compile issue filter: %w", err)
		}
		found, err := s.scanIssues(ctx, fmt.Sprintf(query, where), params)
		if err != nil {
			return nil, err
		}
		for _, is := range found {
			if !seen[is.ID] {
				seen[is.ID] = true
				issues = append(issues, is)
			}
		}
	}
	if len(filters) > 1 {
		slices.SortFunc(issues, func(a, b model.Issue) int { return cmp.Compare(a.ID, b.ID) })
	}

	if err := loadTags(ctx, s.db, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *Store) scanIssues(ctx context.Context, query string, params []any) ([]model.Issue, error) {
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	// Closed before tags load; the pool holds one connection.
	defer rows.Close()

	issues := []model.Issue{}
	for rows.Next() {
		var is model.Issue
		if err := rows.Scan(&is.ID, &is.NodeID, &is.Title, &is.Text); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}

// loadTags fills Tags on each issue, one query per run of issue ids. Every
// issue ends up with a non-nil slice, ordered by tag id.
func loadTags(ctx context.Context, q querier, issues []model.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	ids := make([]int64, len(issues))
	index := make(map[int64]int, len(issues))
	for i := range issues {
		ids[i] = issues[i].ID
		index[issues[i].ID] = i
		issues[i].Tags = []model.Tag{}
	}

	for _, chunk := range idChunks(ids) {
		if err := loadTagChunk(ctx, q, chunk, issues, index); err != nil {
			return err
		}
	}
	return nil
}

func loadTagChunk(ctx context.Context, q querier, ids []int64, issues []model.Issue, index map[int64]int) error {
	in, params, err := querysql.CompilePredicate(queryir.InInt64("it.issue_id", ids))
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT it.issue_id, t.id, t.name, t.display_name, t.color
		FROM issues_tags it JOIN tags t ON t.id = it.tag_id
		WHERE `+in+`
		ORDER BY it.issue_id ASC, t.id ASC
	`, params...)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			issueID int64
			t       model.Tag
		)
		if err := rows.Scan(&issueID, &t.ID, &t.Name, &t.DisplayName, &t.Color); err != nil {
			return fmt.Errorf("load tags: scan: %w", err)
		}
		i := index[issueID]
		issues[i].Tags = append(issues[i].Tags, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load tags: iterate: %w", err)
	}
	return nil
}
