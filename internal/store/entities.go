package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/snowcrash/internal/model"
)

// CreateNote adds a note to a node.
func (s *Store) CreateNote(ctx context.Context, nodeID int64, text string) (model.Note, error) {
	note := model.Note{NodeID: nodeID, Text: text}
	if err := validateRecord(note); err != nil {
		return model.Note{}, err
	}

	if err := requireNode(ctx, s.db, nodeID); err != nil {
		return model.Note{}, err
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO notes (node_id, text) VALUES (?, ?)`, nodeID, text)
	if err != nil {
		return model.Note{}, fmt.Errorf("create note: %w", err)
	}
	if note.ID, err = res.LastInsertId(); err != nil {
		return model.Note{}, fmt.Errorf("create note: last insert id: %w", err)
	}
	return note, nil
}

// GetNote retrieves a note by ID.
func (s *Store) GetNote(ctx context.Context, id int64) (model.Note, error) {
	var n model.Note
	err := s.db.QueryRowContext(ctx, `SELECT id, node_id, text FROM notes WHERE id = ?`, id).
		Scan(&n.ID, &n.NodeID, &n.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Note{}, notFound("note", id)
	}
	if err != nil {
		return model.Note{}, fmt.Errorf("get note %d: %w", id, err)
	}
	return n, nil
}

// NotesFor returns the notes owned by a node in creation order.
func (s *Store) NotesFor(ctx context.Context, nodeID int64) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, text FROM notes WHERE node_id = ? ORDER BY id ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("notes for node %d: %w", nodeID, err)
	}
	defer rows.Close()

	notes := []model.Note{}
	for rows.Next() {
		var n model.Note
		if err := rows.Scan(&n.ID, &n.NodeID, &n.Text); err != nil {
			return nil, fmt.Errorf("notes for node %d: scan: %w", nodeID, err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notes for node %d: iterate: %w", nodeID, err)
	}
	return notes, nil
}

// CreateEvidence links a node to an issue. Both must exist.
func (s *Store) CreateEvidence(ctx context.Context, nodeID, issueID int64, content string) (model.Evidence, error) {
	ev := model.Evidence{NodeID: nodeID, IssueID: issueID, Content: content}

	if err := requireNode(ctx, s.db, nodeID); err != nil {
		return model.Evidence{}, err
	}
	if _, err := s.GetIssue(ctx, issueID); err != nil {
		return model.Evidence{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (node_id, issue_id, content) VALUES (?, ?, ?)
	`, nodeID, issueID, content)
	if err != nil {
		return model.Evidence{}, fmt.Errorf("create evidence: %w", err)
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return model.Evidence{}, fmt.Errorf("create evidence: last insert id: %w", err)
	}
	return ev, nil
}

// GetEvidence retrieves an evidence record by ID.
func (s *Store) GetEvidence(ctx context.Context, id int64) (model.Evidence, error) {
	var e model.Evidence
	err := s.db.QueryRowContext(ctx, `SELECT id, node_id, issue_id, content FROM evidence WHERE id = ?`, id).
		Scan(&e.ID, &e.NodeID, &e.IssueID, &e.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Evidence{}, notFound("evidence", id)
	}
	if err != nil {
		return model.Evidence{}, fmt.Errorf("get evidence %d: %w", id, err)
	}
	return e, nil
}

// EvidenceFor returns the evidence owned by a node in creation order.
func (s *Store) EvidenceFor(ctx context.Context, nodeID int64) ([]model.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, issue_id, content FROM evidence WHERE node_id = ? ORDER BY id ASC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("evidence for node %d: %w", nodeID, err)
	}
	defer rows.Close()

	evidence := []model.Evidence{}
	for rows.Next() {
		var e model.Evidence
		if err := rows.Scan(&e.ID, &e.NodeID, &e.IssueID, &e.Content); err != nil {
			return nil, fmt.Errorf("evidence for node %d: scan: %w", nodeID, err)
		}
		evidence = append(evidence, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence for node %d: iterate: %w", nodeID, err)
	}
	return evidence, nil
}

// CreateIssue files an issue in a container node, usually the issue library.
func (s *Store) CreateIssue(ctx context.Context, nodeID int64, title, text string) (model.Issue, error) {
	issue := model.Issue{NodeID: nodeID, Title: norm.NFC.String(title), Text: text, Tags: []model.Tag{}}
	if err := validateRecord(issue); err != nil {
		return model.Issue{}, err
	}

	if err := requireNode(ctx, s.db, nodeID); err != nil {
		return model.Issue{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (node_id, title, text) VALUES (?, ?, ?)
	`, nodeID, issue.Title, text)
	if err != nil {
		return model.Issue{}, fmt.Errorf("create issue: %w", err)
	}
	if issue.ID, err = res.LastInsertId(); err != nil {
		return model.Issue{}, fmt.Errorf("create issue: last insert id: %w", err)
	}
	return issue, nil
}

// GetIssue retrieves an issue by ID with its tags in definition order.
func (s *Store) GetIssue(ctx context.Context, id int64) (model.Issue, error) {
	var is model.Issue
	err := s.db.QueryRowContext(ctx, `SELECT id, node_id, title, text FROM issues WHERE id = ?`, id).
		Scan(&is.ID, &is.NodeID, &is.Title, &is.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Issue{}, notFound("issue", id)
	}
	if err != nil {
		return model.Issue{}, fmt.Errorf("get issue %d: %w", id, err)
	}

	issues := []model.Issue{is}
	if err := loadTags(ctx, s.db, issues); err != nil {
		return model.Issue{}, err
	}
	return issues[0], nil
}

// TagIssue attaches a tag to an issue. Attaching the same tag twice is a
// no-op.
func (s *Store) TagIssue(ctx context.Context, issueID, tagID int64) error {
	if _, err := s.GetIssue(ctx, issueID); err != nil {
		return err
	}
	if _, err := s.getTag(ctx, tagID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues_tags (issue_id, tag_id) VALUES (?, ?)
		ON CONFLICT (issue_id, tag_id) DO NOTHING
	`, issueID, tagID)
	if err != nil {
		return fmt.Errorf("tag issue %d: %w", issueID, err)
	}
	return nil
}

const tagSelect = `SELECT id, name, display_name, color FROM tags`

// CreateTag defines a new tag. A duplicate name is a *ValidationError on the
// name field.
func (s *Store) CreateTag(ctx context.Context, tag model.Tag) (model.Tag, error) {
	tag = normalizeTag(tag)
	if err := validateRecord(tag); err != nil {
		return model.Tag{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (name, display_name, color) VALUES (?, ?, ?)
	`, tag.Name, tag.DisplayName, tag.Color)
	if isUniqueViolation(err) {
		return model.Tag{}, &ValidationError{Field: "name", Message: "has already been taken"}
	}
	if err != nil {
		return model.Tag{}, fmt.Errorf("create tag %q: %w", tag.Name, err)
	}
	if tag.ID, err = res.LastInsertId(); err != nil {
		return model.Tag{}, fmt.Errorf("create tag %q: last insert id: %w", tag.Name, err)
	}
	return tag, nil
}

// EnsureTag returns the tag with tag.Name, creating it from tag when absent.
// An existing tag keeps its display name and color.
func (s *Store) EnsureTag(ctx context.Context, tag model.Tag) (model.Tag, error) {
	tag = normalizeTag(tag)
	if err := validateRecord(tag); err != nil {
		return model.Tag{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (name, display_name, color) VALUES (?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`, tag.Name, tag.DisplayName, tag.Color)
	if err != nil {
		return model.Tag{}, fmt.Errorf("ensure tag %q: %w", tag.Name, err)
	}
	return s.GetTagByName(ctx, tag.Name)
}

// GetTagByName looks a tag up by its unique name.
func (s *Store) GetTagByName(ctx context.Context, name string) (model.Tag, error) {
	name = norm.NFC.String(name)
	t, err := scanTag(s.db.QueryRowContext(ctx, tagSelect+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tag{}, &NotFoundError{Kind: "tag", Key: name}
	}
	if err != nil {
		return model.Tag{}, fmt.Errorf("get tag %q: %w", name, err)
	}
	return t, nil
}

func (s *Store) getTag(ctx context.Context, id int64) (model.Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, tagSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tag{}, notFound("tag", id)
	}
	if err != nil {
		return model.Tag{}, fmt.Errorf("get tag %d: %w", id, err)
	}
	return t, nil
}

// ListTags returns every tag in definition order (by id). Chart projections
// rely on this order being stable.
func (s *Store) ListTags(ctx context.Context) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, tagSelect+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("list tags: scan: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tags: iterate: %w", err)
	}
	return tags, nil
}

func scanTag(r rowScanner) (model.Tag, error) {
	var t model.Tag
	err := r.Scan(&t.ID, &t.Name, &t.DisplayName, &t.Color)
	return t, err
}

// normalizeTag fills DisplayName from Name when unset and lowercases the
// color so "#FF0000" and "#ff0000" compare equal.
func normalizeTag(t model.Tag) model.Tag {
	t.Name = norm.NFC.String(strings.TrimSpace(t.Name))
	t.DisplayName = norm.NFC.String(strings.TrimSpace(t.DisplayName))
	if t.DisplayName == "" {
		t.DisplayName = t.Name
	}
	t.Color = strings.ToLower(strings.TrimSpace(t.Color))
	return t
}

func requireNode(ctx context.Context, q querier, id int64) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("node", id)
	}
	if err != nil {
		return fmt.Errorf("check node %d: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
