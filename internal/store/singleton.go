package store

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/snowcrash/internal/model"
)

// GetOrCreateSingleton returns the unique singleton node with the given label
// and type, creating it as a root on first use.
//
// Uses INSERT ... ON CONFLICT DO NOTHING against the partial UNIQUE index on
// singleton rows, then re-reads the row in the same transaction. When two
// callers race, the loser's insert is a no-op and it returns the winner's
// row; neither sees an error.
//
// Singleton rows are distinct from user-created nodes that happen to share a
// label: a user can still create an ordinary root called "Recovered".
func (s *Store) GetOrCreateSingleton(ctx context.Context, label string, typ model.NodeType) (node model.Node, err error) {
	defer func() { observeMutation("singleton", err) }()

	label = norm.NFC.String(label)
	if err := validateRecord(model.Node{Label: label, Type: typ}); err != nil {
		return model.Node{}, err
	}

	var inserted bool
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (label, type_id, position, singleton)
			VALUES (?, ?, 0, 1)
			ON CONFLICT DO NOTHING
		`, label, int(typ))
		if err != nil {
			return fmt.Errorf("singleton %q: insert: %w", label, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("singleton %q: rows affected: %w", label, err)
		}
		inserted = affected > 0

		row := tx.QueryRowContext(ctx, nodeSelect+`
			WHERE label = ? AND type_id = ? AND singleton = 1
		`, label, int(typ))
		if node, err = scanNode(row); err != nil {
			return fmt.Errorf("singleton %q: select: %w", label, err)
		}
		return nil
	})
	if err != nil {
		return model.Node{}, err
	}

	outcome := "existing"
	if inserted {
		outcome = "created"
		s.logger.Info("singleton created", "id", node.ID, "label", node.Label, "type", typ.String())
	} else {
		s.logger.Debug("singleton found", "id", node.ID, "label", node.Label, "type", typ.String())
	}
	singletonResolutions.WithLabelValues(outcome).Inc()

	return node, nil
}

// SingletonCount returns how many singleton rows carry the given label and
// type. The unique index keeps this at 0 or 1.
func (s *Store) SingletonCount(ctx context.Context, label string, typ model.NodeType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nodes WHERE label = ? AND type_id = ? AND singleton = 1
	`, norm.NFC.String(label), int(typ)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count singleton %q: %w", label, err)
	}
	return n, nil
}
