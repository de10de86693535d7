package store

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input that cannot be stored: a blank label,
// an unknown type, or a parent that is missing or may not have children.
// Retrying with the same input fails the same way.
type ValidationError struct {
	// Field is the offending attribute, using the column name ("label",
	// "parent_id", "type_id", ...).
	Field string

	// Message completes the sentence "<field> <message>".
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// ConstraintError reports a structural operation that would break a tree
// invariant: introducing a cycle, walking a cyclic parent chain, or deleting
// issues that evidence elsewhere still references.
type ConstraintError struct {
	// Op names the operation that was refused ("destroy", "move", ...).
	Op string

	// NodeID is the node the operation targeted.
	NodeID int64

	// Message describes the violated invariant.
	Message string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violated: %s node %d: %s", e.Op, e.NodeID, e.Message)
}

// NotFoundError reports a lookup by identifier that matched nothing.
type NotFoundError struct {
	// Kind is the entity kind ("node", "note", "evidence", "issue", "tag").
	Kind string

	// ID is the identifier that was looked up. Zero when the lookup was by
	// name (see Key).
	ID int64

	// Key is the natural key for name-based lookups.
	Key string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
	}
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// IsValidation returns true if err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConstraint returns true if err is or wraps a *ConstraintError.
func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

// IsNotFound returns true if err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

func notFound(kind string, id int64) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}
