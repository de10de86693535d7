package queryir

import "errors"

// ErrEmptyIn is returned when an In predicate has no values.
var ErrEmptyIn = errors.New("queryir: IN predicate with no values")

// Query represents an abstract query.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: field = value
//   - IsNull: field IS NULL
//   - In: field IN (v1, ..., vN), N >= 1
//   - And: all predicates must be true
//   - Or: at least one predicate must be true
type Predicate interface {
	predicateNode()
}

// Select represents a single-table read.
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order> LIMIT <limit>
//
// Columns must be explicit. OrderBy may be empty, in which case compilers
// order by "id ASC".
type Select struct {
	From    string
	Columns []string
	Filter  Predicate // nil = no filter
	OrderBy []Order
	Limit   int // 0 = no limit
}

func (Select) queryNode() {}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Asc returns an ascending order term.
func Asc(field string) Order { return Order{Field: field} }

// Desc returns a descending order term.
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Equals represents field = value. Value must be a string, int64, int or bool.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// IsNull represents field IS NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// In represents field IN (values...). Values must be non-empty.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// And represents a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or represents a disjunction. An empty Or is rejected by the compiler.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// InInt64 returns an In predicate over ids, or nil when ids is empty.
// Callers drop nil branches rather than emitting an empty membership test.
func InInt64(field string, ids []int64) Predicate {
	if len(ids) == 0 {
		return nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return In{Field: field, Values: values}
}

// AnyOf builds an Or from the non-nil predicates. It returns nil when none
// remain and the single predicate when only one does.
func AnyOf(preds ...Predicate) Predicate {
	kept := compact(preds)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return Or{Predicates: kept}
}

// AllOf builds an And from the non-nil predicates, collapsing like AnyOf.
func AllOf(preds ...Predicate) Predicate {
	kept := compact(preds)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And{Predicates: kept}
}

func compact(preds []Predicate) []Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return kept
}
