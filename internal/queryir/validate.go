package queryir

import "fmt"

// ValidationResult lists the problems found in a query.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid bool

	// Problems describes each rule violation, in traversal order.
	Problems []string
}

// Validate checks a query against the IR rules without compiling it.
//
// Rules:
//  1. Select must name a source table and at least one column
//  2. In predicates must carry at least one value
//  3. Or predicates must carry at least one operand
//  4. Field names must be non-empty
//  5. Limit must not be negative
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{}
	v.validateQuery(query)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addProblem("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		if query == nil {
			v.addProblem("nil query")
			return
		}
		v.validateSelect(*query)
	default:
		v.addProblem("unknown query type %T", q)
	}
}

func (v *validator) validateSelect(s Select) {
	if s.From == "" {
		v.addProblem("select without source table")
	}
	if len(s.Columns) == 0 {
		v.addProblem("select on %q without explicit columns", s.From)
	}
	if s.Limit < 0 {
		v.addProblem("negative limit %d", s.Limit)
	}
	for _, o := range s.OrderBy {
		if o.Field == "" {
			v.addProblem("order term with empty field")
		}
	}
	if s.Filter != nil {
		v.validatePredicate(s.Filter)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.checkField(pred.Field, "equals")
	case *Equals:
		v.checkField(pred.Field, "equals")
	case IsNull:
		v.checkField(pred.Field, "is-null")
	case *IsNull:
		v.checkField(pred.Field, "is-null")
	case In:
		v.validateIn(pred)
	case *In:
		v.validateIn(*pred)
	case And:
		for _, child := range pred.Predicates {
			v.validatePredicate(child)
		}
	case *And:
		for _, child := range pred.Predicates {
			v.validatePredicate(child)
		}
	case Or:
		v.validateOr(pred)
	case *Or:
		v.validateOr(*pred)
	default:
		v.addProblem("unknown predicate type %T", p)
	}
}

func (v *validator) validateIn(in In) {
	v.checkField(in.Field, "in")
	if len(in.Values) == 0 {
		v.addProblem("in predicate on %q has no values", in.Field)
	}
}

func (v *validator) validateOr(or Or) {
	if len(or.Predicates) == 0 {
		v.addProblem("or predicate with no operands")
	}
	for _, child := range or.Predicates {
		v.validatePredicate(child)
	}
}

func (v *validator) checkField(field, kind string) {
	if field == "" {
		v.addProblem("%s predicate with empty field", kind)
	}
}
