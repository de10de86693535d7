package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/snowcrash/internal/queryir"
)

// Compile converts a queryir query to parameterized SQL for SQLite.
// Returns (sql, params, error).
//
// Every Select gets an ORDER BY; when the query names none, "id ASC" is used.
// Values are never interpolated. An In predicate without values fails with
// queryir.ErrEmptyIn instead of producing "IN ()".
func Compile(q queryir.Query) (string, []any, error) {
	switch query := q.(type) {
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil query")
	case queryir.Select:
		return compileSelect(query)
	case *queryir.Select:
		if query == nil {
			return "", nil, fmt.Errorf("cannot compile nil query")
		}
		return compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func compileSelect(q queryir.Select) (string, []any, error) {
	if q.From == "" {
		return "", nil, fmt.Errorf("select without source table")
	}
	if len(q.Columns) == 0 {
		return "", nil, fmt.Errorf("select on %s without columns", q.From)
	}

	var b strings.Builder
	var params []any

	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(q.Columns, ", "), q.From)

	if q.Filter != nil {
		where, whereParams, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = whereParams
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(orderClause(q.OrderBy))

	if q.Limit < 0 {
		return "", nil, fmt.Errorf("negative limit %d", q.Limit)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}

	return b.String(), params, nil
}

func orderClause(terms []queryir.Order) string {
	if len(terms) == 0 {
		return "id ASC"
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		dir := "ASC"
		if t.Desc {
			dir = "DESC"
		}
		parts[i] = t.Field + " " + dir
	}
	return strings.Join(parts, ", ")
}

// CompilePredicate compiles a single predicate to a WHERE fragment, for
// statements the Select shape does not cover (joins, deletes, updates).
// The same rules apply: parameters only, and no empty In.
func CompilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, fmt.Errorf("cannot compile nil predicate")
	}
	return compilePredicate(p)
}

func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return compileEquals(pred)
	case *queryir.Equals:
		return compileEquals(*pred)
	case queryir.IsNull:
		return pred.Field + " IS NULL", nil, nil
	case *queryir.IsNull:
		return pred.Field + " IS NULL", nil, nil
	case queryir.In:
		return compileIn(pred)
	case *queryir.In:
		return compileIn(*pred)
	case queryir.And:
		return compileJunction(pred.Predicates, " AND ", true)
	case *queryir.And:
		return compileJunction(pred.Predicates, " AND ", true)
	case queryir.Or:
		return compileJunction(pred.Predicates, " OR ", false)
	case *queryir.Or:
		return compileJunction(pred.Predicates, " OR ", false)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq queryir.Equals) (string, []any, error) {
	param, err := toParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("equals %s: %w", eq.Field, err)
	}
	return eq.Field + " = ?", []any{param}, nil
}

func compileIn(in queryir.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "", nil, fmt.Errorf("%s: %w", in.Field, queryir.ErrEmptyIn)
	}
	placeholders := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		param, err := toParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("in %s[%d]: %w", in.Field, i, err)
		}
		placeholders[i] = "?"
		params[i] = param
	}
	return fmt.Sprintf("%s IN (%s)", in.Field, strings.Join(placeholders, ", ")), params, nil
}

// compileJunction joins operands with sep. Multi-operand results are
// parenthesized so nesting keeps its meaning. An empty And is "1 = 1";
// an empty Or is an error.
func compileJunction(preds []queryir.Predicate, sep string, emptyOK bool) (string, []any, error) {
	if len(preds) == 0 {
		if emptyOK {
			return "1 = 1", nil, nil
		}
		return "", nil, fmt.Errorf("or predicate with no operands")
	}
	if len(preds) == 1 {
		return compilePredicate(preds[0])
	}

	parts := make([]string, 0, len(preds))
	var params []any
	for _, child := range preds {
		sql, childParams, err := compilePredicate(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, childParams...)
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

// toParam narrows a predicate value to a type database/sql accepts.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case bool:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
