// Package queryir provides a small query intermediate representation for the
// repository store.
//
// Store queries that are assembled at runtime (activity feeds, type filters,
// tag loading) are built as Select values and compiled to SQL by package
// querysql. Keeping the shape in an IR lets the compiler enforce the rules
// every backend must follow:
//
//   - Values are always parameters, never interpolated
//   - Every Select is ordered; results never depend on storage order
//   - Membership predicates (In) must carry at least one value. An empty
//     "IN ()" is a syntax error on some backends and trivially false on
//     others, so the IR refuses to represent it. Builders drop the branch
//     instead (see InInt64).
//
// Query and Predicate are sealed interfaces using the marker method pattern,
// so compilers can switch exhaustively on them.
package queryir
