// Package store provides SQLite-backed storage for the assessment repository:
// the node tree, the records nodes own (notes, evidence, issues), tags, and
// the activity log.
//
// # Tree invariants
//
//   - A node with a parent must point at an existing node whose type is one
//     of model.UserTypes. Root nodes may have any type.
//   - Labels are never blank.
//   - nodes.children_count equals the number of rows whose parent_id points
//     at the node. Every mutation that changes parentage updates the counter
//     in the same transaction.
//
// # Singletons
//
// Well-known containers (issue library, methodology library, ...) are rows
// with singleton = 1. A partial UNIQUE(label, type_id) index on those rows
// makes get-or-create race free: the losing insert is ignored and the row is
// re-read in the same transaction.
//
// # Destruction
//
// DestroyNode removes a node, its descendants, and everything they own in one
// transaction. Attachment directories are staged through an AttachmentHook
// before commit and purged after it; see destroy.go.
//
// # Deterministic results
//
// Every multi-row query carries an ORDER BY with an id tiebreaker.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
