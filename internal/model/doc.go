// Package model provides the domain types for the assessment repository.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal.
//
// Key design constraints:
//   - Nodes reference their parent by identifier, never by pointer
//   - All JSON tags use snake_case
//   - Activity owners are a closed set (Node, Note, Evidence) expressed as
//     TrackableKind plus a sealed Trackable interface
package model
