package store

import "slices"

// maxBoundIDs caps the ids bound into a single statement. SQLite refuses
// statements with more than 32766 host parameters, so id lists gathered
// from a subtree or a node's dependents are split into runs of this size.
var maxBoundIDs = 500

// idChunks splits ids into runs of at most maxBoundIDs. An empty list
// yields no runs.
func idChunks(ids []int64) [][]int64 {
	return slices.Collect(slices.Chunk(ids, maxBoundIDs))
}
