package model

// Note is free-form content owned by a node.
type Note struct {
	ID     int64  `json:"id"`
	NodeID int64  `json:"node_id"`
	Text   string `json:"text" validate:"notblank"`
}

// Ref returns the activity reference for this note.
func (n Note) Ref() TrackableRef {
	return TrackableRef{Kind: TrackableNote, ID: n.ID}
}

func (Note) trackable() {}

// Evidence links a node to an issue, carrying supporting detail.
type Evidence struct {
	ID      int64  `json:"id"`
	NodeID  int64  `json:"node_id"`
	IssueID int64  `json:"issue_id"`
	Content string `json:"content"`
}

// Ref returns the activity reference for this evidence record.
func (e Evidence) Ref() TrackableRef {
	return TrackableRef{Kind: TrackableEvidence, ID: e.ID}
}

func (Evidence) trackable() {}

// Issue is a finding filed in a container node (normally the issue library)
// and referenced from other nodes through Evidence.
type Issue struct {
	ID     int64  `json:"id"`
	NodeID int64  `json:"node_id"`
	Title  string `json:"title" validate:"notblank"`
	Text   string `json:"text"`
	Tags   []Tag  `json:"tags"`
}

// UnassignedTagName is the classification key of issues without tags. It is
// reserved: no tag may be named after it.
const UnassignedTagName = "unassigned"

// Tag is a classification label. Name is the unique key; DisplayName and
// Color are used for rendering.
type Tag struct {
	ID          int64  `json:"id"`
	Name        string `json:"name" validate:"notblank,max=255,ne=unassigned"`
	DisplayName string `json:"display_name" validate:"notblank"`
	Color       string `json:"color" validate:"required,hexcolor"`
}
