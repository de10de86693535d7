package model

import (
	"fmt"
	"strings"
)

// NodeType classifies a node. Values are persisted in nodes.type_id.
type NodeType int

const (
	NodeTypeDefault      NodeType = 0
	NodeTypeHost         NodeType = 1
	NodeTypeMethodology  NodeType = 2
	NodeTypeIssueLibrary NodeType = 3
)

// UserTypes are the node types shown in the repository tree. Only nodes of
// these types may have children.
var UserTypes = []NodeType{NodeTypeDefault, NodeTypeHost}

var nodeTypeNames = map[NodeType]string{
	NodeTypeDefault:      "default",
	NodeTypeHost:         "host",
	NodeTypeMethodology:  "methodology",
	NodeTypeIssueLibrary: "issuelib",
}

// String returns the lowercase name used by the CLI and templates.
func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	_, ok := nodeTypeNames[t]
	return ok
}

// UserVisible reports whether t is in UserTypes.
func (t NodeType) UserVisible() bool {
	for _, ut := range UserTypes {
		if ut == t {
			return true
		}
	}
	return false
}

// ParseNodeType converts a type name ("default", "host", ...) to a NodeType.
// The empty string yields NodeTypeDefault.
func ParseNodeType(s string) (NodeType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return NodeTypeDefault, nil
	}
	for t, name := range nodeTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown node type %q", s)
}

// Node is a container in the repository tree.
type Node struct {
	ID            int64    `json:"id"`
	Label         string   `json:"label" validate:"notblank"`
	Type          NodeType `json:"type_id" validate:"nodetype"`
	ParentID      *int64   `json:"parent_id,omitempty"`
	Position      int      `json:"position"`
	ChildrenCount int      `json:"children_count"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

// UserNode reports whether the node may act as a parent.
func (n Node) UserNode() bool {
	return n.Type.UserVisible()
}

// Ref returns the activity reference for this node.
func (n Node) Ref() TrackableRef {
	return TrackableRef{Kind: TrackableNode, ID: n.ID}
}

func (Node) trackable() {}

// NewNode carries the caller-supplied attributes for node creation.
// Zero values mean "unset": Type defaults to NodeTypeDefault and Position to 0.
type NewNode struct {
	Label    string
	Type     NodeType
	ParentID *int64
	Position int
}
