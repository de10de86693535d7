package model

import (
	"fmt"
	"strings"
	"time"
)

// TrackableKind names the kind of entity an Activity points at.
// The string values are the ones persisted in activities.trackable_type.
type TrackableKind string

const (
	TrackableNode     TrackableKind = "Node"
	TrackableNote     TrackableKind = "Note"
	TrackableEvidence TrackableKind = "Evidence"
)

// TrackableKinds lists every kind in a fixed order.
var TrackableKinds = []TrackableKind{TrackableNode, TrackableNote, TrackableEvidence}

// Valid reports whether k is a known kind.
func (k TrackableKind) Valid() bool {
	switch k {
	case TrackableNode, TrackableNote, TrackableEvidence:
		return true
	}
	return false
}

// ParseTrackableKind accepts either the persisted form ("Note") or the
// lowercase CLI form ("note").
func ParseTrackableKind(s string) (TrackableKind, error) {
	for _, k := range TrackableKinds {
		if string(k) == s || strings.ToLower(string(k)) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown trackable kind %q", s)
}

// TrackableRef is the (type, id) pair an Activity points at.
type TrackableRef struct {
	Kind TrackableKind `json:"trackable_type"`
	ID   int64         `json:"trackable_id"`
}

func (r TrackableRef) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// Trackable is implemented by Node, Note and Evidence only.
type Trackable interface {
	Ref() TrackableRef
	trackable()
}

// Activity is a log entry describing an action taken on a trackable entity.
type Activity struct {
	ID         int64        `json:"id"`
	Trackable  TrackableRef `json:"trackable"`
	Action     string       `json:"action"`
	ActorRef   string       `json:"actor_ref"`
	OccurredAt time.Time    `json:"occurred_at"`
}
