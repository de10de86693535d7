// Package containers resolves the well-known singleton nodes every project
// has: the issue library, the methodology library, the plugin target and
// upload containers, and the Recovered bucket.
//
// Resolution always goes through the store's uniqueness-constrained
// get-or-create. The Factory never caches a node id, so a singleton that is
// destroyed is simply recreated on next use.
package containers

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/store"
)

// Key names a singleton container.
type Key string

const (
	IssueLibrary       Key = "issue_library"
	MethodologyLibrary Key = "methodology_library"
	PluginParent       Key = "plugin_parent"
	PluginUploads      Key = "plugin_uploads"
	Recovered          Key = "recovered"
)

// Keys lists every singleton key in a fixed order.
var Keys = []Key{IssueLibrary, MethodologyLibrary, PluginParent, PluginUploads, Recovered}

// Fixed labels. The plugin labels come from configuration.
const (
	IssueLibraryLabel       = "All issues"
	MethodologyLibraryLabel = "Methodologies"
	RecoveredLabel          = "Recovered"
)

// Labels carries the externally configured container labels.
type Labels struct {
	PluginParent  string
	PluginUploads string
}

// Store is the subset of *store.Store the Factory needs.
type Store interface {
	GetOrCreateSingleton(ctx context.Context, label string, typ model.NodeType) (model.Node, error)
	GetNode(ctx context.Context, id int64) (model.Node, error)
}

// Factory hands out singleton containers.
type Factory struct {
	store  Store
	labels Labels
	flight singleflight.Group
}

// New returns a Factory. Both labels must be non-empty.
func New(s Store, labels Labels) (*Factory, error) {
	if labels.PluginParent == "" {
		return nil, fmt.Errorf("containers: plugin parent label is empty")
	}
	if labels.PluginUploads == "" {
		return nil, fmt.Errorf("containers: plugin uploads label is empty")
	}
	return &Factory{store: s, labels: labels}, nil
}

// Resolve returns the label and type a key maps to.
func (f *Factory) Resolve(key Key) (string, model.NodeType, error) {
	switch key {
	case IssueLibrary:
		return IssueLibraryLabel, model.NodeTypeIssueLibrary, nil
	case MethodologyLibrary:
		return MethodologyLibraryLabel, model.NodeTypeMethodology, nil
	case PluginParent:
		return f.labels.PluginParent, model.NodeTypeDefault, nil
	case PluginUploads:
		return f.labels.PluginUploads, model.NodeTypeDefault, nil
	case Recovered:
		return RecoveredLabel, model.NodeTypeDefault, nil
	default:
		return "", 0, fmt.Errorf("containers: unknown key %q", key)
	}
}

// Get returns the container for key, creating it on first use.
//
// Concurrent callers in this process share one store round trip per
// (label, type); callers in other processes are serialized by the store's
// unique index. The shared call does not inherit any caller's cancellation:
// a cancelled caller returns its own ctx error while the others keep waiting.
func (f *Factory) Get(ctx context.Context, key Key) (model.Node, error) {
	label, typ, err := f.Resolve(key)
	if err != nil {
		return model.Node{}, err
	}

	flightKey := fmt.Sprintf("%d/%s", typ, label)
	ch := f.flight.DoChan(flightKey, func() (any, error) {
		return f.store.GetOrCreateSingleton(context.WithoutCancel(ctx), label, typ)
	})
	select {
	case <-ctx.Done():
		return model.Node{}, fmt.Errorf("resolve %s container: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return model.Node{}, fmt.Errorf("resolve %s container: %w", key, res.Err)
		}
		return res.Val.(model.Node), nil
	}
}

// IssueLibrary returns the container all issues are filed in.
func (f *Factory) IssueLibrary(ctx context.Context) (model.Node, error) {
	return f.Get(ctx, IssueLibrary)
}

// MethodologyLibrary returns the container holding methodology notes.
func (f *Factory) MethodologyLibrary(ctx context.Context) (model.Node, error) {
	return f.Get(ctx, MethodologyLibrary)
}

// PluginParent returns the node upload plugins create their nodes under.
func (f *Factory) PluginParent(ctx context.Context) (model.Node, error) {
	return f.Get(ctx, PluginParent)
}

// PluginUploads returns the node holding uploaded scanner output.
func (f *Factory) PluginUploads(ctx context.Context) (model.Node, error) {
	return f.Get(ctx, PluginUploads)
}

// Recovered returns the bucket for records whose node no longer exists.
func (f *Factory) Recovered(ctx context.Context) (model.Node, error) {
	return f.Get(ctx, Recovered)
}

// RecoverTarget returns the node a recovered record should be reassigned
// to: its original node if that still exists, otherwise the Recovered
// bucket. Reassignment is always the caller's decision; nothing calls this
// implicitly.
func (f *Factory) RecoverTarget(ctx context.Context, originalNodeID int64) (model.Node, error) {
	n, err := f.store.GetNode(ctx, originalNodeID)
	if err == nil {
		return n, nil
	}
	if !store.IsNotFound(err) {
		return model.Node{}, err
	}
	return f.Recovered(ctx)
}
