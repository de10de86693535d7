package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/store"
)

// NodeList is a list of nodes rendered one per line.
type NodeList []model.Node

func (l NodeList) String() string {
	if len(l) == 0 {
		return "(no nodes)"
	}
	lines := make([]string, len(l))
	for i, n := range l {
		lines[i] = formatNode(n)
	}
	return strings.Join(lines, "\n")
}

func formatNode(n model.Node) string {
	return fmt.Sprintf("#%d %s [%s] children=%d", n.ID, n.Label, n.Type, n.ChildrenCount)
}

// NodeView is a node with everything attached to it.
type NodeView struct {
	Node        model.Node       `json:"node"`
	Ancestors   []model.Node     `json:"ancestors"`
	Children    []model.Node     `json:"children"`
	Notes       []model.Note     `json:"notes"`
	Evidence    []model.Evidence `json:"evidence"`
	Issues      []model.Issue    `json:"issues"`
	Attachments []string         `json:"attachments"`
}

func (v NodeView) String() string {
	var b strings.Builder
	b.WriteString(formatNode(v.Node))
	if len(v.Ancestors) > 0 {
		path := make([]string, len(v.Ancestors))
		for i, a := range v.Ancestors {
			path[len(v.Ancestors)-1-i] = a.Label
		}
		fmt.Fprintf(&b, "\n  path: %s", strings.Join(path, " / "))
	}
	for _, c := range v.Children {
		fmt.Fprintf(&b, "\n  child #%d %s", c.ID, c.Label)
	}
	for _, n := range v.Notes {
		fmt.Fprintf(&b, "\n  note #%d %s", n.ID, firstLine(n.Text))
	}
	for _, e := range v.Evidence {
		fmt.Fprintf(&b, "\n  evidence #%d issue=%d", e.ID, e.IssueID)
	}
	for _, is := range v.Issues {
		fmt.Fprintf(&b, "\n  issue #%d %s", is.ID, is.Title)
	}
	for _, a := range v.Attachments {
		fmt.Fprintf(&b, "\n  attachment %s", a)
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// DestroyResult reports what a destroy removed.
type DestroyResult struct {
	ID      int64               `json:"id"`
	Removed store.DestroyReport `json:"removed"`
}

func (r DestroyResult) String() string {
	return fmt.Sprintf("✓ Destroyed node #%d (%d nodes, %d notes, %d evidence, %d issues)",
		r.ID, r.Removed.Nodes, r.Removed.Notes, r.Removed.Evidence, r.Removed.Issues)
}

// FsckResult lists counter drift and orphaned attachment directories.
type FsckResult struct {
	Drift    []store.CounterDrift `json:"drift"`
	Orphans  []string             `json:"orphans"`
	Repaired int64                `json:"repaired"`
}

func (r FsckResult) String() string {
	if len(r.Drift) == 0 && len(r.Orphans) == 0 {
		return "✓ No problems found"
	}
	var b strings.Builder
	for _, d := range r.Drift {
		fmt.Fprintf(&b, "node #%d children_count=%d actual=%d\n", d.NodeID, d.Cached, d.Actual)
	}
	for _, o := range r.Orphans {
		fmt.Fprintf(&b, "orphaned attachments: %s\n", o)
	}
	if r.Repaired > 0 {
		fmt.Fprintf(&b, "✓ Repaired %d counter(s)\n", r.Repaired)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewNodeCommand creates the node command group.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage the node tree",
	}

	cmd.AddCommand(newNodeCreateCommand(rootOpts))
	cmd.AddCommand(newNodeDestroyCommand(rootOpts))
	cmd.AddCommand(newNodeListCommand(rootOpts))
	cmd.AddCommand(newNodeShowCommand(rootOpts))
	cmd.AddCommand(newNodeMoveCommand(rootOpts))
	cmd.AddCommand(newNodeAttachCommand(rootOpts))
	cmd.AddCommand(newNodeFsckCommand(rootOpts))

	return cmd
}

func newNodeCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		typeName string
		parent   string
		position int
	)

	cmd := &cobra.Command{
		Use:   "create <label>",
		Short: "Create a node",
		Long: `Create a node. Without --parent the node is a root.

Example:
  snowcrash node create "10.0.0.0/24"
  snowcrash node create 10.0.0.5 --type host --parent 1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				typ, err := model.ParseNodeType(typeName)
				if err != nil || !typ.UserVisible() {
					return nil, &store.ValidationError{Field: "type_id", Message: "is not a known node type"}
				}
				in := model.NewNode{Label: args[0], Type: typ, Position: position}
				if parent != "" {
					id, err := parseID("parent", parent)
					if err != nil {
						return nil, err
					}
					in.ParentID = &id
				}

				node, err := p.store.CreateNode(ctx, in)
				if err != nil {
					return nil, err
				}
				p.record(ctx, node.Ref(), "create")
				return node, nil
			})
		},
	}

	cmd.Flags().StringVarP(&typeName, "type", "t", "default", "node type (default|host)")
	cmd.Flags().StringVarP(&parent, "parent", "p", "", "parent node id")
	cmd.Flags().IntVar(&position, "position", 0, "sort position among siblings")

	return cmd
}

func newNodeDestroyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy a node, its subtree and everything attached",
		Long: `Destroy a node together with its descendants, their notes, evidence and
issues, and their attachment directories. The destroy is refused when
evidence outside the subtree still references an issue inside it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				id, err := parseID("node", args[0])
				if err != nil {
					return nil, err
				}
				node, err := p.store.GetNode(ctx, id)
				if err != nil {
					return nil, err
				}
				removed, err := p.store.DestroyNode(ctx, id)
				if err != nil {
					return nil, err
				}
				p.record(ctx, node.Ref(), "destroy")
				return DestroyResult{ID: id, Removed: removed}, nil
			})
		},
	}
}

func newNodeListCommand(rootOpts *RootOptions) *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List tree roots, or the children of --parent",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				if parent == "" {
					nodes, err := p.store.InTree(ctx)
					return NodeList(nodes), err
				}
				id, err := parseID("parent", parent)
				if err != nil {
					return nil, err
				}
				if _, err := p.store.GetNode(ctx, id); err != nil {
					return nil, err
				}
				nodes, err := p.store.Children(ctx, id)
				return NodeList(nodes), err
			})
		},
	}

	cmd.Flags().StringVarP(&parent, "parent", "p", "", "list the children of this node")

	return cmd
}

func newNodeShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a node with its notes, evidence, issues and attachments",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				id, err := parseID("node", args[0])
				if err != nil {
					return nil, err
				}
				return showNode(ctx, p, id)
			})
		},
	}
}

func showNode(ctx context.Context, p *project, id int64) (NodeView, error) {
	var (
		v   NodeView
		err error
	)
	if v.Node, err = p.store.GetNode(ctx, id); err != nil {
		return v, err
	}
	if v.Ancestors, err = p.store.Ancestors(ctx, id); err != nil {
		return v, err
	}
	if v.Children, err = p.store.Children(ctx, id); err != nil {
		return v, err
	}
	if v.Notes, err = p.store.NotesFor(ctx, id); err != nil {
		return v, err
	}
	if v.Evidence, err = p.store.EvidenceFor(ctx, id); err != nil {
		return v, err
	}
	if v.Issues, err = p.store.NodeIssues(ctx, id); err != nil {
		return v, err
	}
	if v.Attachments, err = p.attachments.List(id); err != nil {
		return v, err
	}
	return v, nil
}

func newNodeMoveCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		parent string
		root   bool
	)

	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a node under --parent, or make it a root with --root",
		Long: `Move a node. Moving a node under one of its own descendants is refused.

Example:
  snowcrash node move 7 --parent 3
  snowcrash node move 7 --root`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				id, err := parseID("node", args[0])
				if err != nil {
					return nil, err
				}
				if root == (parent != "") {
					return nil, NewExitError(ExitCommandError, "exactly one of --parent or --root is required")
				}
				var parentID *int64
				if !root {
					pid, err := parseID("parent", parent)
					if err != nil {
						return nil, err
					}
					parentID = &pid
				}

				node, err := p.store.MoveNode(ctx, id, parentID)
				if err != nil {
					return nil, err
				}
				p.record(ctx, node.Ref(), "update")
				return node, nil
			})
		},
	}

	cmd.Flags().StringVarP(&parent, "parent", "p", "", "new parent node id")
	cmd.Flags().BoolVar(&root, "root", false, "make the node a root")

	return cmd
}

func newNodeAttachCommand(rootOpts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:           "attach <id> <file>",
		Short:         "Copy a file into a node's attachment directory",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				id, err := parseID("node", args[0])
				if err != nil {
					return nil, err
				}
				node, err := p.store.GetNode(ctx, id)
				if err != nil {
					return nil, err
				}

				src, err := os.Open(args[1])
				if err != nil {
					return nil, err
				}
				defer src.Close()

				if name == "" {
					name = filepath.Base(args[1])
				}
				path, err := p.attachments.Save(id, name, src)
				if err != nil {
					return nil, err
				}
				p.record(ctx, node.Ref(), "update")
				return path, nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "attachment name (default: the file's base name)")

	return cmd
}

func newNodeFsckCommand(rootOpts *RootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "Check children counters and attachment directories",
		Long: `Compare every node's cached children_count with its actual number of
children, and list attachment directories whose node no longer exists.
With --repair, drifted counters are recomputed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				var (
					res FsckResult
					err error
				)
				if res.Drift, err = p.store.CheckCounters(ctx); err != nil {
					return nil, err
				}
				if res.Orphans, err = orphanedAttachments(ctx, p); err != nil {
					return nil, err
				}
				if repair && len(res.Drift) > 0 {
					if res.Repaired, err = p.store.RepairCounters(ctx); err != nil {
						return nil, err
					}
				}
				return res, nil
			})
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "recompute drifted counters")

	return cmd
}

// orphanedAttachments returns leftover staging areas and attachment
// directories whose node no longer exists.
func orphanedAttachments(ctx context.Context, p *project) ([]string, error) {
	orphans, err := p.attachments.Orphans()
	if err != nil {
		return nil, err
	}
	if orphans == nil {
		orphans = []string{}
	}

	ids, err := p.attachments.NodeDirs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		_, err := p.store.GetNode(ctx, id)
		switch {
		case store.IsNotFound(err):
			orphans = append(orphans, p.attachments.Dir(id))
		case err != nil:
			return nil, err
		}
	}
	return orphans, nil
}
