package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/snowcrash/internal/model"
)

// TagList renders tags one per line in definition order.
type TagList []model.Tag

func (l TagList) String() string {
	if len(l) == 0 {
		return "(no tags)"
	}
	lines := make([]string, len(l))
	for i, t := range l {
		lines[i] = fmt.Sprintf("#%d %s %q %s", t.ID, t.Name, t.DisplayName, t.Color)
	}
	return strings.Join(lines, "\n")
}

// NewNoteCommand creates the note command group.
func NewNoteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes",
	}
	cmd.AddCommand(newNoteAddCommand(rootOpts))
	return cmd
}

func newNoteAddCommand(rootOpts *RootOptions) *cobra.Command {
	var recoverNode bool

	cmd := &cobra.Command{
		Use:   "add <node-id> <text>",
		Short: "Add a note to a node",
		Long: `Add a note to a node.

With --recover, a note whose node no longer exists is filed under the
Recovered folder instead of failing. Use it when re-importing notes
exported from a project whose tree has since changed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				nodeID, err := parseID("node", args[0])
				if err != nil {
					return nil, err
				}
				if recoverNode {
					target, err := p.containers.RecoverTarget(ctx, nodeID)
					if err != nil {
						return nil, err
					}
					if target.ID != nodeID {
						p.logger.Info("note filed under recovery folder", "original_node_id", nodeID, "node_id", target.ID)
					}
					nodeID = target.ID
				}

				note, err := p.store.CreateNote(ctx, nodeID, args[1])
				if err != nil {
					return nil, err
				}
				p.record(ctx, note.Ref(), "create")
				return note, nil
			})
		},
	}

	cmd.Flags().BoolVar(&recoverNode, "recover", false, "file the note under Recovered if the node is gone")

	return cmd
}

// NewEvidenceCommand creates the evidence command group.
func NewEvidenceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Manage evidence",
	}
	cmd.AddCommand(newEvidenceAddCommand(rootOpts))
	return cmd
}

func newEvidenceAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "add <node-id> <issue-id> [content]",
		Short:         "Record evidence of an issue on a node",
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				nodeID, err := parseID("node", args[0])
				if err != nil {
					return nil, err
				}
				issueID, err := parseID("issue", args[1])
				if err != nil {
					return nil, err
				}
				var content string
				if len(args) == 3 {
					content = args[2]
				}

				ev, err := p.store.CreateEvidence(ctx, nodeID, issueID, content)
				if err != nil {
					return nil, err
				}
				p.record(ctx, ev.Ref(), "create")
				return ev, nil
			})
		},
	}
}

// NewIssueCommand creates the issue command group.
func NewIssueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Manage the issue library",
	}
	cmd.AddCommand(newIssueAddCommand(rootOpts))
	return cmd
}

func newIssueAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		text string
		tags []string
		node string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "File an issue, in the issue library unless --node is given",
		Long: `File an issue. Tags are given by name and must already exist.

Example:
  snowcrash issue add "Weak TLS configuration" --tag 2_high`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				var nodeID int64
				if node != "" {
					id, err := parseID("node", node)
					if err != nil {
						return nil, err
					}
					nodeID = id
				} else {
					lib, err := p.containers.IssueLibrary(ctx)
					if err != nil {
						return nil, err
					}
					nodeID = lib.ID
				}

				tagIDs := make([]int64, 0, len(tags))
				for _, name := range tags {
					tag, err := p.store.GetTagByName(ctx, name)
					if err != nil {
						return nil, err
					}
					tagIDs = append(tagIDs, tag.ID)
				}

				issue, err := p.store.CreateIssue(ctx, nodeID, args[0], text)
				if err != nil {
					return nil, err
				}
				for _, id := range tagIDs {
					if err := p.store.TagIssue(ctx, issue.ID, id); err != nil {
						return nil, err
					}
				}
				return p.store.GetIssue(ctx, issue.ID)
			})
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "issue description")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag name (repeatable)")
	cmd.Flags().StringVar(&node, "node", "", "file the issue under this node instead of the library")

	return cmd
}

// NewTagCommand creates the tag command group.
func NewTagCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage issue tags",
	}
	cmd.AddCommand(newTagAddCommand(rootOpts))
	cmd.AddCommand(newTagListCommand(rootOpts))
	return cmd
}

func newTagAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		displayName string
		color       string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Define a tag",
		Long: `Define a tag. Tags are listed, and charted, in the order they are
defined, so name them with a sortable prefix such as "1_critical".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				return p.store.CreateTag(ctx, model.Tag{Name: args[0], DisplayName: displayName, Color: color})
			})
		},
	}

	cmd.Flags().StringVar(&displayName, "display-name", "", "name shown in reports (default: the tag name)")
	cmd.Flags().StringVar(&color, "color", "#888888", "hex color")

	return cmd
}

func newTagListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List tags in definition order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				tags, err := p.store.ListTags(ctx)
				return TagList(tags), err
			})
		},
	}
}
