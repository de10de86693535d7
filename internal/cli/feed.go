package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/snowcrash/internal/model"
)

// ActivityList renders activities newest first, one per line.
type ActivityList []model.Activity

func (l ActivityList) String() string {
	if len(l) == 0 {
		return "(no activity)"
	}
	lines := make([]string, len(l))
	for i, a := range l {
		lines[i] = formatActivity(a)
	}
	return strings.Join(lines, "\n")
}

func formatActivity(a model.Activity) string {
	actor := a.ActorRef
	if actor == "" {
		actor = "-"
	}
	return fmt.Sprintf("%s %-8s %-12s %s", a.OccurredAt.Format(time.RFC3339), a.Action, a.Trackable, actor)
}

// NewFeedCommand creates the feed command.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "feed <node-id>",
		Short: "Show the activity on a node, its notes and its evidence",
		Long: `Show the activity feed of a node: changes to the node itself, to its
notes and to its evidence, newest first. The default limit comes from
feed_limit in the config; 0 shows everything.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				id, err := parseID("node", args[0])
				if err != nil {
					return nil, err
				}
				n := p.cfg.FeedLimit
				if cmd.Flags().Changed("limit") {
					n = limit
				}
				activities, err := p.store.FeedFor(ctx, id, n)
				return ActivityList(activities), err
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries (0 = all)")

	return cmd
}
