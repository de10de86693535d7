package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/snowcrash/internal/report"
)

// SummaryView is the project summary with a text rendering.
type SummaryView struct {
	*report.Summary
}

func (v SummaryView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issues (%d)\n", len(v.Issues))
	for _, is := range v.Issues {
		names := make([]string, len(is.Tags))
		for i, t := range is.Tags {
			names[i] = t.Name
		}
		fmt.Fprintf(&b, "  #%d %s", is.ID, is.Title)
		if len(names) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("By tag\n")
	for _, bar := range v.Bars {
		fmt.Fprintf(&b, "  %-3s %-16s %s %d\n", bar.Label, bar.Key, bar.Color, bar.Count)
	}

	fmt.Fprintf(&b, "Methodologies (%d)\n", len(v.Methodologies))
	for _, m := range v.Methodologies {
		fmt.Fprintf(&b, "  #%d %s\n", m.ID, firstLine(m.Content))
	}

	fmt.Fprintf(&b, "Nodes (%d)\n", len(v.Nodes))
	for _, n := range v.Nodes {
		fmt.Fprintf(&b, "  %s\n", formatNode(n))
	}

	b.WriteString("Latest activity\n")
	for _, a := range v.Activities {
		fmt.Fprintf(&b, "  %s\n", formatActivity(a))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		filed  bool
		latest int
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the project dashboard",
		Long: `Show the project dashboard: issues with their tag classification,
methodologies, tree roots and the latest activity.

By default the issues are those with evidence in the issue library tree.
With --filed, every issue filed in the library is listed instead.

With --format json the output includes the chart data, keyed by tag name
in tag order with the unassigned bucket last.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				n := p.cfg.LatestActivities
				if cmd.Flags().Changed("latest") {
					n = latest
				}
				sum, err := report.Build(ctx, p.store, p.containers, report.Options{
					LatestActivities: n,
					FiledIssues:      filed,
				})
				if err != nil {
					return nil, err
				}
				return SummaryView{Summary: sum}, nil
			})
		},
	}

	cmd.Flags().BoolVar(&filed, "filed", false, "list issues filed in the library rather than reached through evidence")
	cmd.Flags().IntVar(&latest, "latest", 0, "number of recent activities (default from config)")

	return cmd
}
