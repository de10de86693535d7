package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/snowcrash/internal/template"
)

// TemplateResult reports what a template apply created.
type TemplateResult struct {
	File string `json:"file"`
	template.Result
}

func (r TemplateResult) String() string {
	return fmt.Sprintf("✓ Applied %s: %d tags, %d nodes, %d notes, %d issues",
		r.File, r.Tags, r.Nodes, r.Notes, r.Issues)
}

// NewTemplateCommand creates the template command group.
func NewTemplateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Seed a project from a CUE template",
	}
	cmd.AddCommand(newTemplateApplyCommand(rootOpts))
	cmd.AddCommand(newTemplateCheckCommand(rootOpts))
	return cmd
}

func newTemplateApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file.cue>",
		Short: "Create the tags, nodes, methodologies and issues a template defines",
		Long: `Apply a CUE project template. The whole file is checked against the
template schema before anything is written. Tags are matched by name, so
applying a template twice does not duplicate them; nodes, notes and issues
are created every time.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			tpl, err := template.Load(args[0])
			if err != nil {
				return f.Fail(err)
			}

			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				applier := &template.Applier{
					Target:    p.store,
					Libraries: p.containers,
					Logger:    p.logger,
					Actor:     p.actor,
				}
				res, err := applier.Apply(ctx, tpl)
				if err != nil {
					return nil, err
				}
				return TemplateResult{File: args[0], Result: res}, nil
			})
		},
	}
}

func newTemplateCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check <file.cue>",
		Short:         "Validate a template without applying it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			if _, err := template.Load(args[0]); err != nil {
				return f.Fail(err)
			}
			return f.Success("✓ Template valid")
		},
	}
}
