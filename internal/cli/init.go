package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/snowcrash/internal/containers"
	"github.com/roach88/snowcrash/internal/model"
)

// InitResult lists the containers a fresh project starts with.
type InitResult struct {
	Database   string       `json:"database"`
	Containers []model.Node `json:"containers"`
}

func (r InitResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Project ready: %s\n", r.Database)
	for _, n := range r.Containers {
		fmt.Fprintf(&b, "  #%d %s (%s)\n", n.ID, n.Label, n.Type)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and the project containers",
		Long: `Create the database if it does not exist and resolve every project
container (issue library, methodology library, plugin output, uploads and
the recovery folder). Running init again is harmless.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(rootOpts, cmd, func(ctx context.Context, p *project) (any, error) {
				res := InitResult{Database: p.cfg.Database}
				for _, key := range containers.Keys {
					n, err := p.containers.Get(ctx, key)
					if err != nil {
						return nil, err
					}
					res.Containers = append(res.Containers, n)
				}
				return res, nil
			})
		},
	}
}
