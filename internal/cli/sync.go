package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/kmpindex/pkg/backoff"
	"github.com/matzehuels/kmpindex/pkg/schedule"
)

// syncCommand creates the sync command with one subcommand per refresh job.
func (c *CLI) syncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh owners, repositories and generated project metadata",
		Long: `Run one refresh job until nothing is due or --limit entities were
processed. Entities that keep failing are backed off and skipped until
their cooldown expires.`,
	}

	cmd.AddCommand(c.syncJobCommand("owners", backoff.NamespaceOwnerSync, "Refresh stale owner profiles"))
	cmd.AddCommand(c.syncJobCommand("repos", backoff.NamespaceRepoSync, "Resync repositories that were not checked recently"))
	cmd.AddCommand(c.syncJobCommand("descriptions", backoff.NamespaceDescriptionGeneration, "Generate missing project descriptions"))
	cmd.AddCommand(c.syncJobCommand("tags", backoff.NamespaceTagGeneration, "Generate tags for untagged projects"))

	return cmd
}

// syncJobCommand creates a sync subcommand running the job named job.
func (c *CLI) syncJobCommand(use, job, short string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			step, ok := a.syncSteps()[job]
			if !ok {
				return errNoGenerator
			}
			spinner := newSpinner(ctx, fmt.Sprintf("Running %s...", job))
			n := 0
			counted := func(ctx context.Context) (bool, error) {
				more, err := step(ctx)
				if more {
					n++
					spinner.SetMessage(fmt.Sprintf("Running %s... %d", job, n))
				}
				return more, err
			}

			prog := newProgress(c.Logger)
			spinner.Start()
			err = schedule.Repeat(limit, counted)(ctx)
			spinner.Stop()
			if err != nil {
				return err
			}
			prog.done(fmt.Sprintf("Processed %d entities (%s)", n, job))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultLimit, "maximum entities to process (0 for no limit)")

	return cmd
}
