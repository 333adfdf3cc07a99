package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmpindex/pkg/store"
)

// queueCommand creates the queue inspection command.
func (c *CLI) queueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the indexing queue",
	}

	cmd.AddCommand(c.queueStatsCommand())
	cmd.AddCommand(c.queueWatchCommand())

	return cmd
}

// snapshotQueue reads the queue statistics and the most failing requests.
func snapshotQueue(ctx context.Context, q store.Queue, failures int) (queueSnapshot, error) {
	stats, err := q.QueueStats(ctx)
	if err != nil {
		return queueSnapshot{}, fmt.Errorf("queue stats: %w", err)
	}
	snap := queueSnapshot{Stats: stats, At: time.Now()}
	if failures > 0 && stats.Failing > 0 {
		if snap.Failures, err = q.Failures(ctx, failures); err != nil {
			return queueSnapshot{}, fmt.Errorf("queue failures: %w", err)
		}
	}
	return snap, nil
}

func (c *CLI) queueStatsCommand() *cobra.Command {
	var (
		jsonOut  bool
		failures int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics and failing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := snapshotQueue(ctx, a.store, failures)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			fmt.Println(statsTable(snap.Stats, "").Render())
			if len(snap.Failures) > 0 {
				fmt.Println(failuresTable(snap.Failures).Render())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	cmd.Flags().IntVar(&failures, "failures", 10, "number of failing requests to list")

	return cmd
}

func (c *CLI) queueWatchCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the queue live",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fetch := func(ctx context.Context) (queueSnapshot, error) {
				return snapshotQueue(ctx, a.store, 10)
			}
			p := tea.NewProgram(NewQueueWatchModel(fetch, interval), tea.WithContext(ctx), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")

	return cmd
}
