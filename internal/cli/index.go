package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/model"
)

// indexCommand creates the index command.
func (c *CLI) indexCommand() *cobra.Command {
	var (
		source  string
		reindex bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "index [group:artifact:version...]",
		Short: "Enqueue coordinates and process the indexing queue",
		Long: `Enqueue the given coordinates, then process up to --limit requests from
the indexing queue. Without arguments only the queue is processed.

A request that fails stays queued with its error recorded and is retried
once its lease expires.`,
		Example: `  kmpindex index io.ktor:ktor-client-core:2.3.12
  kmpindex index --source google androidx.compose.runtime:runtime:1.7.0 --reindex
  kmpindex index --limit 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			coords := make([]model.ArtifactCoordinate, 0, len(args))
			for _, arg := range args {
				coord, err := parseCoordinate(arg, source)
				if err != nil {
					return err
				}
				coords = append(coords, coord)
			}
			if _, ok := c.conf().Source(source); !ok {
				return kerrors.New(kerrors.ErrCodeConfig, "unknown source %q", source)
			}

			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(coords) > 0 {
				n, err := a.store.Enqueue(ctx, coords, reindex)
				if err != nil {
					return fmt.Errorf("enqueue: %w", err)
				}
				printSuccess("Enqueued %d of %d coordinates", n, len(coords))
			}

			prog := newProgress(c.Logger)
			n, err := a.newIndexer().Drain(ctx, limit)
			if err != nil {
				return err
			}
			prog.done(fmt.Sprintf("Processed %d requests", n))

			failures, err := a.store.Failures(ctx, 5)
			if err != nil {
				return err
			}
			for _, f := range failures {
				printWarning("%s failed %d times", f.ArtifactCoordinate, f.FailedAttempts)
				printDetail("%s", f.LastError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "central", "source id of the given coordinates")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "re-index coordinates that are already indexed")
	cmd.Flags().IntVar(&limit, "limit", defaultLimit, "maximum requests to process (0 for no limit)")

	return cmd
}

// parseCoordinate parses group:artifact:version.
func parseCoordinate(s, source string) (model.ArtifactCoordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return model.ArtifactCoordinate{}, kerrors.New(kerrors.ErrCodeInvalidCoordinate, "%q: want group:artifact:version", s)
	}
	if err := kerrors.ValidateCoordinate(parts[0], parts[1], parts[2]); err != nil {
		return model.ArtifactCoordinate{}, err
	}
	return model.ArtifactCoordinate{
		GroupID:    parts[0],
		ArtifactID: parts[1],
		Version:    parts[2],
		SourceID:   source,
	}, nil
}
