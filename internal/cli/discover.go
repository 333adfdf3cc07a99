package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/kmpindex/pkg/discovery"
)

// discoverCommand creates the discover command.
func (c *CLI) discoverCommand() *cobra.Command {
	var (
		only     []string
		jsonOut  bool
		drainTo  int
		listOnly bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run the enabled discoverers once and enqueue new releases",
		Long: `Run every enabled discoverer once. New releases are enqueued for
indexing; releases that are already indexed or queued are skipped.

A failing discoverer does not stop the others. The command exits non-zero
when any discoverer failed.`,
		Example: `  kmpindex discover
  kmpindex discover --only google --json
  kmpindex discover --index 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if listOnly {
				for _, name := range a.registry.Names() {
					fmt.Println(name)
				}
				return nil
			}

			co, err := a.coordinator(only)
			if err != nil {
				return err
			}

			spinner := newSpinner(ctx, "Discovering releases...")
			spinner.Start()
			report, err := co.Run(ctx)
			spinner.Stop()
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(report)
			}

			if drainTo != 0 {
				prog := newProgress(c.Logger)
				n, err := a.newIndexer().Drain(ctx, drainTo)
				if err != nil {
					return err
				}
				prog.done(fmt.Sprintf("Processed %d requests", n))
			}

			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("discoverers failed: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these discoverers (default: discovery.enabled)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run report as JSON")
	cmd.Flags().IntVar(&drainTo, "index", 0, "index up to N queued requests afterwards (-1 for all)")
	cmd.Flags().BoolVar(&listOnly, "list", false, "list the configured discoverers and exit")

	return cmd
}

// printReport prints one line per discoverer and a totals line.
func printReport(r *discovery.Report) {
	names := make([]string, 0, len(r.Discoverers))
	for n := range r.Discoverers {
		names = append(names, n)
	}
	sort.Strings(names)

	printInfo("Discovery run %s", StyleDim.Render(r.RunID))
	for _, n := range names {
		s := r.Discoverers[n]
		switch {
		case s.Failed:
			printError("%s: %s", n, s.Err)
		case s.Errors > 0:
			printWarning("%s: %d errors", n, s.Errors)
		default:
			printSuccess("%s", n)
		}
		printStats(s)
	}
	t := r.Totals()
	printKeyValue("Enqueued", StyleNumber.Render(fmt.Sprint(t.Enqueued)))
	printKeyValue("Discovered", StyleNumber.Render(fmt.Sprint(t.Discovered)))
}
