package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ca-srg/placesweep/internal/history"
	"github.com/ca-srg/placesweep/internal/types"
)

var (
	historyLimit int
	historyRunID string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded sweep runs",
	Long: `
The history command lists sweep runs recorded in the history database,
newest first. With --run, the failed grid points of that run are listed.
`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to list (0 = all)")
	historyCmd.Flags().StringVar(&historyRunID, "run", "", "Show details of a single run")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), nil)
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if historyRunID != "" {
		return showRun(ctx, os.Stdout, store, historyRunID)
	}

	runs, err := store.ListRuns(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No sweep runs recorded.")
		return nil
	}
	printRuns(os.Stdout, runs)
	return nil
}

func printRuns(w io.Writer, runs []types.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tAREA\tSTARTED\tPOINTS\tFAILED\tPLACES\tNEW\tLOW-RATED\tCAP")
	for _, r := range runs {
		capMark := ""
		if r.CapReached {
			capMark = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%d\t%s\n",
			r.RunID, r.Area, r.StartedAt.Local().Format(time.DateTime),
			r.PointsSearched, r.GridPoints, r.PointsFailed,
			r.TotalPlaces, r.NewPlaces, r.LowRatedPlaces, capMark)
	}
	_ = tw.Flush()
}

func showRun(ctx context.Context, w io.Writer, store *history.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	failures, err := store.Failures(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load failures: %w", err)
	}

	printRuns(w, []types.RunSummary{*run})
	fmt.Fprintf(w, "\nCenter: %s\n", run.Center)
	fmt.Fprintf(w, "Duration: %v\n", run.Duration)
	if len(failures) == 0 {
		fmt.Fprintln(w, "No failed grid points.")
		return nil
	}
	fmt.Fprintln(w, "Failed grid points:")
	for _, f := range failures {
		fmt.Fprintf(w, "  - %s\n", f.Error())
	}
	return nil
}
