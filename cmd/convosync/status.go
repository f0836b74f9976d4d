package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var flagStatusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync and recent run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStatus()
	},
}

func init() {
	statusCmd.Flags().IntVar(&flagStatusRuns, "runs", 10, "how many recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus() error {
	hist, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(hist)

	state, err := hist.Snapshot()
	if err != nil {
		return err
	}

	if state.LastSync.IsZero() {
		fmt.Fprintln(os.Stdout, "Last sync: never")
	} else {
		fmt.Fprintf(os.Stdout, "Last sync: %s (%s ago)\n",
			state.LastSync.Format(time.RFC3339), formatDuration(time.Since(state.LastSync)))
	}
	fmt.Fprintf(os.Stdout, "Processed conversations: %d\n", len(state.ProcessedKeys))

	runs := state.SyncHistory
	if len(runs) == 0 {
		return nil
	}
	limit := flagStatusRuns
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	fmt.Fprintf(os.Stdout, "Recent runs (newest first):\n")
	for i := len(runs) - 1; i >= len(runs)-limit; i-- {
		run := runs[i]
		line := fmt.Sprintf("  %s  %d created, %d updated, %d failed, %d skipped (%.1fs)",
			run.Timestamp.Format(time.RFC3339), run.Created, run.Updated, run.Failed,
			run.Skipped, run.DurationSeconds)
		if run.DryRun {
			line += "  [dry run]"
		}
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}
