package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoflow/convosync/internal/history"
	"github.com/convoflow/convosync/internal/notion"
	"github.com/convoflow/convosync/internal/record"
	"github.com/convoflow/convosync/internal/syncer"
)

// errRecordsFailed signals exit code 1 after the summary has already been
// printed; main suppresses the generic error line for it.
var errRecordsFailed = errors.New("one or more records failed")

var (
	flagDryRun        bool
	flagValidateFirst bool
	flagForce         bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert conversation records into the Notion database",
	Long: `Load every JSON export from the data directory, enrich and
transform each record, and create or update its page in the Notion
database. Conversations already recorded in the state file are skipped
unless --force is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd.Context())
	},
}

func init() {
	addSyncFlags(syncCmd)
	addSyncFlags(rootCmd)
	rootCmd.AddCommand(syncCmd)
}

// addSyncFlags registers the sync flags on both the sync subcommand and
// the root command, so "convosync --dry-run" works without a subcommand.
func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&flagDryRun, "dry-run", "d", false, "report what would be synced without calling the store")
	cmd.Flags().BoolVarP(&flagValidateFirst, "validate", "v", false, "validate records against the insights schema before syncing")
	cmd.Flags().BoolVarP(&flagForce, "force", "f", false, "sync despite validation failures and already-synced records")
}

func runSync(ctx context.Context) error {
	if err := cfg.ValidateNotion(); err != nil {
		return err
	}
	hist, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(hist)

	pipe, err := buildPipeline(hist)
	if err != nil {
		return err
	}
	sum, err := pipe.Run(ctx, syncer.RunOptions{
		DryRun:        flagDryRun,
		ValidateFirst: flagValidateFirst,
		Force:         flagForce,
	})
	if err != nil {
		return err
	}
	printSummary(os.Stdout, sum)
	if sum.Failed > 0 {
		return errRecordsFailed
	}
	return nil
}

func buildPipeline(hist *history.Store) (*syncer.Pipeline, error) {
	validator, err := record.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("load insights schema: %w", err)
	}
	store := notion.NewClient(notion.ClientOptions{
		BaseURL:       cfg.Notion.BaseURL,
		DatabaseID:    cfg.Notion.DatabaseID,
		TokenProvider: notion.StaticToken(cfg.Notion.Token),
		APIVersion:    cfg.Notion.APIVersion,
	})
	return syncer.NewPipeline(syncer.PipelineOptions{
		Load: func(context.Context) ([]record.Record, error) {
			return record.LoadDir(cfg.DataDir, logger)
		},
		Validate: validator.Validate,
		Store:    store,
		History:  hist,

		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
		MaxConcurrent:     cfg.Sync.MaxConcurrent,
		MaxAttempts:       cfg.Sync.MaxAttempts,
		Backoff:           cfg.Sync.BackoffSettings(),
		BatchSize:         cfg.Sync.BatchSize,
		BatchDelay:        cfg.Sync.BatchDelay.Duration(),

		Logger: logger,
	})
}

func openHistory() (*history.Store, error) {
	backend, err := history.BuildBackendFromDSN(cfg.ResolvedStateDSN())
	if err != nil {
		return nil, fmt.Errorf("open state backend: %w", err)
	}
	return history.NewStore(backend, logger), nil
}

func closeHistory(hist *history.Store) {
	if err := hist.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close state backend")
	}
}

func printSummary(w io.Writer, sum syncer.RunSummary) {
	if sum.TotalRecords == 0 {
		fmt.Fprintln(w, "No records found, nothing to sync.")
		return
	}
	if sum.DryRun {
		fmt.Fprintf(w, "Dry run: %d record%s would be synced (%d loaded, %d skipped, %d failed).\n",
			sum.WouldSync, plural(sum.WouldSync), sum.TotalRecords, sum.Skipped, sum.Failed)
	} else {
		fmt.Fprintf(w, "Synced %d record%s in %s: %d created, %d updated, %d failed, %d skipped.\n",
			sum.Created+sum.Updated, plural(sum.Created+sum.Updated), formatDuration(sum.Duration),
			sum.Created, sum.Updated, sum.Failed, sum.Skipped)
	}
	for _, keyErr := range sum.Errors {
		key := keyErr.Key
		if key == "" {
			key = "(missing key)"
		}
		fmt.Fprintf(w, "  %s: %s\n", key, keyErr.Err)
	}
}
