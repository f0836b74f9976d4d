package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/convoflow/convosync/internal/forward"
	"github.com/convoflow/convosync/internal/history"
	"github.com/convoflow/convosync/internal/record"
	"github.com/convoflow/convosync/internal/syncer"
)

// The forward path keeps its own state file so a forwarded conversation
// is not mistaken for one already upserted into Notion.
const forwardStateFile = ".convosync-forward-state.json"

var (
	flagForwardDryRun bool
	flagForwardForce  bool
	flagStrategy      string
)

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Deliver conversation insights to the Poke API",
	Long: `Send each conversation's analysis payload to the Poke insights
endpoint. Conversations recorded in the forward state file are skipped
unless --force is given. Delivery retries with backoff and jitter, rate
limits itself, and stops calling out while the circuit breaker is open.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runForward(cmd.Context())
	},
}

func init() {
	forwardCmd.Flags().BoolVarP(&flagForwardDryRun, "dry-run", "d", false, "report what would be forwarded without calling the endpoint")
	forwardCmd.Flags().BoolVarP(&flagForwardForce, "force", "f", false, "forward conversations even if already forwarded")
	forwardCmd.Flags().StringVar(&flagStrategy, "strategy", "", "retry strategy: exponential, linear, fixed")
	rootCmd.AddCommand(forwardCmd)
}

func runForward(ctx context.Context) error {
	if err := cfg.ValidatePoke(); err != nil {
		return err
	}
	if flagStrategy != "" {
		if !syncer.BackoffPolicy(flagStrategy).Valid() {
			return fmt.Errorf("strategy %q is not one of exponential, linear, fixed", flagStrategy)
		}
		cfg.Poke.Strategy = flagStrategy
	}

	records, err := record.LoadDir(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No records found, nothing to forward.")
		return nil
	}

	backend := history.NewJSONFileBackend(filepath.Join(cfg.DataDir, forwardStateFile))
	hist := history.NewStore(backend, logger)
	if err := hist.Begin(ctx); err != nil {
		return err
	}

	pending := records
	skipped := 0
	if !flagForwardForce {
		pending = pending[:0:0]
		for _, rec := range records {
			if key := rec.Key(); key != "" && hist.IsSynced(key) {
				skipped++
				continue
			}
			pending = append(pending, rec)
		}
		if skipped > 0 {
			logger.Info().Int("skipped", skipped).Msg("skipping already forwarded conversations")
		}
	}

	if flagForwardDryRun {
		fmt.Printf("Dry run: %d record%s would be forwarded (%d loaded, %d skipped).\n",
			len(pending), plural(len(pending)), len(records), skipped)
		return nil
	}

	client, err := forward.NewClient(forward.ClientOptions{
		BaseURL:          cfg.Poke.BaseURL,
		APIKey:           cfg.Poke.APIKey,
		HTTPClient:       &http.Client{Timeout: cfg.Poke.Timeout.Duration()},
		MaxAttempts:      cfg.Poke.MaxRetries + 1,
		Backoff:          cfg.Poke.BackoffSettings(),
		RateLimit:        cfg.Poke.RateLimit,
		BreakerThreshold: cfg.Poke.BreakerThreshold,
		BreakerCooldown:  cfg.Poke.BreakerCooldown.Duration(),
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if !client.HealthCheck(ctx) {
		logger.Warn().Msg("poke api health check failed, forwarding anyway")
	}

	start := time.Now()
	sum := syncer.RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    start.UTC(),
		TotalRecords: len(records),
		ValidRecords: len(pending),
		Skipped:      skipped,
	}
	for _, rec := range pending {
		key := rec.Key()
		if key == "" {
			sum.Failed++
			sum.Errors = append(sum.Errors, syncer.KeyError{Err: "missing conversation key"})
			logger.Error().Str("file", rec.SourceFile()).Msg("record has no conversation key")
			continue
		}
		result, err := client.SendInsights(ctx, rec.Export(), key)
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, syncer.KeyError{Key: key, Err: err.Error()})
			hist.MarkProcessed(key, history.ProcessedEntry{
				Status:     history.StatusFailed,
				Error:      err.Error(),
				SourceFile: rec.SourceFile(),
			})
			logger.Error().Err(err).Str("key", key).Msg("forward failed")
			continue
		}
		sum.Created++
		hist.MarkProcessed(key, history.ProcessedEntry{
			Status:     history.StatusForwarded,
			Attempts:   result.Attempts,
			SourceFile: rec.SourceFile(),
		})
		logger.Debug().Str("key", key).Str("id", result.ID).Int("attempts", result.Attempts).Msg("forwarded")
	}
	sum.Duration = time.Since(start)

	hist.RecordRun(sum, time.Now())
	if err := hist.Flush(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to persist forward state")
	}

	fmt.Fprintf(os.Stdout, "Forwarded %d record%s in %s: %d failed, %d skipped.\n",
		sum.Created, plural(sum.Created), formatDuration(sum.Duration), sum.Failed, sum.Skipped)
	for _, keyErr := range sum.Errors {
		key := keyErr.Key
		if key == "" {
			key = "(missing key)"
		}
		fmt.Fprintf(os.Stdout, "  %s: %s\n", key, keyErr.Err)
	}
	if sum.Failed > 0 {
		return errRecordsFailed
	}
	return nil
}
