package main

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/config"
	"github.com/convoflow/convosync/internal/syncer"
)

func TestPrintSummaryNoRecords(t *testing.T) {
	var buf strings.Builder
	printSummary(&buf, syncer.RunSummary{})
	if !strings.Contains(buf.String(), "nothing to sync") {
		t.Fatalf("expected empty-run message, got %q", buf.String())
	}
}

func TestPrintSummaryReportsCountsAndErrors(t *testing.T) {
	var buf strings.Builder
	printSummary(&buf, syncer.RunSummary{
		TotalRecords: 3,
		Created:      1,
		Updated:      1,
		Failed:       1,
		Duration:     2 * time.Second,
		Errors:       []syncer.KeyError{{Key: "conv_x", Err: "create failed: status 400"}},
	})
	out := buf.String()
	if !strings.Contains(out, "1 created, 1 updated, 1 failed") {
		t.Fatalf("expected counts in summary, got %q", out)
	}
	if !strings.Contains(out, "conv_x: create failed: status 400") {
		t.Fatalf("expected per-key error line, got %q", out)
	}
}

func TestPrintSummaryDryRun(t *testing.T) {
	var buf strings.Builder
	printSummary(&buf, syncer.RunSummary{TotalRecords: 5, WouldSync: 5, DryRun: true})
	if !strings.Contains(buf.String(), "Dry run: 5 records would be synced") {
		t.Fatalf("expected dry-run message, got %q", buf.String())
	}
}

func TestBuildLoggerLevel(t *testing.T) {
	if got := buildLogger(config.LoggingConfig{Level: "warn"}).GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", got)
	}
	if got := buildLogger(config.LoggingConfig{Level: "nonsense"}).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", got)
	}
}

func TestSyncFlagsRegisteredOnRoot(t *testing.T) {
	for _, name := range []string{"dry-run", "validate", "force"} {
		if rootCmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected root command to carry --%s", name)
		}
	}
}
