package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresTestCounter uint64

func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CONVOSYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set CONVOSYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresTestTable(prefix string) string {
	n := atomic.AddUint64(&postgresTestCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresDropTable(t *testing.T, dsn, table string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Logf("drop table open failed: %v", err)
		return
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), postgresRequestTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(table))); err != nil {
		t.Logf("drop table failed: %v", err)
	}
}

func TestPostgresBackendRoundTrip(t *testing.T) {
	dsn := postgresTestDSN(t)

	backend, err := NewPostgresBackend(dsn)
	if err != nil {
		t.Fatalf("new postgres backend: %v", err)
	}
	backend.table = postgresTestTable("convosync_state_it")
	t.Cleanup(func() {
		_ = backend.Close()
		postgresDropTable(t, dsn, backend.table)
	})

	initial, err := backend.Load()
	if err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if initial != nil {
		t.Fatalf("expected nil initial snapshot, got %+v", initial)
	}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	saved := NewState()
	saved.LastSync = at
	saved.ProcessedKeys["conv_a"] = ProcessedEntry{SyncedAt: at, Status: "created", PageID: "page-1"}
	saved.SyncHistory = []RunRecord{{RunID: "run-1", Created: 1, Timestamp: at}}
	if err := backend.Save(saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load after save failed: %v", err)
	}
	if loaded == nil || !loaded.LastSync.Equal(at) {
		t.Fatalf("loaded = %+v", loaded)
	}
	if entry := loaded.ProcessedKeys["conv_a"]; entry.PageID != "page-1" {
		t.Fatalf("entry = %+v", entry)
	}

	saved.ProcessedKeys["conv_b"] = ProcessedEntry{SyncedAt: at, Status: "updated"}
	if err := backend.Save(saved); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	loaded, err = backend.Load()
	if err != nil {
		t.Fatalf("load after upsert failed: %v", err)
	}
	if len(loaded.ProcessedKeys) != 2 {
		t.Fatalf("upsert did not replace snapshot: %+v", loaded.ProcessedKeys)
	}
}
