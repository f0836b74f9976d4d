package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/syncer"
)

// Store tracks which conversations have reached the database and the
// outcome of recent runs. It loads a snapshot from its backend at the
// start of a run and writes back only when something changed. A backend
// that returns corrupt state fails the load; silently starting from an
// empty state would re-sync everything.
type Store struct {
	backend StateBackend
	logger  zerolog.Logger

	mu    sync.Mutex
	state *State
	dirty bool
}

var _ syncer.HistoryStore = (*Store)(nil)

func NewStore(backend StateBackend, logger zerolog.Logger) *Store {
	return &Store{backend: backend, logger: logger}
}

func (s *Store) Begin(ctx context.Context) error {
	if s.backend == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == nil {
			s.state = NewState()
		}
		return nil
	}
	snapshot, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	if snapshot == nil {
		snapshot = NewState()
	}
	if snapshot.ProcessedKeys == nil {
		snapshot.ProcessedKeys = map[string]ProcessedEntry{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = snapshot
	s.dirty = false
	s.logger.Debug().
		Int("processed", len(snapshot.ProcessedKeys)).
		Int("runs", len(snapshot.SyncHistory)).
		Msg("sync state loaded")
	return nil
}

// IsSynced reports whether the conversation's last recorded delivery
// succeeded. A key whose last attempt failed is not synced; the next run
// retries it.
func (s *Store) IsSynced(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return false
	}
	entry, ok := s.state.ProcessedKeys[key]
	if !ok {
		return false
	}
	switch entry.Status {
	case string(syncer.OutcomeCreated), string(syncer.OutcomeUpdated), StatusForwarded:
		return true
	}
	return false
}

// RecordOutcome updates the per-key status as each upsert settles. Failed
// outcomes are recorded with their error text so the last failure survives
// the process.
func (s *Store) RecordOutcome(out syncer.Outcome, at time.Time) {
	if out.Key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = NewState()
	}
	s.state.ProcessedKeys[out.Key] = ProcessedEntry{
		SyncedAt: at.UTC(),
		Status:   string(out.Kind),
		PageID:   out.PageID,
		Error:    out.Err,
	}
	s.dirty = true
}

// MarkProcessed records a delivery that did not go through the upsert
// path, such as an insight forwarded to the secondary endpoint. The entry
// replaces whatever the key carried before.
func (s *Store) MarkProcessed(key string, entry ProcessedEntry) {
	if key == "" {
		return
	}
	if entry.SyncedAt.IsZero() {
		entry.SyncedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = NewState()
	}
	s.state.ProcessedKeys[key] = entry
	s.dirty = true
}

func (s *Store) RecordRun(sum syncer.RunSummary, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = NewState()
	}
	s.state.appendRun(RunRecord{
		RunID:           sum.RunID,
		Timestamp:       at.UTC(),
		TotalRecords:    sum.TotalRecords,
		ValidRecords:    sum.ValidRecords,
		Created:         sum.Created,
		Updated:         sum.Updated,
		Failed:          sum.Failed,
		Skipped:         sum.Skipped,
		DurationSeconds: sum.Duration.Seconds(),
		DryRun:          sum.DryRun,
	})
	s.state.LastSync = at.UTC()
	s.dirty = true
}

func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.backend == nil || s.state == nil || !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if err := s.backend.Save(snapshot); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current state, loading from the backend
// first if no run has populated it yet.
func (s *Store) Snapshot() (*State, error) {
	s.mu.Lock()
	if s.state != nil {
		defer s.mu.Unlock()
		return s.state.Clone(), nil
	}
	s.mu.Unlock()

	if err := s.Begin(context.Background()); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

func (s *Store) Close() error {
	if closer, ok := s.backend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}
