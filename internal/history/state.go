package history

import "time"

const maxRunHistory = 50

// Statuses a ProcessedEntry can carry beyond the upsert outcomes.
const (
	StatusForwarded = "forwarded"
	StatusFailed    = "failed"
)

// ProcessedEntry records the last delivery attempt for one conversation,
// keyed by conversation id in State.ProcessedKeys. Failed deliveries are
// recorded with their error so the summary survives the process; the
// skip filter ignores them, so the next run retries.
type ProcessedEntry struct {
	SyncedAt   time.Time `json:"synced_at"`
	Status     string    `json:"status"`
	PageID     string    `json:"page_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
}

type RunRecord struct {
	RunID           string    `json:"run_id"`
	Timestamp       time.Time `json:"timestamp"`
	TotalRecords    int       `json:"total_records"`
	ValidRecords    int       `json:"valid_records"`
	Created         int       `json:"created"`
	Updated         int       `json:"updated"`
	Failed          int       `json:"failed"`
	Skipped         int       `json:"skipped"`
	DurationSeconds float64   `json:"duration_seconds"`
	DryRun          bool      `json:"dry_run,omitempty"`
}

type State struct {
	LastSync      time.Time                 `json:"last_sync"`
	SyncHistory   []RunRecord               `json:"sync_history"`
	ProcessedKeys map[string]ProcessedEntry `json:"processed_conversations"`
}

func NewState() *State {
	return &State{ProcessedKeys: map[string]ProcessedEntry{}}
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{
		LastSync:      s.LastSync,
		SyncHistory:   append([]RunRecord(nil), s.SyncHistory...),
		ProcessedKeys: make(map[string]ProcessedEntry, len(s.ProcessedKeys)),
	}
	for key, entry := range s.ProcessedKeys {
		clone.ProcessedKeys[key] = entry
	}
	return clone
}

func (s *State) appendRun(rec RunRecord) {
	s.SyncHistory = append(s.SyncHistory, rec)
	if n := len(s.SyncHistory); n > maxRunHistory {
		s.SyncHistory = append([]RunRecord(nil), s.SyncHistory[n-maxRunHistory:]...)
	}
}
