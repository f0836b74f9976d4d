package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/notion"
)

type fakeStore struct {
	mu      sync.Mutex
	pages   map[string]string
	nextID  int
	finds   int
	creates int
	updates int

	findErr   func(key string) error
	createErr func(key string) error
	updateErr func(pageID string) error
	onWrite   func(key string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: map[string]string{}}
}

func (s *fakeStore) FindPage(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		if err := s.findErr(key); err != nil {
			return "", false, err
		}
	}
	id, ok := s.pages[key]
	return id, ok, nil
}

func (s *fakeStore) CreatePage(ctx context.Context, key string, props notion.Properties) (string, error) {
	if s.onWrite != nil {
		s.onWrite(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createErr != nil {
		if err := s.createErr(key); err != nil {
			return "", err
		}
	}
	s.nextID++
	id := fmt.Sprintf("page-%d", s.nextID)
	s.pages[key] = id
	return id, nil
}

func (s *fakeStore) UpdatePage(ctx context.Context, pageID string, props notion.Properties) (string, error) {
	if s.onWrite != nil {
		s.onWrite(pageID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		if err := s.updateErr(pageID); err != nil {
			return "", err
		}
	}
	return pageID, nil
}

func (s *fakeStore) counts() (finds, creates, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds, s.creates, s.updates
}

func (s *fakeStore) pageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

func testUpserter(store *fakeStore, maxAttempts int) *Upserter {
	exec, _ := recordingExecutor(ExecutorOptions{MaxAttempts: maxAttempts, Logger: zerolog.Nop()})
	return NewUpserter(store, exec, zerolog.Nop())
}

func TestUpsertCreatesWhenAbsent(t *testing.T) {
	store := newFakeStore()
	up := testUpserter(store, 1)

	out := up.Upsert(context.Background(), TransformedRecord{Key: "conv_a"})
	if out.Kind != OutcomeCreated {
		t.Fatalf("kind = %s, want created (err %q)", out.Kind, out.Err)
	}
	if out.PageID == "" {
		t.Fatalf("created outcome has no page id")
	}
	finds, creates, updates := store.counts()
	if finds != 1 || creates != 1 || updates != 0 {
		t.Fatalf("calls = %d/%d/%d, want 1 find, 1 create, 0 updates", finds, creates, updates)
	}
}

func TestUpsertUpdatesWhenPresent(t *testing.T) {
	store := newFakeStore()
	store.pages["conv_a"] = "page-7"
	up := testUpserter(store, 1)

	out := up.Upsert(context.Background(), TransformedRecord{Key: "conv_a"})
	if out.Kind != OutcomeUpdated || out.PageID != "page-7" {
		t.Fatalf("outcome = %+v, want update of page-7", out)
	}
	_, creates, updates := store.counts()
	if creates != 0 || updates != 1 {
		t.Fatalf("creates = %d, updates = %d, want 0/1", creates, updates)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	store := newFakeStore()
	up := testUpserter(store, 1)
	rec := TransformedRecord{Key: "conv_a"}

	first := up.Upsert(context.Background(), rec)
	second := up.Upsert(context.Background(), rec)
	if first.Kind != OutcomeCreated || second.Kind != OutcomeUpdated {
		t.Fatalf("kinds = %s, %s, want created then updated", first.Kind, second.Kind)
	}
	if second.PageID != first.PageID {
		t.Fatalf("second run targeted %s, want %s", second.PageID, first.PageID)
	}
	if store.pageCount() != 1 {
		t.Fatalf("pages = %d, want 1", store.pageCount())
	}
}

func TestUpsertLookupFailureNeverCreates(t *testing.T) {
	store := newFakeStore()
	store.findErr = func(string) error {
		return &notion.APIError{StatusCode: 503, Message: "backend down"}
	}
	up := testUpserter(store, 2)

	out := up.Upsert(context.Background(), TransformedRecord{Key: "conv_a"})
	if out.Kind != OutcomeFailed || !strings.Contains(out.Err, "lookup failed") {
		t.Fatalf("outcome = %+v, want lookup failure", out)
	}
	finds, creates, _ := store.counts()
	if finds != 2 {
		t.Fatalf("finds = %d, want retry before giving up", finds)
	}
	if creates != 0 {
		t.Fatalf("lookup failure minted a page")
	}
}

func TestUpsertMissingKey(t *testing.T) {
	store := newFakeStore()
	up := testUpserter(store, 1)

	for _, key := range []string{"", "   "} {
		out := up.Upsert(context.Background(), TransformedRecord{Key: key})
		if out.Kind != OutcomeFailed || out.Err != "missing conversation key" {
			t.Fatalf("key %q: outcome = %+v", key, out)
		}
	}
	finds, creates, updates := store.counts()
	if finds != 0 || creates != 0 || updates != 0 {
		t.Fatalf("keyless record reached the store: %d/%d/%d", finds, creates, updates)
	}
}

func TestUpsertUpdateFailureIsReported(t *testing.T) {
	store := newFakeStore()
	store.pages["conv_a"] = "page-1"
	store.updateErr = func(string) error {
		return &notion.APIError{StatusCode: 400, Code: "validation_error", Message: "bad select"}
	}
	up := testUpserter(store, 3)

	out := up.Upsert(context.Background(), TransformedRecord{Key: "conv_a"})
	if out.Kind != OutcomeFailed || !strings.Contains(out.Err, "update failed") {
		t.Fatalf("outcome = %+v, want update failure", out)
	}
	_, _, updates := store.counts()
	if updates != 1 {
		t.Fatalf("updates = %d, terminal error should not be retried", updates)
	}
}

func TestUpsertCreateRecoversAfterTransientFailure(t *testing.T) {
	store := newFakeStore()
	failures := 2
	store.createErr = func(string) error {
		if failures > 0 {
			failures--
			return &notion.APIError{StatusCode: 429, Code: "rate_limited"}
		}
		return nil
	}
	up := testUpserter(store, 3)

	out := up.Upsert(context.Background(), TransformedRecord{Key: "conv_a"})
	if out.Kind != OutcomeCreated {
		t.Fatalf("outcome = %+v, want eventual create", out)
	}
	_, creates, _ := store.counts()
	if creates != 3 {
		t.Fatalf("creates = %d, want 3 attempts", creates)
	}
}
