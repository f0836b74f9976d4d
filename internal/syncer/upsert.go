package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/notion"
)

type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeFailed  OutcomeKind = "failed"
)

type Outcome struct {
	Key    string
	Kind   OutcomeKind
	PageID string
	Err    string
}

type TransformedRecord struct {
	Key        string
	Properties notion.Properties
}

type StoreClient interface {
	FindPage(ctx context.Context, key string) (pageID string, found bool, err error)
	CreatePage(ctx context.Context, key string, props notion.Properties) (string, error)
	UpdatePage(ctx context.Context, pageID string, props notion.Properties) (string, error)
}

// Upserter implements create-or-update by conversation key. A lookup
// failure is terminal for the key; it never falls back to a blind create,
// so transient lookup errors cannot mint duplicate pages.
type Upserter struct {
	store  StoreClient
	exec   *Executor
	logger zerolog.Logger
}

func NewUpserter(store StoreClient, exec *Executor, logger zerolog.Logger) *Upserter {
	return &Upserter{store: store, exec: exec, logger: logger}
}

func (u *Upserter) Upsert(ctx context.Context, rec TransformedRecord) Outcome {
	key := strings.TrimSpace(rec.Key)
	if key == "" {
		u.logger.Error().Msg("record has no conversation key")
		return Outcome{Kind: OutcomeFailed, Err: "missing conversation key"}
	}

	var pageID string
	var found bool
	err := u.exec.Do(ctx, func(ctx context.Context) error {
		var findErr error
		pageID, found, findErr = u.store.FindPage(ctx, key)
		return findErr
	})
	if err != nil {
		u.logger.Error().Err(err).Str("key", key).Msg("lookup failed")
		return Outcome{Key: key, Kind: OutcomeFailed, Err: fmt.Sprintf("lookup failed: %v", err)}
	}

	if found {
		var updatedID string
		err := u.exec.Do(ctx, func(ctx context.Context) error {
			var updateErr error
			updatedID, updateErr = u.store.UpdatePage(ctx, pageID, rec.Properties)
			return updateErr
		})
		if err != nil {
			u.logger.Error().Err(err).Str("key", key).Msg("update failed")
			return Outcome{Key: key, Kind: OutcomeFailed, Err: fmt.Sprintf("update failed: %v", err)}
		}
		u.logger.Debug().Str("key", key).Str("page_id", updatedID).Msg("page updated")
		return Outcome{Key: key, Kind: OutcomeUpdated, PageID: updatedID}
	}

	var createdID string
	err = u.exec.Do(ctx, func(ctx context.Context) error {
		var createErr error
		createdID, createErr = u.store.CreatePage(ctx, key, rec.Properties)
		return createErr
	})
	if err != nil {
		u.logger.Error().Err(err).Str("key", key).Msg("create failed")
		return Outcome{Key: key, Kind: OutcomeFailed, Err: fmt.Sprintf("create failed: %v", err)}
	}
	u.logger.Debug().Str("key", key).Str("page_id", createdID).Msg("page created")
	return Outcome{Key: key, Kind: OutcomeCreated, PageID: createdID}
}
