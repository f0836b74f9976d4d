package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/convoflow/convosync/internal/notion"
	"github.com/convoflow/convosync/internal/record"
)

type HistoryStore interface {
	StatusSink
	Begin(ctx context.Context) error
	IsSynced(key string) bool
	RecordRun(sum RunSummary, at time.Time)
	Flush(ctx context.Context) error
}

type RunOptions struct {
	DryRun        bool
	ValidateFirst bool
	Force         bool
}

type RunSummary struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	TotalRecords int           `json:"total_records"`
	ValidRecords int           `json:"valid_records"`
	Skipped      int           `json:"skipped"`
	WouldSync    int           `json:"would_sync,omitempty"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Failed       int           `json:"failed"`
	Errors       []KeyError    `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
	DryRun       bool          `json:"dry_run"`
}

type PipelineOptions struct {
	Load      func(ctx context.Context) ([]record.Record, error)
	Validate  func(record.Record) []record.Issue
	Transform func(record.Record) (notion.Properties, error)
	Store     StoreClient
	History   HistoryStore

	RequestsPerSecond float64
	MaxConcurrent     int
	MaxAttempts       int
	Backoff           Backoff
	BatchSize         int
	BatchDelay        time.Duration

	Logger zerolog.Logger
}

// Pipeline sequences load, validate, enrich, transform and batch delivery.
// All collaborators are injected at construction; there is no ambient
// client or logger state.
type Pipeline struct {
	load        func(ctx context.Context) ([]record.Record, error)
	validate    func(record.Record) []record.Issue
	transform   func(record.Record) (notion.Properties, error)
	history     HistoryStore
	coordinator *Coordinator
	now         func() time.Time
	logger      zerolog.Logger
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Load == nil {
		return nil, fmt.Errorf("pipeline load function is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline store client is required")
	}
	transform := opts.Transform
	if transform == nil {
		transform = notion.BuildProperties
	}
	requestsPerSecond := opts.RequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = 3
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	gate := NewRateGate(requestsPerSecond, maxConcurrent)
	exec := NewExecutor(ExecutorOptions{
		Gate:        gate,
		Backoff:     opts.Backoff,
		MaxAttempts: opts.MaxAttempts,
		Logger:      opts.Logger,
	})
	upserter := NewUpserter(opts.Store, exec, opts.Logger)

	var sink StatusSink
	if opts.History != nil {
		sink = opts.History
	}
	coordinator := NewCoordinator(CoordinatorOptions{
		Upserter:   upserter,
		BatchSize:  opts.BatchSize,
		BatchDelay: opts.BatchDelay,
		Status:     sink,
		Logger:     opts.Logger,
	})

	return &Pipeline{
		load:        opts.Load,
		validate:    opts.Validate,
		transform:   transform,
		history:     opts.History,
		coordinator: coordinator,
		now:         time.Now,
		logger:      opts.Logger,
	}, nil
}

func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunSummary, error) {
	start := p.now()
	sum := RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: start.UTC(),
		DryRun:    opts.DryRun,
	}
	logger := p.logger.With().Str("run_id", sum.RunID).Logger()

	records, err := p.load(ctx)
	if err != nil {
		return sum, fmt.Errorf("load records: %w", err)
	}
	sum.TotalRecords = len(records)
	if len(records) == 0 {
		logger.Info().Msg("no records found, nothing to sync")
		sum.Duration = p.now().Sub(start)
		return sum, nil
	}

	valid := records
	if opts.ValidateFirst && p.validate != nil {
		valid = make([]record.Record, 0, len(records))
		var invalid []KeyError
		for _, rec := range records {
			issues := p.validate(rec)
			if len(issues) == 0 {
				valid = append(valid, rec)
				continue
			}
			invalid = append(invalid, KeyError{Key: rec.Key(), Err: joinIssues(issues)})
			logger.Warn().
				Str("key", rec.Key()).
				Str("file", rec.SourceFile()).
				Str("issues", joinIssues(issues)).
				Msg("record failed validation")
		}
		sum.ValidRecords = len(valid)
		sum.Failed = len(invalid)
		sum.Errors = append(sum.Errors, invalid...)
		if len(invalid) > 0 && !opts.Force {
			logger.Error().
				Int("invalid", len(invalid)).
				Msg("validation failed, aborting before any delivery (use force to override)")
			sum.Duration = p.now().Sub(start)
			return sum, nil
		}
	} else {
		sum.ValidRecords = len(valid)
	}

	if p.history != nil {
		if err := p.history.Begin(ctx); err != nil {
			return sum, fmt.Errorf("load sync state: %w", err)
		}
		if !opts.Force {
			kept := make([]record.Record, 0, len(valid))
			for _, rec := range valid {
				if p.history.IsSynced(rec.Key()) {
					sum.Skipped++
					continue
				}
				kept = append(kept, rec)
			}
			valid = kept
			if sum.Skipped > 0 {
				logger.Info().Int("skipped", sum.Skipped).Msg("skipping already synced conversations")
			}
		}
	}

	transformed := make([]TransformedRecord, 0, len(valid))
	for _, rec := range valid {
		record.Enrich(rec, p.now())
		props, err := p.transform(rec)
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, KeyError{Key: rec.Key(), Err: err.Error()})
			logger.Error().
				Err(err).
				Str("file", rec.SourceFile()).
				Msg("record not transformable")
			continue
		}
		transformed = append(transformed, TransformedRecord{Key: rec.Key(), Properties: props})
	}

	if opts.DryRun {
		sum.WouldSync = len(transformed)
		sum.Duration = p.now().Sub(start)
		logger.Info().
			Int("would_sync", sum.WouldSync).
			Msg("dry run, no records delivered")
		return sum, nil
	}

	batch := p.coordinator.Run(ctx, transformed)
	sum.Created = batch.Created
	sum.Updated = batch.Updated
	sum.Failed += batch.Failed
	sum.Errors = append(sum.Errors, batch.Errors...)
	sum.Duration = p.now().Sub(start)

	if p.history != nil {
		p.history.RecordRun(sum, p.now())
		if err := p.history.Flush(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to persist sync state")
		}
	}

	logger.Info().
		Int("created", sum.Created).
		Int("updated", sum.Updated).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Dur("duration", sum.Duration).
		Msg("sync complete")
	return sum, nil
}

func joinIssues(issues []record.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, issue := range issues {
		parts = append(parts, issue.String())
	}
	return strings.Join(parts, "; ")
}
