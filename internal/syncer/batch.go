package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type StatusSink interface {
	RecordOutcome(out Outcome, at time.Time)
}

type KeyError struct {
	Key string `json:"conversation_id"`
	Err string `json:"error"`
}

type Summary struct {
	Total    int
	Created  int
	Updated  int
	Failed   int
	Errors   []KeyError
	Duration time.Duration
}

type CoordinatorOptions struct {
	Upserter   *Upserter
	BatchSize  int
	BatchDelay time.Duration
	Status     StatusSink
	Logger     zerolog.Logger
}

// Coordinator partitions records into contiguous chunks, runs each chunk's
// upserts concurrently and settles them all before moving on. One record's
// failure never aborts its siblings; the summary is always complete.
type Coordinator struct {
	upserter   *Upserter
	batchSize  int
	batchDelay time.Duration
	status     StatusSink
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
	logger     zerolog.Logger
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	batchDelay := opts.BatchDelay
	if batchDelay < 0 {
		batchDelay = 0
	}
	return &Coordinator{
		upserter:   opts.Upserter,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		status:     opts.Status,
		sleep:      sleepContext,
		now:        time.Now,
		logger:     opts.Logger,
	}
}

func (c *Coordinator) Run(ctx context.Context, records []TransformedRecord) Summary {
	start := c.now()
	summary := Summary{Total: len(records)}

	for chunkStart := 0; chunkStart < len(records); chunkStart += c.batchSize {
		chunkEnd := chunkStart + c.batchSize
		if chunkEnd > len(records) {
			chunkEnd = len(records)
		}
		chunk := records[chunkStart:chunkEnd]
		c.logger.Info().
			Int("from", chunkStart+1).
			Int("to", chunkEnd).
			Int("total", len(records)).
			Msg("processing batch")

		outcomes := make([]Outcome, len(chunk))
		var wg sync.WaitGroup
		for i := range chunk {
			wg.Add(1)
			go func(i int, rec TransformedRecord) {
				defer wg.Done()
				out := c.upserter.Upsert(ctx, rec)
				outcomes[i] = out
				if c.status != nil {
					c.status.RecordOutcome(out, c.now())
				}
			}(i, chunk[i])
		}
		wg.Wait()

		for _, out := range outcomes {
			switch out.Kind {
			case OutcomeCreated:
				summary.Created++
			case OutcomeUpdated:
				summary.Updated++
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, KeyError{Key: out.Key, Err: out.Err})
			}
		}

		if chunkEnd < len(records) && c.batchDelay > 0 {
			if err := c.sleep(ctx, c.batchDelay); err != nil {
				c.logger.Warn().Err(err).Int("settled", chunkEnd).Msg("run cancelled between batches")
				break
			}
		}
	}

	summary.Duration = c.now().Sub(start)
	return summary
}
