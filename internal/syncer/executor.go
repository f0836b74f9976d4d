package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type StatusCoder interface {
	HTTPStatus() int
}

type ErrorCoder interface {
	ErrorCode() string
}

type retryAfterHinter interface {
	RetryAfterHint() time.Duration
}

var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

var retryableCodes = map[string]bool{
	"rate_limited":          true,
	"internal_server_error": true,
	"service_unavailable":   true,
	"conflict_error":        true,
}

// Retryable classifies a failure as transient or terminal. Typed API errors
// are judged by status and error code; anything else is a transport-level
// failure and worth another attempt, except an explicit cancellation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var coder ErrorCoder
	if errors.As(err, &coder) && retryableCodes[coder.ErrorCode()] {
		return true
	}
	var statusErr StatusCoder
	if errors.As(err, &statusErr) {
		status := statusErr.HTTPStatus()
		return retryableStatuses[status] || status >= 500
	}
	return true
}

type ExecutorOptions struct {
	Gate        *RateGate
	Backoff     Backoff
	MaxAttempts int
	Retryable   func(error) bool
	Logger      zerolog.Logger
}

// Executor wraps a single remote call with the rate gate and the backoff
// scheduler. Every attempt is independently gated; a retry is a brand-new
// call as far as the gate is concerned.
type Executor struct {
	gate        *RateGate
	backoff     Backoff
	maxAttempts int
	retryable   func(error) bool
	sleep       func(context.Context, time.Duration) error
	logger      zerolog.Logger
}

func NewExecutor(opts ExecutorOptions) *Executor {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryable := opts.Retryable
	if retryable == nil {
		retryable = Retryable
	}
	return &Executor{
		gate:        opts.Gate,
		backoff:     opts.Backoff,
		maxAttempts: maxAttempts,
		retryable:   retryable,
		sleep:       sleepContext,
		logger:      opts.Logger,
	}
}

func (e *Executor) Do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		lastErr = e.attempt(ctx, op)
		if lastErr == nil {
			return nil
		}
		if !e.retryable(lastErr) {
			return lastErr
		}
		if attempt == e.maxAttempts {
			break
		}
		delay := e.delayFor(attempt, lastErr)
		e.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transient failure, retrying")
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", e.maxAttempts, lastErr)
}

func (e *Executor) attempt(ctx context.Context, op func(context.Context) error) error {
	if e.gate == nil {
		return op(ctx)
	}
	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return op(ctx)
}

func (e *Executor) delayFor(attempt int, err error) time.Duration {
	var hinter retryAfterHinter
	if errors.As(err, &hinter) {
		if hint := hinter.RetryAfterHint(); hint > 0 {
			if e.backoff.Cap > 0 && hint > e.backoff.Cap {
				return e.backoff.Cap
			}
			return hint
		}
	}
	return e.backoff.Delay(attempt)
}
