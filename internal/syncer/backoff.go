package syncer

import (
	"context"
	"math/rand"
	"time"
)

type BackoffPolicy string

const (
	BackoffExponential BackoffPolicy = "exponential"
	BackoffLinear      BackoffPolicy = "linear"
	BackoffFixed       BackoffPolicy = "fixed"
)

func (p BackoffPolicy) Valid() bool {
	switch p {
	case BackoffExponential, BackoffLinear, BackoffFixed, "":
		return true
	}
	return false
}

// Backoff computes the wait before retry attempt N. Jitter is an optional
// fraction added on top of the computed delay; Rand is injectable so tests
// stay deterministic.
type Backoff struct {
	Policy     BackoffPolicy
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
	Jitter     float64
	Rand       func() float64
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	ceiling := b.Cap
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}

	var delay time.Duration
	switch b.Policy {
	case BackoffLinear:
		delay = time.Duration(attempt) * base
	case BackoffFixed:
		delay = base
	default:
		multiplier := b.Multiplier
		if multiplier <= 1 {
			multiplier = 2
		}
		scaled := float64(base)
		for i := 1; i < attempt; i++ {
			scaled *= multiplier
			if scaled >= float64(ceiling) {
				scaled = float64(ceiling)
				break
			}
		}
		delay = time.Duration(scaled)
	}
	if delay > ceiling {
		delay = ceiling
	}

	if b.Jitter > 0 {
		randFloat := b.Rand
		if randFloat == nil {
			randFloat = rand.Float64
		}
		delay += time.Duration(randFloat() * b.Jitter * float64(delay))
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
