package syncer

import (
	"context"
	"sync"
	"time"
)

// RateGate throttles an outbound call stream on two independent axes: a
// minimum spacing between call admissions and a cap on concurrent in-flight
// calls. Waiters queue on the slot channel and are admitted in arrival
// order; release must be called on every exit path.
type RateGate struct {
	interval time.Duration
	slots    chan struct{}

	mu   sync.Mutex
	next time.Time
}

func NewRateGate(requestsPerSecond float64, maxConcurrent int) *RateGate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	var interval time.Duration
	if requestsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / requestsPerSecond)
	}
	return &RateGate{
		interval: interval,
		slots:    make(chan struct{}, maxConcurrent),
	}
}

func (g *RateGate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if g.interval > 0 {
		g.mu.Lock()
		admitAt := g.next
		now := time.Now()
		if admitAt.Before(now) {
			admitAt = now
		}
		g.next = admitAt.Add(g.interval)
		g.mu.Unlock()

		if wait := time.Until(admitAt); wait > 0 {
			if err := sleepContext(ctx, wait); err != nil {
				g.releaseSlot()
				return nil, err
			}
		}
	}

	var once sync.Once
	return func() {
		once.Do(g.releaseSlot)
	}, nil
}

func (g *RateGate) releaseSlot() {
	select {
	case <-g.slots:
	default:
	}
}

func (g *RateGate) InFlight() int {
	return len(g.slots)
}
