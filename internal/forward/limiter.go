package forward

import (
	"context"
	"sync"
	"time"
)

// requestLimiter caps outbound requests per fixed window. Wait blocks
// until the current window has room or the context is cancelled.
type requestLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error

	mu      sync.Mutex
	count   int
	resetAt time.Time
}

func newRequestLimiter(max int, window time.Duration) *requestLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &requestLimiter{
		max:    max,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func (l *requestLimiter) wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.resetAt.IsZero() || !now.Before(l.resetAt) {
			l.count = 0
			l.resetAt = now.Add(l.window)
		}
		if l.count < l.max {
			l.count++
			l.mu.Unlock()
			return nil
		}
		delay := l.resetAt.Sub(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (l *requestLimiter) inWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.resetAt.IsZero() && !l.now().Before(l.resetAt) {
		return 0
	}
	return l.count
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
