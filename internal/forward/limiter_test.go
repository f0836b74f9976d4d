package forward

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAllowsUpToCap(t *testing.T) {
	l := newRequestLimiter(3, time.Minute)
	slept := 0
	l.sleep = func(context.Context, time.Duration) error {
		slept++
		return nil
	}

	for i := 0; i < 3; i++ {
		if err := l.wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if slept != 0 {
		t.Fatalf("slept %d times under the cap", slept)
	}
	if got := l.inWindow(); got != 3 {
		t.Fatalf("in window = %d, want 3", got)
	}
}

func TestLimiterBlocksUntilWindowResets(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newRequestLimiter(2, time.Minute)
	l.now = func() time.Time { return clock }

	var sleeps []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock = clock.Add(d)
		return nil
	}

	for i := 0; i < 2; i++ {
		if err := l.wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	clock = clock.Add(10 * time.Second)
	if err := l.wait(context.Background()); err != nil {
		t.Fatalf("blocked wait: %v", err)
	}
	if len(sleeps) != 1 || sleeps[0] != 50*time.Second {
		t.Fatalf("sleeps = %v, want one 50s wait for the window to reset", sleeps)
	}
	if got := l.inWindow(); got != 1 {
		t.Fatalf("in window = %d after reset, want 1", got)
	}
}

func TestLimiterWindowExpiryResetsCount(t *testing.T) {
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newRequestLimiter(2, time.Minute)
	l.now = func() time.Time { return clock }
	l.sleep = func(context.Context, time.Duration) error {
		t.Fatalf("should not sleep after window expiry")
		return nil
	}

	for i := 0; i < 2; i++ {
		if err := l.wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if got := l.inWindow(); got != 0 {
		t.Fatalf("in window = %d after expiry, want 0", got)
	}
	if err := l.wait(context.Background()); err != nil {
		t.Fatalf("wait after expiry: %v", err)
	}
}

func TestLimiterCancelledWhileBlocked(t *testing.T) {
	l := newRequestLimiter(1, time.Minute)
	l.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}
	if err := l.wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := l.wait(context.Background()); err != context.Canceled {
		t.Fatalf("blocked wait = %v, want context.Canceled", err)
	}
}
