package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateGateSpacingLowerBound(t *testing.T) {
	gate := NewRateGate(50, 4) // 20ms spacing
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		release, err := gate.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		release()
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("three admissions took %v, want at least 40ms of spacing", elapsed)
	}
}

func TestRateGateConcurrencyCap(t *testing.T) {
	gate := NewRateGate(0, 2)
	ctx := context.Background()

	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := gate.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			current := atomic.AddInt32(&inFlight, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if current <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			release()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxSeen); got > 2 {
		t.Fatalf("observed %d concurrent calls, cap is 2", got)
	}
	if gate.InFlight() != 0 {
		t.Fatalf("slots leaked: %d still in flight", gate.InFlight())
	}
}

func TestRateGateReleaseIsIdempotent(t *testing.T) {
	gate := NewRateGate(0, 1)
	release, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()
	if gate.InFlight() != 0 {
		t.Fatalf("double release corrupted slot count: %d", gate.InFlight())
	}

	// The slot must be acquirable again exactly once.
	if _, err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gate.Acquire(ctx); err == nil {
		t.Fatalf("second acquire should have blocked until cancellation")
	}
}

func TestRateGateAcquireHonorsCancellation(t *testing.T) {
	gate := NewRateGate(0, 1)
	held, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gate.Acquire(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	held()
	if release, err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("slot not returned after cancelled wait: %v", err)
	} else {
		release()
	}
}

func TestRateGateCancelDuringSpacingWaitReturnsSlot(t *testing.T) {
	gate := NewRateGate(5, 2) // 200ms spacing
	first, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gate.Acquire(ctx); err == nil {
		t.Fatalf("expected cancellation during spacing wait")
	}
	if gate.InFlight() != 1 {
		t.Fatalf("spacing-wait cancellation leaked a slot: %d in flight", gate.InFlight())
	}
}
