package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSingleFlight(t *testing.T) {
	t.Parallel()

	var f singleFlight
	if !f.tryAcquire() {
		t.Fatal("first tryAcquire() = false")
	}
	if f.tryAcquire() {
		t.Fatal("second tryAcquire() = true while held")
	}
	f.release()
	if !f.tryAcquire() {
		t.Fatal("tryAcquire() after release = false")
	}
}

func TestRunPeriodicTicksUntilCancelled(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runPeriodic(ctx, func() time.Duration { return 5 * time.Millisecond }, func(ctx context.Context) {
			if ticks.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runPeriodic() did not return after cancel")
	}
	if ticks.Load() < 3 {
		t.Fatalf("ticks = %d, want at least 3", ticks.Load())
	}
}

func TestRunPeriodicPicksUpNewInterval(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int32
	interval := func() time.Duration {
		if ticks.Load() >= 2 {
			return time.Hour
		}
		return 5 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runPeriodic(ctx, interval, func(ctx context.Context) { ticks.Add(1) })
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if got := ticks.Load(); got != 2 {
		t.Fatalf("ticks = %d, want 2 once the interval grew to an hour", got)
	}
}
