package service

import (
	"context"
	"sync/atomic"
	"time"
)

// singleFlight lets one run of a task proceed at a time. A tick that finds a
// run in progress is dropped, not queued.
type singleFlight struct {
	running atomic.Bool
}

func (f *singleFlight) tryAcquire() bool {
	return f.running.CompareAndSwap(false, true)
}

func (f *singleFlight) release() {
	f.running.Store(false)
}

// runPeriodic calls tick once immediately and then on every interval until
// ctx ends. interval is re-read after each tick so a changed setting takes
// effect without a restart.
func runPeriodic(ctx context.Context, interval func() time.Duration, tick func(ctx context.Context)) {
	tick(ctx)

	current := interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
			if next := interval(); next > 0 && next != current {
				ticker.Reset(next)
				current = next
			}
		}
	}
}
