// Package breaker implements a tri-state circuit breaker owned by a single
// dispatcher instance. State is process-local and starts closed.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the breaker
// is open or a half-open probe is already in flight.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

type Config struct {
	FailureThreshold int
	Cooldown         time.Duration

	// IsFailure decides whether an error counts against the breaker.
	// Defaults to any error except context cancellation.
	IsFailure func(error) bool

	OnStateChange func(from, to State)
	Now           func() time.Time
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	ProbeInFlight       bool
}

type CircuitBreaker struct {
	mu sync.Mutex

	threshold     int
	cooldown      time.Duration
	isFailure     func(error) bool
	onStateChange func(from, to State)
	now           func() time.Time

	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
	generation          uint64
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CircuitBreaker{
		threshold:     cfg.FailureThreshold,
		cooldown:      cfg.Cooldown,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the breaker rejects the call with ErrOpen. The
// result of fn is recorded and returned unchanged. A panic in fn counts as a
// failure and is re-raised.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	generation, probe, err := b.acquire()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(generation, probe, true)
			panic(r)
		}
		b.record(generation, probe, b.isFailure(err))
	}()
	return fn(ctx)
}

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		ProbeInFlight:       b.probeInFlight,
	}
}

func (b *CircuitBreaker) acquire() (uint64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return b.generation, false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return 0, false, ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return b.generation, true, nil
	case StateHalfOpen:
		if b.probeInFlight {
			return 0, false, ErrOpen
		}
		b.probeInFlight = true
		return b.generation, true, nil
	}
	return 0, false, ErrOpen
}

func (b *CircuitBreaker) record(generation uint64, probe bool, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
		if failed {
			b.trip()
			return
		}
		b.consecutiveFailures = 0
		b.transition(StateClosed)
		return
	}

	// Closed-state calls that return after the breaker moved on are stale.
	if generation != b.generation || b.state != StateClosed {
		return
	}

	if !failed {
		b.consecutiveFailures = 0
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.trip()
	}
}

func (b *CircuitBreaker) trip() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *CircuitBreaker) transition(to State) {
	from := b.state
	b.state = to
	b.generation++
	if from != to && b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
