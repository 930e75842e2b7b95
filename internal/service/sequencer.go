package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultAppendAttempts = 5
	baseAppendBackoff     = 50 * time.Millisecond
	maxAppendBackoff      = 2 * time.Second
	maxAppendJitterMillis = 25
)

// ActionSequencer appends appointment actions to the action log.
//
// Called with a context that carries a transaction, Append makes exactly one
// attempt and leaves retrying to the caller, whose mutation must roll back
// with it. Called outside a transaction it retries sequence conflicts with
// capped exponential backoff.
type ActionSequencer struct {
	log         repository.ActionLogRepository
	tx          repository.Transactor
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	randIntn    func(n int) int
}

func NewActionSequencer(log repository.ActionLogRepository, tx repository.Transactor, logger *zap.Logger) (*ActionSequencer, error) {
	if log == nil {
		return nil, fmt.Errorf("action log repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ActionSequencer{
		log:         log,
		tx:          tx,
		logger:      logger,
		maxAttempts: defaultAppendAttempts,
		sleep:       sleepContext,
		randIntn:    rand.Intn,
	}, nil
}

func (s *ActionSequencer) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Append logs one action and returns its daily sequence number.
func (s *ActionSequencer) Append(ctx context.Context, rec domain.ActionRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	entry := rec.Entry()

	attempts := s.maxAttempts
	if repository.InTransaction(ctx) {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		saved, err := s.log.Append(ctx, entry)
		if err == nil {
			s.metrics.IncActionAppended(saved.ActionType.String())
			return saved.DailySequence, nil
		}

		if !errors.Is(err, domain.ErrSequenceConflict) || attempt >= attempts {
			return 0, fmt.Errorf("failed to log %s for appointment %s: %w", entry.ActionType, entry.AppointmentID, err)
		}

		s.metrics.IncSequenceConflict()
		delay := s.backoff(attempt)
		s.logger.Warn("sequence conflict, retrying append",
			zap.String("appointmentId", entry.AppointmentID),
			zap.String("actionDate", entry.ActionDate.Format(time.DateOnly)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return 0, fmt.Errorf("append for appointment %s abandoned: %w", entry.AppointmentID, err)
		}
	}
}

// Transact runs fn as one unit of work that may log actions through Append.
// A sequence conflict rolls back the whole unit, so the unit is retried as a
// whole. Inside an outer transaction fn runs once.
func (s *ActionSequencer) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := s.maxAttempts
	if repository.InTransaction(ctx) {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := s.tx.WithinTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrSequenceConflict) || attempt >= attempts {
			return err
		}

		s.metrics.IncSequenceConflict()
		delay := s.backoff(attempt)
		s.logger.Warn("sequence conflict, retrying transaction",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return fmt.Errorf("transaction abandoned: %w", err)
		}
	}
}

func (s *ActionSequencer) backoff(attempt int) time.Duration {
	delay := baseAppendBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxAppendBackoff {
			delay = maxAppendBackoff
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil {
		jitterMillis = s.randIntn(maxAppendJitterMillis + 1)
	}
	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
