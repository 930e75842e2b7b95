package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/practice-sync/internal/breaker"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"github.com/kursadbilgin/practice-sync/internal/provider"
	"github.com/kursadbilgin/practice-sync/internal/ratelimit"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"go.uber.org/zap"
)

const smsBucket = "sms"

var errLimiterUnavailable = errors.New("rate limiter unavailable")

// DispatchSummary counts dispatch outcomes. NotAttempted covers breaker
// fast-fails and rate limiter failures and is never folded into Failed.
type DispatchSummary struct {
	Sent         int
	Failed       int
	NotAttempted int
}

func (s DispatchSummary) Total() int {
	return s.Sent + s.Failed + s.NotAttempted
}

type DispatchWorker struct {
	appointments repository.AppointmentRepository
	attempts     repository.AttemptRepository
	sequencer    *ActionSequencer
	provider     provider.Provider
	breaker      *breaker.CircuitBreaker
	rateLimiter  ratelimit.RateLimiter
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	newID        func() string
}

func NewDispatchWorker(
	appointments repository.AppointmentRepository,
	attempts repository.AttemptRepository,
	sequencer *ActionSequencer,
	sender provider.Provider,
	cb *breaker.CircuitBreaker,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*DispatchWorker, error) {
	if appointments == nil {
		return nil, fmt.Errorf("appointment repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if sequencer == nil {
		return nil, fmt.Errorf("action sequencer is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cb == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		appointments: appointments,
		attempts:     attempts,
		sequencer:    sequencer,
		provider:     sender,
		breaker:      cb,
		rateLimiter:  rateLimiter,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Dispatch sends each message in order. A failure to record one message's
// outcome does not stop the others; those errors are joined and returned.
// A rate limiter failure ends the run after recording that message as not
// attempted.
func (w *DispatchWorker) Dispatch(ctx context.Context, messages []domain.ReminderMessage) (DispatchSummary, error) {
	var summary DispatchSummary
	var errs []error

	for _, msg := range messages {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		outcome, err := w.dispatchOne(ctx, msg)
		switch outcome {
		case domain.AttemptSent:
			summary.Sent++
		case domain.AttemptFailed:
			summary.Failed++
		default:
			summary.NotAttempted++
		}
		w.metrics.IncDispatch(outcome.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("appointment %s: %w", msg.AppointmentID, err))
		}
		if errors.Is(err, errLimiterUnavailable) {
			break
		}
	}

	return summary, errors.Join(errs...)
}

func (w *DispatchWorker) dispatchOne(ctx context.Context, msg domain.ReminderMessage) (domain.AttemptOutcome, error) {
	if w.rateLimiter != nil {
		if err := w.rateLimiter.Wait(ctx, smsBucket); err != nil {
			err = fmt.Errorf("%w: %w", errLimiterUnavailable, err)
			w.logger.Error("reminder not attempted, rate limiter failed",
				zap.String("appointmentId", msg.AppointmentID),
				zap.Error(err),
			)
			if recErr := w.attempts.Create(context.WithoutCancel(ctx), w.attempt(msg, domain.AttemptNotAttempted, nil, err, w.now().UTC())); recErr != nil {
				return domain.AttemptNotAttempted, errors.Join(err, fmt.Errorf("failed to record attempt: %w", recErr))
			}
			return domain.AttemptNotAttempted, err
		}
	}

	var resp *provider.ProviderResponse
	sendStart := w.now()
	sendErr := w.breaker.Execute(ctx, func(ctx context.Context) error {
		r, err := w.provider.Send(ctx, msg.Phone, msg.RenderedMessage)
		resp = r
		return err
	})
	at := w.now().UTC()

	if errors.Is(sendErr, breaker.ErrOpen) {
		w.logger.Warn("reminder not attempted, circuit open",
			zap.String("appointmentId", msg.AppointmentID),
		)
		return domain.AttemptNotAttempted, w.recordError(ctx, msg, domain.AttemptNotAttempted, resp, sendErr, at)
	}
	w.metrics.ObserveProviderSendDuration(at.Sub(sendStart))

	if sendErr != nil {
		w.logger.Warn("reminder send failed",
			zap.String("appointmentId", msg.AppointmentID),
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
		return domain.AttemptFailed, w.recordError(ctx, msg, domain.AttemptFailed, resp, sendErr, at)
	}

	messageID := ""
	if resp != nil {
		messageID = strings.TrimSpace(resp.MessageID)
	}
	err := w.sequencer.Transact(ctx, func(ctx context.Context) error {
		if err := w.appointments.MarkSent(ctx, msg.AppointmentID, messageID, at); err != nil {
			return fmt.Errorf("failed to mark sent: %w", err)
		}
		if _, err := w.sequencer.Append(ctx, domain.ActionRecord{
			ActionDate:    at,
			AppointmentID: msg.AppointmentID,
			Payload:       domain.NotifiedPayload{ProviderMessageID: messageID, SentAt: at},
		}); err != nil {
			return err
		}
		return w.attempts.Create(ctx, w.attempt(msg, domain.AttemptSent, resp, nil, at))
	})
	if err != nil {
		w.logger.Error("reminder sent but not recorded",
			zap.String("appointmentId", msg.AppointmentID),
			zap.String("providerMessageId", messageID),
			zap.Error(err),
		)
		return domain.AttemptSent, err
	}

	w.logger.Info("reminder sent",
		zap.String("appointmentId", msg.AppointmentID),
		zap.String("providerMessageId", messageID),
		zap.String("language", msg.Language),
	)
	return domain.AttemptSent, nil
}

func (w *DispatchWorker) recordError(
	ctx context.Context,
	msg domain.ReminderMessage,
	outcome domain.AttemptOutcome,
	resp *provider.ProviderResponse,
	sendErr error,
	at time.Time,
) error {
	return w.sequencer.Transact(ctx, func(ctx context.Context) error {
		if err := w.appointments.MarkErrored(ctx, msg.AppointmentID, at); err != nil {
			return fmt.Errorf("failed to mark errored: %w", err)
		}
		return w.attempts.Create(ctx, w.attempt(msg, outcome, resp, sendErr, at))
	})
}

func (w *DispatchWorker) attempt(
	msg domain.ReminderMessage,
	outcome domain.AttemptOutcome,
	resp *provider.ProviderResponse,
	sendErr error,
	at time.Time,
) *domain.ReminderAttempt {
	a := &domain.ReminderAttempt{
		ID:            w.newID(),
		AppointmentID: msg.AppointmentID,
		Outcome:       outcome,
		CreatedAt:     at,
	}

	if resp != nil {
		if resp.StatusCode > 0 {
			code := resp.StatusCode
			a.StatusCode = &code
		}
		if id := strings.TrimSpace(resp.MessageID); id != "" {
			a.ProviderMessageID = &id
		}
	}
	if sendErr != nil {
		text := sendErr.Error()
		a.Error = &text
		if code := provider.StatusCode(sendErr); code > 0 && a.StatusCode == nil {
			a.StatusCode = &code
		}
	}
	return a
}
