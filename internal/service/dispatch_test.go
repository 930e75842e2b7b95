package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/breaker"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/provider"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"github.com/kursadbilgin/practice-sync/internal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var dispatchNow = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

type dispatchFixture struct {
	db       *gorm.DB
	worker   *DispatchWorker
	provider *fakeProvider
	limiter  *fakeRateLimiter
	breaker  *breaker.CircuitBreaker
	attempts *repository.GormAttemptRepo
}

func newDispatchFixture(t *testing.T, threshold int) *dispatchFixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	seq, err := NewActionSequencer(repository.NewGormActionLogRepo(db), repository.NewGormTransactor(db), zap.NewNop())
	if err != nil {
		t.Fatalf("NewActionSequencer() error = %v", err)
	}

	f := &dispatchFixture{
		db:       db,
		provider: &fakeProvider{},
		limiter:  &fakeRateLimiter{},
		attempts: repository.NewGormAttemptRepo(db),
		breaker: breaker.New(breaker.Config{
			FailureThreshold: threshold,
			Cooldown:         time.Hour,
			IsFailure:        provider.IsTransient,
			Now:              func() time.Time { return dispatchNow },
		}),
	}

	w, err := NewDispatchWorker(repository.NewGormAppointmentRepo(db), f.attempts, seq, f.provider, f.breaker, f.limiter, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatchWorker() error = %v", err)
	}
	w.now = func() time.Time { return dispatchNow }
	ids := 0
	w.newID = func() string {
		ids++
		return fmt.Sprintf("attempt-%d", ids)
	}
	f.worker = w
	return f
}

func (f *dispatchFixture) seed(t *testing.T, n int) []domain.ReminderMessage {
	t.Helper()

	messages := make([]domain.ReminderMessage, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("apt-%d", i)
		phone := fmt.Sprintf("+1555000%04d", i)
		at := dispatchNow.AddDate(0, 0, 1).Add(time.Duration(i) * time.Hour)
		testutil.SeedAppointment(t, f.db, testutil.AppointmentSeed{ID: id, PatientName: "Pat", Phone: phone, ScheduledAt: at, WantNotify: true})
		messages = append(messages, domain.ReminderMessage{
			AppointmentID:   id,
			Phone:           phone,
			RenderedMessage: "reminder " + id,
			Language:        "en",
			ScheduledAt:     at,
		})
	}
	return messages
}

func (f *dispatchFixture) outcomes(t *testing.T, appointmentID string) []domain.AttemptOutcome {
	t.Helper()

	attempts, err := f.attempts.ListByAppointmentID(context.Background(), appointmentID)
	if err != nil {
		t.Fatalf("ListByAppointmentID() error = %v", err)
	}
	out := make([]domain.AttemptOutcome, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Outcome)
	}
	return out
}

func TestDispatchWorkerSendsAndRecords(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, 3)
	messages := f.seed(t, 2)

	summary, err := f.worker.Dispatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Sent != 2 || summary.Total() != 2 {
		t.Fatalf("Dispatch() = %+v, want 2 sent", summary)
	}

	appt := testutil.LoadAppointment(t, f.db, "apt-1")
	if !appt.SentFlag || appt.ProviderMessageID == nil || *appt.ProviderMessageID != "msg-+15550000001" {
		t.Fatalf("appointment = %+v, want sent with provider id", appt)
	}
	if appt.DeliveryStatus == nil || *appt.DeliveryStatus != domain.DeliverySent {
		t.Fatalf("delivery status = %v, want SENT", appt.DeliveryStatus)
	}
	if appt.SentAt == nil || !appt.SentAt.Equal(dispatchNow) {
		t.Fatalf("sent_at = %v, want %s", appt.SentAt, dispatchNow)
	}

	if got := f.outcomes(t, "apt-2"); len(got) != 1 || got[0] != domain.AttemptSent {
		t.Fatalf("attempts = %v, want [SENT]", got)
	}

	entries, err := repository.NewGormActionLogRepo(f.db).ListAfter(context.Background(), domain.ReplicationPosition{}, 10)
	if err != nil {
		t.Fatalf("ListAfter() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("log entries = %d, want 2", len(entries))
	}
	notified, ok := entries[0].Payload.(domain.NotifiedPayload)
	if entries[0].ActionType != domain.ActionNotified || !ok || notified.ProviderMessageID != "msg-+15550000001" {
		t.Fatalf("first entry = %+v", entries[0])
	}
}

func TestDispatchWorkerPermanentFailureDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, 1)
	messages := f.seed(t, 3)
	f.provider.sendFn = func(ctx context.Context, phone, message string) (*provider.ProviderResponse, error) {
		return nil, &provider.ProviderError{StatusCode: http.StatusBadRequest, Message: "invalid destination"}
	}

	summary, err := f.worker.Dispatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Failed != 3 || summary.NotAttempted != 0 {
		t.Fatalf("Dispatch() = %+v, want 3 failed", summary)
	}
	if f.breaker.State() != breaker.StateClosed {
		t.Fatalf("breaker state = %s, want CLOSED", f.breaker.State())
	}

	appt := testutil.LoadAppointment(t, f.db, "apt-3")
	if appt.SentFlag || appt.DeliveryStatus == nil || *appt.DeliveryStatus != domain.DeliveryError {
		t.Fatalf("appointment = %+v, want errored", appt)
	}
	if !appt.WantNotify {
		t.Fatal("failed send should stay eligible")
	}

	attempts, err := f.attempts.ListByAppointmentID(context.Background(), "apt-1")
	if err != nil {
		t.Fatalf("ListByAppointmentID() error = %v", err)
	}
	if len(attempts) != 1 || attempts[0].StatusCode == nil || *attempts[0].StatusCode != http.StatusBadRequest {
		t.Fatalf("attempts = %+v, want one with status 400", attempts)
	}
}

func TestDispatchWorkerOpenBreakerSkipsProvider(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, 2)
	messages := f.seed(t, 5)
	f.provider.sendFn = func(ctx context.Context, phone, message string) (*provider.ProviderResponse, error) {
		return nil, &provider.ProviderError{StatusCode: http.StatusServiceUnavailable, Transient: true}
	}

	summary, err := f.worker.Dispatch(context.Background(), messages)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if summary.Failed != 2 || summary.NotAttempted != 3 {
		t.Fatalf("Dispatch() = %+v, want 2 failed and 3 not attempted", summary)
	}
	if len(f.provider.sent) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(f.provider.sent))
	}
	if f.breaker.State() != breaker.StateOpen {
		t.Fatalf("breaker state = %s, want OPEN", f.breaker.State())
	}

	if got := f.outcomes(t, "apt-5"); len(got) != 1 || got[0] != domain.AttemptNotAttempted {
		t.Fatalf("attempts = %v, want [NOT_ATTEMPTED]", got)
	}
	if appt := testutil.LoadAppointment(t, f.db, "apt-5"); appt.SentFlag || !appt.WantNotify {
		t.Fatalf("appointment = %+v, want unsent and still eligible", appt)
	}
}

func TestDispatchWorkerRateLimiterFailureStopsRun(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, 3)
	messages := f.seed(t, 3)
	limiterErr := errors.New("redis unavailable")
	var waits int
	f.limiter.waitFn = func(ctx context.Context, bucket string) error {
		waits++
		if bucket != smsBucket {
			t.Fatalf("bucket = %q, want %q", bucket, smsBucket)
		}
		return limiterErr
	}

	summary, err := f.worker.Dispatch(context.Background(), messages)
	if !errors.Is(err, limiterErr) {
		t.Fatalf("Dispatch() error = %v, want %v", err, limiterErr)
	}
	if waits != 1 {
		t.Fatalf("limiter calls = %d, want 1", waits)
	}
	if summary.NotAttempted != 1 || summary.Total() != 1 || len(f.provider.sent) != 0 {
		t.Fatalf("Dispatch() = %+v, provider calls = %d", summary, len(f.provider.sent))
	}

	if got := f.outcomes(t, "apt-1"); len(got) != 1 || got[0] != domain.AttemptNotAttempted {
		t.Fatalf("attempts = %v, want [NOT_ATTEMPTED]", got)
	}
	if got := f.outcomes(t, "apt-2"); len(got) != 0 {
		t.Fatalf("attempts for apt-2 = %v, want none", got)
	}
	for _, id := range []string{"apt-1", "apt-2", "apt-3"} {
		if appt := testutil.LoadAppointment(t, f.db, id); appt.DeliveryStatus != nil || !appt.WantNotify {
			t.Fatalf("%s = %+v, want untouched", id, appt)
		}
	}
}

func TestDispatchWorkerStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, 3)
	messages := f.seed(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.worker.Dispatch(ctx, messages)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch() error = %v, want context.Canceled", err)
	}
	if summary.Total() != 0 {
		t.Fatalf("Dispatch() = %+v, want nothing dispatched", summary)
	}
}
