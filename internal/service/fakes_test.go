package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/mirror"
	"github.com/kursadbilgin/practice-sync/internal/provider"
)

type fakeSettings struct {
	mu               sync.Mutex
	enabled          bool
	interval         time.Duration
	lookback         time.Duration
	maxRecords       int
	remindersEnabled bool
	reminderInterval time.Duration
	daysAhead        int
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{
		enabled:          true,
		interval:         time.Minute,
		lookback:         24 * time.Hour,
		maxRecords:       500,
		remindersEnabled: true,
		reminderInterval: time.Hour,
		daysAhead:        1,
	}
}

func (f *fakeSettings) setEnabled(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = v
}

func (f *fakeSettings) ReplicationEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeSettings) PollInterval() time.Duration { return f.interval }
func (f *fakeSettings) LookbackWindow() time.Duration { return f.lookback }
func (f *fakeSettings) MaxRecordsPerPoll() int { return f.maxRecords }
func (f *fakeSettings) RemindersEnabled() bool { return f.remindersEnabled }
func (f *fakeSettings) ReminderInterval() time.Duration { return f.reminderInterval }
func (f *fakeSettings) ReminderDaysAhead() int { return f.daysAhead }

type fakeMirror struct {
	mu       sync.Mutex
	upsertFn func(ctx context.Context, entries []domain.ActionLogEntry) (mirror.Result, error)
	batches  [][]domain.ActionLogEntry
}

func (f *fakeMirror) UpsertBatch(ctx context.Context, entries []domain.ActionLogEntry) (mirror.Result, error) {
	f.mu.Lock()
	f.batches = append(f.batches, entries)
	fn := f.upsertFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, entries)
	}
	return mirror.Result{AcceptedCount: len(entries)}, nil
}

func (f *fakeMirror) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeProvider struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, phone, message string) (*provider.ProviderResponse, error)
	sent   []string
}

func (f *fakeProvider) Send(ctx context.Context, phone, message string) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, phone)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, phone, message)
	}
	return &provider.ProviderResponse{StatusCode: 202, MessageID: "msg-" + phone}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, bucket string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, bucket string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, bucket)
	}
	return nil
}

type fakeActionLog struct {
	appendFn func(ctx context.Context, entry domain.ActionLogEntry) (*domain.ActionLogEntry, error)
}

func (f *fakeActionLog) Append(ctx context.Context, entry domain.ActionLogEntry) (*domain.ActionLogEntry, error) {
	return f.appendFn(ctx, entry)
}

func (f *fakeActionLog) ListAfter(ctx context.Context, after domain.ReplicationPosition, limit int) ([]domain.ActionLogEntry, error) {
	return nil, nil
}

func (f *fakeActionLog) Latest(ctx context.Context) (domain.ReplicationPosition, error) {
	return domain.ReplicationPosition{}, nil
}

type fakeSelector struct {
	selectFn func(ctx context.Context, date time.Time) ([]domain.ReminderMessage, error)
}

func (f *fakeSelector) SelectForDate(ctx context.Context, date time.Time) ([]domain.ReminderMessage, error) {
	return f.selectFn(ctx, date)
}

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, messages []domain.ReminderMessage) (DispatchSummary, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, messages []domain.ReminderMessage) (DispatchSummary, error) {
	return f.dispatchFn(ctx, messages)
}
