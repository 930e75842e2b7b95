package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"go.uber.org/zap"
)

type ReminderSettings interface {
	RemindersEnabled() bool
	ReminderInterval() time.Duration
	ReminderDaysAhead() int
}

type reminderSelector interface {
	SelectForDate(ctx context.Context, date time.Time) ([]domain.ReminderMessage, error)
}

type reminderDispatcher interface {
	Dispatch(ctx context.Context, messages []domain.ReminderMessage) (DispatchSummary, error)
}

// ReminderRun describes one selection and dispatch pass.
type ReminderRun struct {
	Date     time.Time
	Skipped  bool
	Disabled bool
	Selected int
	Summary  DispatchSummary
}

// ReminderJob selects and dispatches reminders for the date ReminderDaysAhead
// days from today.
type ReminderJob struct {
	selector   reminderSelector
	dispatcher reminderDispatcher
	settings   ReminderSettings
	location   *time.Location
	logger     *zap.Logger
	now        func() time.Time
	flight     singleFlight
}

func NewReminderJob(
	selector reminderSelector,
	dispatcher reminderDispatcher,
	settings ReminderSettings,
	location *time.Location,
	logger *zap.Logger,
) (*ReminderJob, error) {
	if selector == nil {
		return nil, fmt.Errorf("eligibility selector is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatch worker is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("reminder settings are required")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReminderJob{
		selector:   selector,
		dispatcher: dispatcher,
		settings:   settings,
		location:   location,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (j *ReminderJob) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runPeriodic(ctx, j.settings.ReminderInterval, func(ctx context.Context) {
		if !j.settings.RemindersEnabled() {
			return
		}
		date := j.now().In(j.location).AddDate(0, 0, j.settings.ReminderDaysAhead())
		if _, err := j.RunOnce(ctx, date); err != nil && ctx.Err() == nil {
			j.logger.Error("reminder run failed",
				zap.String("date", date.Format(time.DateOnly)),
				zap.Error(err),
			)
		}
	})
	return nil
}

// RunOnce selects and dispatches reminders for date. It does not consult
// RemindersEnabled, so operators can run it by hand while the loop is off.
func (j *ReminderJob) RunOnce(ctx context.Context, date time.Time) (ReminderRun, error) {
	run := ReminderRun{Date: startOfDay(date, j.location)}

	if !j.flight.tryAcquire() {
		run.Skipped = true
		return run, nil
	}
	defer j.flight.release()

	messages, err := j.selector.SelectForDate(ctx, date)
	if err != nil {
		return run, err
	}
	run.Selected = len(messages)
	if len(messages) == 0 {
		return run, nil
	}

	summary, err := j.dispatcher.Dispatch(ctx, messages)
	run.Summary = summary
	j.logger.Info("reminder run finished",
		zap.String("date", run.Date.Format(time.DateOnly)),
		zap.Int("selected", run.Selected),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("notAttempted", summary.NotAttempted),
	)
	return run, err
}
