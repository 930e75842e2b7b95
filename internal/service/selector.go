package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/reminder"
	"github.com/kursadbilgin/practice-sync/internal/repository"
	"go.uber.org/zap"
)

// EligibilitySelector decides which appointments on a date get a reminder.
type EligibilitySelector struct {
	appointments repository.AppointmentRepository
	catalog      *reminder.Catalog
	location     *time.Location
	logger       *zap.Logger
	now          func() time.Time
}

func NewEligibilitySelector(
	appointments repository.AppointmentRepository,
	catalog *reminder.Catalog,
	location *time.Location,
	logger *zap.Logger,
) (*EligibilitySelector, error) {
	if appointments == nil {
		return nil, fmt.Errorf("appointment repository is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("template catalog is required")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EligibilitySelector{
		appointments: appointments,
		catalog:      catalog,
		location:     location,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// SelectForDate returns rendered reminders for appointments on the practice's
// calendar day containing date, earliest first. When several appointments
// share a phone number only the earliest is returned and the rest have
// want_notify cleared.
func (s *EligibilitySelector) SelectForDate(ctx context.Context, date time.Time) ([]domain.ReminderMessage, error) {
	from := startOfDay(date, s.location)
	to := from.AddDate(0, 0, 1)

	candidates, err := s.appointments.ListReminderCandidates(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates for %s: %w", from.Format(time.DateOnly), err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
	})

	kind := reminder.KindForDays(daysBetween(s.now(), from, s.location))

	seen := make(map[string]string, len(candidates))
	var duplicates []string
	messages := make([]domain.ReminderMessage, 0, len(candidates))
	for _, c := range candidates {
		phone, ok := reminder.NormalizePhone(c.Phone)
		if !ok {
			s.logger.Info("excluding appointment with invalid phone",
				zap.String("appointmentId", c.AppointmentID),
			)
			continue
		}

		if keptID, dup := seen[phone]; dup {
			s.logger.Info("suppressing duplicate phone reminder",
				zap.String("appointmentId", c.AppointmentID),
				zap.String("keptAppointmentId", keptID),
			)
			duplicates = append(duplicates, c.AppointmentID)
			continue
		}
		seen[phone] = c.AppointmentID

		local := c.ScheduledAt.In(s.location)
		text, lang := s.catalog.Render(c.Language, kind, c.PatientName, local)
		messages = append(messages, domain.ReminderMessage{
			AppointmentID:   c.AppointmentID,
			Phone:           phone,
			RenderedMessage: text,
			Language:        lang,
			ScheduledAt:     c.ScheduledAt,
		})
	}

	if len(duplicates) > 0 {
		if _, err := s.appointments.ClearWantNotify(ctx, duplicates, s.now().UTC()); err != nil {
			return nil, fmt.Errorf("failed to clear want_notify on duplicate-phone appointments: %w", err)
		}
	}

	return messages, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from now to day in loc, ignoring DST.
func daysBetween(now, day time.Time, loc *time.Location) int {
	y1, m1, d1 := now.In(loc).Date()
	y2, m2, d2 := day.In(loc).Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
