package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttemptRepository is the append-only audit trail of dispatch decisions.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.ReminderAttempt) error
	ListByAppointmentID(ctx context.Context, appointmentID string) ([]domain.ReminderAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

// Create records an attempt. Writing the same attempt id twice keeps the
// first row, so a retried dispatch transaction cannot duplicate the audit.
func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.ReminderAttempt) error {
	if a == nil || strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.AppointmentID) == "" {
		return fmt.Errorf("%w: attempt id and appointment id are required", domain.ErrValidation)
	}
	switch a.Outcome {
	case domain.AttemptSent, domain.AttemptFailed, domain.AttemptNotAttempted:
	default:
		return fmt.Errorf("%w: unknown attempt outcome %q", domain.ErrValidation, a.Outcome)
	}

	err := conn(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(attemptModelFromDomain(a)).Error
	if err != nil {
		return fmt.Errorf("failed to record attempt for appointment %s: %w", a.AppointmentID, classifyStorageError(err))
	}
	return nil
}

// ListByAppointmentID returns attempts oldest first.
func (r *GormAttemptRepo) ListByAppointmentID(ctx context.Context, appointmentID string) ([]domain.ReminderAttempt, error) {
	var rows []ReminderAttemptModel
	if err := conn(ctx, r.db).
		Where(&ReminderAttemptModel{AppointmentID: appointmentID}).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.ReminderAttempt, len(rows))
	for i := range rows {
		out[i] = *attemptModelToDomain(&rows[i])
	}
	return out, nil
}
