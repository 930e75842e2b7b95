package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"gorm.io/gorm"
)

// nextSequenceSQL bumps the per-day counter row and returns the new value.
// The conflicting upsert takes a row lock on the day's counter that is held
// until commit, so concurrent writers for one day are serialized while other
// days proceed in parallel. A missing counter row is seeded from the log.
const nextSequenceSQL = `INSERT INTO action_log_sequences (action_date, last_sequence)
VALUES (?, (SELECT COALESCE(MAX(daily_sequence), 0) + 1 FROM action_log_entries WHERE action_date = ?))
ON CONFLICT (action_date) DO UPDATE SET last_sequence = action_log_sequences.last_sequence + 1
RETURNING last_sequence`

const postgresLockTimeout = "SET LOCAL lock_timeout = '5s'"

type ActionLogRepository interface {
	Append(ctx context.Context, entry domain.ActionLogEntry) (*domain.ActionLogEntry, error)
	ListAfter(ctx context.Context, after domain.ReplicationPosition, limit int) ([]domain.ActionLogEntry, error)
	Latest(ctx context.Context) (domain.ReplicationPosition, error)
}

type GormActionLogRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormActionLogRepo(db *gorm.DB) *GormActionLogRepo {
	return &GormActionLogRepo{db: db, now: time.Now}
}

// Append assigns the next daily sequence for entry.ActionDate and inserts the
// entry. It joins the transaction carried by ctx when there is one. Lock and
// serialization failures are returned as domain.ErrSequenceConflict.
func (r *GormActionLogRepo) Append(ctx context.Context, entry domain.ActionLogEntry) (*domain.ActionLogEntry, error) {
	entry.ActionDate = domain.ActionDay(entry.ActionDate)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}

	var appended *domain.ActionLogEntry
	err := WithinTransaction(ctx, r.db, func(ctx context.Context) error {
		tx := conn(ctx, r.db)

		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec(postgresLockTimeout).Error; err != nil {
				return classifyStorageError(err)
			}
		}

		var next int64
		if err := tx.Raw(nextSequenceSQL, entry.ActionDate, entry.ActionDate).Scan(&next).Error; err != nil {
			return classifyStorageError(err)
		}
		if next <= 0 {
			return fmt.Errorf("sequence allocation for %s returned %d", entry.ActionDate.Format(time.DateOnly), next)
		}

		entry.DailySequence = next
		model, err := actionLogModelFromDomain(&entry)
		if err != nil {
			return err
		}
		if err := tx.Create(model).Error; err != nil {
			return classifyStorageError(err)
		}

		appended, err = actionLogModelToDomain(model)
		return err
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// ListAfter returns up to limit entries strictly after the given position in
// (action_date, daily_sequence) order.
func (r *GormActionLogRepo) ListAfter(ctx context.Context, after domain.ReplicationPosition, limit int) ([]domain.ActionLogEntry, error) {
	query := conn(ctx, r.db).Model(&ActionLogEntryModel{})
	if !after.IsZero() {
		day := domain.ActionDay(after.ActionDate)
		query = query.Where("(action_date > ? OR (action_date = ? AND daily_sequence > ?))", day, day, after.DailySequence)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []ActionLogEntryModel
	err := query.
		Order("action_date ASC").
		Order("daily_sequence ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ActionLogEntry, 0, len(models))
	for i := range models {
		entry, err := actionLogModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Latest returns the position of the newest entry, or the zero position for
// an empty log.
func (r *GormActionLogRepo) Latest(ctx context.Context) (domain.ReplicationPosition, error) {
	var model ActionLogEntryModel
	err := conn(ctx, r.db).
		Order("action_date DESC").
		Order("daily_sequence DESC").
		Limit(1).
		Find(&model).Error
	if err != nil {
		return domain.ReplicationPosition{}, err
	}
	if model.DailySequence == 0 {
		return domain.ReplicationPosition{}, nil
	}
	return domain.ReplicationPosition{
		ActionDate:    domain.ActionDay(model.ActionDate),
		DailySequence: model.DailySequence,
	}, nil
}
