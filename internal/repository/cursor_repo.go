package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CursorRepository interface {
	Get(ctx context.Context, mirrorName string) (domain.ReplicationCursor, error)
	Advance(ctx context.Context, mirrorName string, to domain.ReplicationPosition) (bool, error)
}

type GormCursorRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormCursorRepo(db *gorm.DB) *GormCursorRepo {
	return &GormCursorRepo{db: db, now: time.Now}
}

// Get returns the persisted cursor, or a cursor at the origin when the mirror
// has never confirmed anything.
func (r *GormCursorRepo) Get(ctx context.Context, mirrorName string) (domain.ReplicationCursor, error) {
	var model ReplicationCursorModel
	err := conn(ctx, r.db).First(&model, "mirror_name = ?", mirrorName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ReplicationCursor{MirrorName: mirrorName}, nil
	}
	if err != nil {
		return domain.ReplicationCursor{}, err
	}
	return cursorModelToDomain(&model), nil
}

// Advance moves the cursor forward to the given position. The guard lives in
// the UPDATE itself, so a stale or equal position is a no-op and the cursor
// can never move backwards. It reports whether the row changed.
func (r *GormCursorRepo) Advance(ctx context.Context, mirrorName string, to domain.ReplicationPosition) (bool, error) {
	if strings.TrimSpace(mirrorName) == "" {
		return false, domain.ErrValidation
	}
	if to.IsZero() {
		return false, nil
	}

	day := domain.ActionDay(to.ActionDate)
	now := r.now().UTC()

	var advanced bool
	err := WithinTransaction(ctx, r.db, func(ctx context.Context) error {
		db := conn(ctx, r.db)

		seed := ReplicationCursorModel{MirrorName: mirrorName, UpdatedAt: now}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		res := db.Model(&ReplicationCursorModel{}).
			Where("mirror_name = ?", mirrorName).
			Where("(last_replicated_date IS NULL OR last_replicated_date < ? OR (last_replicated_date = ? AND last_replicated_sequence < ?))",
				day, day, to.DailySequence).
			Updates(map[string]any{
				"last_replicated_date":     day,
				"last_replicated_sequence": to.DailySequence,
				"updated_at":               now,
			})
		if res.Error != nil {
			return res.Error
		}
		advanced = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return advanced, nil
}
