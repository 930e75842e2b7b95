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

type AppointmentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Appointment, error)
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]domain.ReminderCandidate, error)
	ClearWantNotify(ctx context.Context, ids []string, at time.Time) (int64, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkErrored(ctx context.Context, id string, at time.Time) error
	ResolveProviderMessageIDs(ctx context.Context, providerMessageIDs []string) (map[string]string, error)
	ApplyDeliveryUpdates(ctx context.Context, updates []domain.DeliveryUpdate) (int64, error)
	ReminderStats(ctx context.Context, from, to time.Time) (*domain.ReminderStats, error)
}

type GormAppointmentRepo struct {
	db *gorm.DB
}

func NewGormAppointmentRepo(db *gorm.DB) *GormAppointmentRepo {
	return &GormAppointmentRepo{db: db}
}

func (r *GormAppointmentRepo) GetByID(ctx context.Context, id string) (*domain.Appointment, error) {
	var model AppointmentModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return appointmentModelToDomain(&model), nil
}

type candidateRow struct {
	AppointmentID string    `gorm:"column:appointment_id"`
	PatientName   string    `gorm:"column:patient_name"`
	Phone         string    `gorm:"column:phone"`
	Language      string    `gorm:"column:language"`
	ScheduledAt   time.Time `gorm:"column:scheduled_at"`
}

// ListReminderCandidates returns appointments scheduled in [from, to) that
// still want a reminder and were never sent or errored last time.
func (r *GormAppointmentRepo) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]domain.ReminderCandidate, error) {
	var rows []candidateRow
	err := conn(ctx, r.db).
		Table("appointments AS a").
		Select("a.id AS appointment_id, p.full_name AS patient_name, p.phone AS phone, p.preferred_language AS language, a.scheduled_at AS scheduled_at").
		Joins("JOIN patients p ON p.id = a.patient_id").
		Where("a.scheduled_at >= ? AND a.scheduled_at < ?", from.UTC(), to.UTC()).
		Where("a.want_notify = ?", true).
		Where("(a.sent_flag = ? OR a.delivery_status = ?)", false, domain.DeliveryError).
		Order("a.scheduled_at ASC").
		Order("a.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.ReminderCandidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, domain.ReminderCandidate{
			AppointmentID: row.AppointmentID,
			PatientName:   row.PatientName,
			Phone:         row.Phone,
			Language:      row.Language,
			ScheduledAt:   row.ScheduledAt.UTC(),
		})
	}
	return candidates, nil
}

func (r *GormAppointmentRepo) ClearWantNotify(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := conn(ctx, r.db).
		Model(&AppointmentModel{}).
		Where("id IN ?", ids).
		Where("want_notify = ?", true).
		Updates(map[string]any{
			"want_notify":  false,
			"last_updated": at.UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *GormAppointmentRepo) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	values := map[string]any{
		"sent_flag":       true,
		"sent_at":         at.UTC(),
		"delivery_status": domain.DeliverySent,
		"last_updated":    at.UTC(),
	}
	if providerMessageID != "" {
		values["provider_message_id"] = providerMessageID
	}

	res := conn(ctx, r.db).
		Model(&AppointmentModel{}).
		Where("id = ?", id).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkErrored records a failed or skipped send. The appointment stays
// eligible for a later selection run while want_notify is set.
func (r *GormAppointmentRepo) MarkErrored(ctx context.Context, id string, at time.Time) error {
	res := conn(ctx, r.db).
		Model(&AppointmentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sent_flag":       false,
			"delivery_status": domain.DeliveryError,
			"last_updated":    at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResolveProviderMessageIDs maps provider message ids to appointment ids.
// Unknown ids are absent from the result.
func (r *GormAppointmentRepo) ResolveProviderMessageIDs(ctx context.Context, providerMessageIDs []string) (map[string]string, error) {
	resolved := make(map[string]string, len(providerMessageIDs))
	if len(providerMessageIDs) == 0 {
		return resolved, nil
	}

	var models []AppointmentModel
	err := conn(ctx, r.db).
		Select("id", "provider_message_id").
		Where("provider_message_id IN ?", providerMessageIDs).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	for _, m := range models {
		if m.ProviderMessageID != nil {
			resolved[*m.ProviderMessageID] = m.ID
		}
	}
	return resolved, nil
}

// ApplyDeliveryUpdates applies every update in one set-based UPDATE keyed by
// provider message id. Timestamps are only written where still NULL, so
// replaying a batch leaves the rows unchanged.
func (r *GormAppointmentRepo) ApplyDeliveryUpdates(ctx context.Context, updates []domain.DeliveryUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.ProviderMessageID)
	}

	values := map[string]any{
		"delivery_status": caseByProviderMessageID("delivery_status", updates, func(u domain.DeliveryUpdate) (any, bool) {
			return string(u.Status), true
		}),
		"want_notify": caseByProviderMessageID("want_notify", updates, func(u domain.DeliveryUpdate) (any, bool) {
			return false, u.ClearWantNotify
		}),
		"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", caseByProviderMessageID("delivered_at", updates, func(u domain.DeliveryUpdate) (any, bool) {
			if u.DeliveredAt == nil {
				return nil, false
			}
			return u.DeliveredAt.UTC(), true
		})),
		"read_at": gorm.Expr("COALESCE(read_at, ?)", caseByProviderMessageID("read_at", updates, func(u domain.DeliveryUpdate) (any, bool) {
			if u.ReadAt == nil {
				return nil, false
			}
			return u.ReadAt.UTC(), true
		})),
		"last_updated": caseByProviderMessageID("last_updated", updates, func(u domain.DeliveryUpdate) (any, bool) {
			return u.LastUpdated.UTC(), true
		}),
	}

	res := conn(ctx, r.db).
		Model(&AppointmentModel{}).
		Where("provider_message_id IN ?", ids).
		Updates(values)
	return res.RowsAffected, res.Error
}

// caseByProviderMessageID builds "CASE provider_message_id WHEN ? THEN ? ...
// ELSE column END" for the updates that carry a value, or the bare column
// when none do.
func caseByProviderMessageID(column string, updates []domain.DeliveryUpdate, value func(domain.DeliveryUpdate) (any, bool)) clause.Expr {
	var sb strings.Builder
	args := make([]any, 0, len(updates)*2)

	sb.WriteString("CASE provider_message_id")
	for _, u := range updates {
		v, ok := value(u)
		if !ok {
			continue
		}
		sb.WriteString(" WHEN ? THEN ?")
		args = append(args, u.ProviderMessageID, v)
	}
	if len(args) == 0 {
		return gorm.Expr(column)
	}
	sb.WriteString(" ELSE ")
	sb.WriteString(column)
	sb.WriteString(" END")

	return gorm.Expr(sb.String(), args...)
}

type statsRow struct {
	TotalCount     int64 `gorm:"column:total_count"`
	SentCount      int64 `gorm:"column:sent_count"`
	DeliveredCount int64 `gorm:"column:delivered_count"`
	ReadCount      int64 `gorm:"column:read_count"`
}

// ReminderStats aggregates reminder delivery for appointments scheduled in [from, to).
func (r *GormAppointmentRepo) ReminderStats(ctx context.Context, from, to time.Time) (*domain.ReminderStats, error) {
	var row statsRow
	err := conn(ctx, r.db).
		Model(&AppointmentModel{}).
		Select(`COUNT(*) AS total_count,
			COALESCE(SUM(CASE WHEN sent_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS sent_count,
			COALESCE(SUM(CASE WHEN delivered_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS delivered_count,
			COALESCE(SUM(CASE WHEN read_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS read_count`).
		Where("scheduled_at >= ? AND scheduled_at < ?", from.UTC(), to.UTC()).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &domain.ReminderStats{
		From:      from,
		To:        to,
		Total:     row.TotalCount,
		Sent:      row.SentCount,
		Delivered: row.DeliveredCount,
		Read:      row.ReadCount,
	}
	stats.ComputeReadRate()
	return stats, nil
}
