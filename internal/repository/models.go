package repository

import (
	"fmt"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	"gorm.io/datatypes"
)

// ActionLogEntryModel is the persistence model for action_log_entries.
type ActionLogEntryModel struct {
	ActionDate    time.Time         `gorm:"type:date;primaryKey"`
	DailySequence int64             `gorm:"primaryKey;autoIncrement:false"`
	AppointmentID string            `gorm:"type:varchar(64);not null;index"`
	ActionType    domain.ActionType `gorm:"type:varchar(32);not null"`
	Payload       datatypes.JSON    `gorm:"not null"`
	CreatedAt     time.Time         `gorm:"not null"`
}

func (ActionLogEntryModel) TableName() string {
	return "action_log_entries"
}

// ActionSequenceModel tracks the last sequence handed out per action day.
type ActionSequenceModel struct {
	ActionDate   time.Time `gorm:"type:date;primaryKey"`
	LastSequence int64     `gorm:"not null"`
}

func (ActionSequenceModel) TableName() string {
	return "action_log_sequences"
}

// ReplicationCursorModel is the persistence model for replication_cursors.
type ReplicationCursorModel struct {
	MirrorName             string     `gorm:"type:varchar(64);primaryKey"`
	LastReplicatedDate     *time.Time `gorm:"type:date"`
	LastReplicatedSequence int64      `gorm:"not null;default:0"`
	UpdatedAt              time.Time  `gorm:"not null"`
}

func (ReplicationCursorModel) TableName() string {
	return "replication_cursors"
}

type PatientModel struct {
	ID                string `gorm:"type:varchar(64);primaryKey"`
	FullName          string `gorm:"type:varchar(255);not null"`
	Phone             string `gorm:"type:varchar(32)"`
	PreferredLanguage string `gorm:"type:varchar(16);not null;default:'en'"`
}

func (PatientModel) TableName() string {
	return "patients"
}

// AppointmentModel maps the notify and delivery columns of appointments.
type AppointmentModel struct {
	ID                string                 `gorm:"type:varchar(64);primaryKey"`
	PatientID         string                 `gorm:"type:varchar(64);not null;index"`
	ScheduledAt       time.Time              `gorm:"not null"`
	WantNotify        bool                   `gorm:"not null;default:false"`
	SentFlag          bool                   `gorm:"not null;default:false"`
	DeliveryStatus    *domain.DeliveryStatus `gorm:"type:varchar(16)"`
	ProviderMessageID *string                `gorm:"type:varchar(255)"`
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	LastUpdated       time.Time `gorm:"not null"`
}

func (AppointmentModel) TableName() string {
	return "appointments"
}

// ReminderAttemptModel is the persistence model for reminder_attempts.
type ReminderAttemptModel struct {
	ID                string                `gorm:"type:varchar(36);primaryKey"`
	AppointmentID     string                `gorm:"type:varchar(64);not null;index"`
	Outcome           domain.AttemptOutcome `gorm:"type:varchar(16);not null"`
	ProviderMessageID *string               `gorm:"type:varchar(255)"`
	StatusCode        *int
	Error             *string `gorm:"type:text"`
	CreatedAt         time.Time
}

func (ReminderAttemptModel) TableName() string {
	return "reminder_attempts"
}

func actionLogModelFromDomain(e *domain.ActionLogEntry) (*ActionLogEntryModel, error) {
	if e == nil {
		return nil, nil
	}

	raw, err := domain.EncodePayload(e.Payload)
	if err != nil {
		return nil, err
	}

	return &ActionLogEntryModel{
		ActionDate:    domain.ActionDay(e.ActionDate),
		DailySequence: e.DailySequence,
		AppointmentID: e.AppointmentID,
		ActionType:    e.ActionType,
		Payload:       datatypes.JSON(raw),
		CreatedAt:     e.CreatedAt.UTC(),
	}, nil
}

func actionLogModelToDomain(m *ActionLogEntryModel) (*domain.ActionLogEntry, error) {
	if m == nil {
		return nil, nil
	}

	payload, err := domain.DecodePayload(m.ActionType, m.Payload)
	if err != nil {
		return nil, fmt.Errorf("entry %s/%d: %w", m.ActionDate.Format(time.DateOnly), m.DailySequence, err)
	}

	return &domain.ActionLogEntry{
		ActionDate:    domain.ActionDay(m.ActionDate),
		DailySequence: m.DailySequence,
		AppointmentID: m.AppointmentID,
		ActionType:    m.ActionType,
		Payload:       payload,
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

func cursorModelToDomain(m *ReplicationCursorModel) domain.ReplicationCursor {
	c := domain.ReplicationCursor{
		MirrorName: m.MirrorName,
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
	if m.LastReplicatedDate != nil {
		c.Position = domain.ReplicationPosition{
			ActionDate:    domain.ActionDay(*m.LastReplicatedDate),
			DailySequence: m.LastReplicatedSequence,
		}
	}
	return c
}

func appointmentModelToDomain(m *AppointmentModel) *domain.Appointment {
	if m == nil {
		return nil
	}

	return &domain.Appointment{
		ID:                m.ID,
		PatientID:         m.PatientID,
		ScheduledAt:       m.ScheduledAt.UTC(),
		WantNotify:        m.WantNotify,
		SentFlag:          m.SentFlag,
		DeliveryStatus:    m.DeliveryStatus,
		ProviderMessageID: m.ProviderMessageID,
		SentAt:            utcPtr(m.SentAt),
		DeliveredAt:       utcPtr(m.DeliveredAt),
		ReadAt:            utcPtr(m.ReadAt),
		LastUpdated:       m.LastUpdated.UTC(),
	}
}

func attemptModelFromDomain(a *domain.ReminderAttempt) *ReminderAttemptModel {
	if a == nil {
		return nil
	}

	return &ReminderAttemptModel{
		ID:                a.ID,
		AppointmentID:     a.AppointmentID,
		Outcome:           a.Outcome,
		ProviderMessageID: a.ProviderMessageID,
		StatusCode:        a.StatusCode,
		Error:             a.Error,
		CreatedAt:         a.CreatedAt,
	}
}

func attemptModelToDomain(m *ReminderAttemptModel) *domain.ReminderAttempt {
	if m == nil {
		return nil
	}

	return &domain.ReminderAttempt{
		ID:                m.ID,
		AppointmentID:     m.AppointmentID,
		Outcome:           m.Outcome,
		ProviderMessageID: m.ProviderMessageID,
		StatusCode:        m.StatusCode,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
