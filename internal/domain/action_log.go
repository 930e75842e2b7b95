package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActionType identifies the kind of appointment mutation captured in the action log.
type ActionType string

const (
	ActionCreated       ActionType = "CREATED"
	ActionRescheduled   ActionType = "RESCHEDULED"
	ActionCancelled     ActionType = "CANCELLED"
	ActionCheckedIn     ActionType = "CHECKED_IN"
	ActionNotified      ActionType = "NOTIFIED"
	ActionStatusChanged ActionType = "STATUS_CHANGED"
)

func (t ActionType) String() string { return string(t) }

func (t ActionType) IsValid() bool {
	switch t {
	case ActionCreated, ActionRescheduled, ActionCancelled, ActionCheckedIn, ActionNotified, ActionStatusChanged:
		return true
	}
	return false
}

func ParseActionTypeFromString(s string) (ActionType, error) {
	t := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid action type %q", ErrValidation, s)
	}
	return t, nil
}

// ActionLogEntry is an immutable record of one appointment mutation.
// (ActionDate, DailySequence) is unique across the whole log.
type ActionLogEntry struct {
	ActionDate    time.Time
	DailySequence int64
	AppointmentID string
	ActionType    ActionType
	Payload       ActionPayload
	CreatedAt     time.Time
}

func (e ActionLogEntry) Position() ReplicationPosition {
	return ReplicationPosition{ActionDate: e.ActionDate, DailySequence: e.DailySequence}
}

// ActionRecord is the input for appending a new entry; the sequence is
// assigned by the store.
type ActionRecord struct {
	ActionDate    time.Time
	AppointmentID string
	Payload       ActionPayload
}

func (r ActionRecord) Validate() error {
	if strings.TrimSpace(r.AppointmentID) == "" {
		return fmt.Errorf("%w: appointment id is required", ErrValidation)
	}
	if r.ActionDate.IsZero() {
		return fmt.Errorf("%w: action date is required", ErrValidation)
	}
	if r.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if !r.Payload.ActionType().IsValid() {
		return fmt.Errorf("%w: invalid action type %q", ErrValidation, r.Payload.ActionType())
	}
	return nil
}

// Entry converts the record into an unsequenced log entry partitioned by its UTC day.
func (r ActionRecord) Entry() ActionLogEntry {
	return ActionLogEntry{
		ActionDate:    ActionDay(r.ActionDate),
		AppointmentID: strings.TrimSpace(r.AppointmentID),
		ActionType:    r.Payload.ActionType(),
		Payload:       r.Payload,
	}
}

// ActionDay truncates t to the UTC calendar day that partitions the sequence space.
func ActionDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
