package domain

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ActionPayload is the typed snapshot attached to an action log entry.
// Each action type has exactly one payload variant.
type ActionPayload interface {
	ActionType() ActionType
}

type CreatedPayload struct {
	PatientID   string    `json:"patientId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	WantNotify  bool      `json:"wantNotify"`
}

func (CreatedPayload) ActionType() ActionType { return ActionCreated }

type RescheduledPayload struct {
	PreviousScheduledAt time.Time `json:"previousScheduledAt"`
	ScheduledAt         time.Time `json:"scheduledAt"`
}

func (RescheduledPayload) ActionType() ActionType { return ActionRescheduled }

type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (CancelledPayload) ActionType() ActionType { return ActionCancelled }

type CheckedInPayload struct {
	CheckedInAt time.Time `json:"checkedInAt"`
}

func (CheckedInPayload) ActionType() ActionType { return ActionCheckedIn }

type NotifiedPayload struct {
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	SentAt            time.Time `json:"sentAt"`
}

func (NotifiedPayload) ActionType() ActionType { return ActionNotified }

type StatusChangedPayload struct {
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
	WantNotify     *bool          `json:"wantNotify,omitempty"`
	ReportedAt     time.Time      `json:"reportedAt"`
}

func (StatusChangedPayload) ActionType() ActionType { return ActionStatusChanged }

func EncodePayload(p ActionPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrValidation)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.ActionType(), err)
	}
	return raw, nil
}

func DecodePayload(actionType ActionType, raw []byte) (ActionPayload, error) {
	var target ActionPayload
	switch actionType {
	case ActionCreated:
		target = &CreatedPayload{}
	case ActionRescheduled:
		target = &RescheduledPayload{}
	case ActionCancelled:
		target = &CancelledPayload{}
	case ActionCheckedIn:
		target = &CheckedInPayload{}
	case ActionNotified:
		target = &NotifiedPayload{}
	case ActionStatusChanged:
		target = &StatusChangedPayload{}
	default:
		return nil, fmt.Errorf("%w: invalid action type %q", ErrValidation, actionType)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", actionType, err)
		}
	}

	switch p := target.(type) {
	case *CreatedPayload:
		return *p, nil
	case *RescheduledPayload:
		return *p, nil
	case *CancelledPayload:
		return *p, nil
	case *CheckedInPayload:
		return *p, nil
	case *NotifiedPayload:
		return *p, nil
	case *StatusChangedPayload:
		return *p, nil
	}
	return target, nil
}
