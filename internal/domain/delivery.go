package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is a provider-reported delivery state.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "SENT"
	DeliveryServer DeliveryStatus = "SERVER"
	DeliveryDevice DeliveryStatus = "DEVICE"
	DeliveryRead   DeliveryStatus = "READ"
	DeliveryError  DeliveryStatus = "ERROR"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliverySent, DeliveryServer, DeliveryDevice, DeliveryRead, DeliveryError:
		return true
	}
	return false
}

// ClearsWantNotify reports whether the message progressed far enough that a
// follow-up reminder is no longer useful.
func (s DeliveryStatus) ClearsWantNotify() bool {
	return s == DeliveryRead || s == DeliveryDevice || s == DeliveryServer
}

func (s DeliveryStatus) IsDelivered() bool {
	return s == DeliveryDevice || s == DeliveryServer
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// DeliveryOutcome is one status event reported by the provider.
type DeliveryOutcome struct {
	AppointmentID     string
	ProviderMessageID string
	Status            DeliveryStatus
	ReportedAt        time.Time
}

func (o DeliveryOutcome) Validate() error {
	if strings.TrimSpace(o.ProviderMessageID) == "" {
		return fmt.Errorf("%w: provider message id is required", ErrValidation)
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("%w: invalid delivery status %q", ErrValidation, o.Status)
	}
	if o.ReportedAt.IsZero() {
		return fmt.Errorf("%w: reported at is required", ErrValidation)
	}
	return nil
}

// DeliveryUpdate is the folded effect of every outcome in a batch for one
// provider message id.
type DeliveryUpdate struct {
	ProviderMessageID string
	AppointmentID     string
	Status            DeliveryStatus
	ClearWantNotify   bool
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	LastUpdated       time.Time
}
