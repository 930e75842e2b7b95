package domain

import "time"

// Patient is the collaborator-owned record a reminder is addressed to.
type Patient struct {
	ID                string
	FullName          string
	Phone             string
	PreferredLanguage string
}

// Appointment carries the notify and delivery fields that dispatch and
// reconciliation write to. The CRUD layer owns every other column.
type Appointment struct {
	ID                string
	PatientID         string
	ScheduledAt       time.Time
	WantNotify        bool
	SentFlag          bool
	DeliveryStatus    *DeliveryStatus
	ProviderMessageID *string
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	LastUpdated       time.Time
}
