package domain

import "time"

// ReminderCandidate is an appointment joined with the patient contact data
// needed to decide eligibility.
type ReminderCandidate struct {
	AppointmentID string
	PatientName   string
	Phone         string
	Language      string
	ScheduledAt   time.Time
}

// ReminderMessage is one eligible, rendered reminder ready for dispatch.
type ReminderMessage struct {
	AppointmentID   string
	Phone           string
	RenderedMessage string
	Language        string
	ScheduledAt     time.Time
}

// AttemptOutcome separates "attempted and failed" from "not attempted".
type AttemptOutcome string

const (
	AttemptSent         AttemptOutcome = "SENT"
	AttemptFailed       AttemptOutcome = "FAILED"
	AttemptNotAttempted AttemptOutcome = "NOT_ATTEMPTED"
)

func (o AttemptOutcome) String() string { return string(o) }

// ReminderAttempt audits one dispatch decision.
type ReminderAttempt struct {
	ID                string
	AppointmentID     string
	Outcome           AttemptOutcome
	ProviderMessageID *string
	StatusCode        *int
	Error             *string
	CreatedAt         time.Time
}

// ReminderStats summarizes reminder delivery for a date range.
type ReminderStats struct {
	From            time.Time
	To              time.Time
	Total           int64
	Sent            int64
	Delivered       int64
	Read            int64
	ReadRatePercent float64
}

// ComputeReadRate sets ReadRatePercent as read/sent, or 0 when nothing was sent.
func (s *ReminderStats) ComputeReadRate() {
	if s.Sent == 0 {
		s.ReadRatePercent = 0
		return
	}
	s.ReadRatePercent = float64(s.Read) / float64(s.Sent) * 100
}
