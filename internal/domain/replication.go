package domain

import (
	"fmt"
	"time"
)

// ReplicationPosition orders log entries by (ActionDate, DailySequence).
// A position with DailySequence 0 sits before every entry of its day.
type ReplicationPosition struct {
	ActionDate    time.Time
	DailySequence int64
}

func (p ReplicationPosition) IsZero() bool {
	return p.ActionDate.IsZero() && p.DailySequence == 0
}

func (p ReplicationPosition) Compare(other ReplicationPosition) int {
	a, b := ActionDay(p.ActionDate), ActionDay(other.ActionDate)
	if p.ActionDate.IsZero() {
		a = time.Time{}
	}
	if other.ActionDate.IsZero() {
		b = time.Time{}
	}
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	case p.DailySequence < other.DailySequence:
		return -1
	case p.DailySequence > other.DailySequence:
		return 1
	}
	return 0
}

func (p ReplicationPosition) Before(other ReplicationPosition) bool { return p.Compare(other) < 0 }

func (p ReplicationPosition) After(other ReplicationPosition) bool { return p.Compare(other) > 0 }

func (p ReplicationPosition) String() string {
	if p.IsZero() {
		return "origin"
	}
	return fmt.Sprintf("%s/%d", p.ActionDate.UTC().Format(time.DateOnly), p.DailySequence)
}

// ReplicationCursor is the high-water mark of entries confirmed by one mirror.
type ReplicationCursor struct {
	MirrorName string
	Position   ReplicationPosition
	UpdatedAt  time.Time
}
