// Package mirror defines the replication target port and its wire record.
//
// Every adapter must treat UpsertBatch as a pure state upsert keyed by the
// entry position: receiving the same entry twice leaves the mirror unchanged.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/practice-sync/internal/domain"
)

// Result reports how much of a batch the mirror accepted. When
// FirstRejectedIndex is set, entries from that index on were not stored.
type Result struct {
	AcceptedCount      int
	FirstRejectedIndex *int
}

type Mirror interface {
	UpsertBatch(ctx context.Context, entries []domain.ActionLogEntry) (Result, error)
}

// ConfirmedCount returns how many leading entries of a batch of size n are
// known to be stored. An error without a rejection index confirms nothing.
func ConfirmedCount(n int, res Result, err error) int {
	if res.FirstRejectedIndex != nil {
		return clamp(*res.FirstRejectedIndex, 0, n)
	}
	if err != nil {
		return 0
	}
	return clamp(res.AcceptedCount, 0, n)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Rejected builds a Result for a batch whose entries from index i on failed.
func Rejected(i int) Result {
	return Result{AcceptedCount: i, FirstRejectedIndex: &i}
}

// Record is the wire form of an action log entry shared by every adapter.
type Record struct {
	ActionDate    string          `json:"actionDate"`
	DailySequence int64           `json:"dailySequence"`
	AppointmentID string          `json:"appointmentId"`
	ActionType    string          `json:"actionType"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func NewRecord(e domain.ActionLogEntry) (Record, error) {
	raw, err := domain.EncodePayload(e.Payload)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ActionDate:    e.ActionDate.UTC().Format(time.DateOnly),
		DailySequence: e.DailySequence,
		AppointmentID: e.AppointmentID,
		ActionType:    e.ActionType.String(),
		Payload:       raw,
		CreatedAt:     e.CreatedAt.UTC(),
	}, nil
}

// Key is the record's primary key in the mirror.
func (r Record) Key() string {
	return fmt.Sprintf("%s/%012d", r.ActionDate, r.DailySequence)
}

// PositionKey formats a position the way Record.Key does. Keys sort
// lexically in log order.
func PositionKey(p domain.ReplicationPosition) string {
	return fmt.Sprintf("%s/%012d", p.ActionDate.UTC().Format(time.DateOnly), p.DailySequence)
}

func NewRecords(entries []domain.ActionLogEntry) ([]Record, error) {
	records := make([]Record, 0, len(entries))
	for i, e := range entries {
		rec, err := NewRecord(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.Position(), err)
		}
		records = append(records, rec)
	}
	return records, nil
}
