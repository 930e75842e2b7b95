package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/segmentio/kafka-go"
)

const headerAppointmentID = "appointment-id"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror publishes entries to a compacted topic keyed by position, so a
// replayed entry overwrites itself. Partitions are chosen by appointment id
// to keep each appointment's entries in order.
type KafkaMirror struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaMirror(brokers []string, topic string) (*KafkaMirror, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka mirror requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka mirror topic is required")
	}
	return newKafkaMirror(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &appointmentBalancer{},
	}), nil
}

func newKafkaMirror(w messageWriter) *KafkaMirror {
	return &KafkaMirror{writer: w, now: time.Now}
}

func (m *KafkaMirror) UpsertBatch(ctx context.Context, entries []domain.ActionLogEntry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, nil
	}

	records, err := NewRecords(entries)
	if err != nil {
		return Result{}, err
	}

	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return Result{}, fmt.Errorf("failed to encode record %s: %w", rec.Key(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Key()),
			Value: value,
			Time:  m.now().UTC(),
			Headers: []kafka.Header{
				{Key: headerAppointmentID, Value: []byte(rec.AppointmentID)},
				{Key: "action-type", Value: []byte(rec.ActionType)},
			},
		})
	}

	err = m.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return Result{AcceptedCount: len(msgs)}, nil
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for i, werr := range writeErrs {
			if werr != nil {
				return Rejected(i), fmt.Errorf("%w: record %d: %v", domain.ErrMirrorRejected, i, werr)
			}
		}
		return Result{AcceptedCount: len(msgs)}, nil
	}
	return Result{}, fmt.Errorf("kafka write failed: %w", err)
}

func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}

// appointmentBalancer hashes the appointment id header instead of the key.
type appointmentBalancer struct {
	hash kafka.Hash
}

func (b *appointmentBalancer) Balance(msg kafka.Message, partitions ...int) int {
	for _, h := range msg.Headers {
		if h.Key == headerAppointmentID {
			msg.Key = h.Value
			break
		}
	}
	return b.hash.Balance(msg, partitions...)
}
