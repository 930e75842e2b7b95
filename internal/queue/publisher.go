package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/mirror"
	amqp "github.com/rabbitmq/amqp091-go"
)

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type confirmPublisher interface {
	publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

type channelOpener func(ctx context.Context) (confirmPublisher, error)

// amqpConfirmPublisher adapts a confirm-mode channel.
type amqpConfirmPublisher struct {
	ch *amqp.Channel
}

func (p *amqpConfirmPublisher) publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error) {
	return p.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
}

func (p *amqpConfirmPublisher) Close() error {
	return p.ch.Close()
}

var _ mirror.Mirror = (*RabbitMQMirror)(nil)

// RabbitMQMirror publishes each record of a batch as a persistent message and
// counts a record as accepted once the broker confirms it. Consumers dedupe by
// MessageId, which is the record's position key.
type RabbitMQMirror struct {
	client *RabbitMQ
	open   channelOpener
	queue  string
	now    func() time.Time
}

func NewRabbitMQMirror(client *RabbitMQ) *RabbitMQMirror {
	m := &RabbitMQMirror{client: client, queue: ReplicationQueue, now: time.Now}
	m.open = func(ctx context.Context) (confirmPublisher, error) {
		ch, err := client.confirmChannel(ctx)
		if err != nil {
			return nil, err
		}
		return &amqpConfirmPublisher{ch: ch}, nil
	}
	return m
}

func (m *RabbitMQMirror) UpsertBatch(ctx context.Context, entries []domain.ActionLogEntry) (mirror.Result, error) {
	if m == nil || m.open == nil {
		return mirror.Result{}, fmt.Errorf("rabbitmq mirror is not initialized")
	}
	if len(entries) == 0 {
		return mirror.Result{}, nil
	}

	records, err := mirror.NewRecords(entries)
	if err != nil {
		return mirror.Result{}, err
	}

	pub, err := m.open(ctx)
	if err != nil {
		return mirror.Result{}, err
	}
	defer pub.Close() //nolint:errcheck // best-effort channel close

	confirms := make([]confirmation, 0, len(records))
	var publishErr error
	for _, rec := range records {
		body, err := json.Marshal(rec)
		if err != nil {
			publishErr = fmt.Errorf("failed to encode record %s: %w", rec.Key(), err)
			break
		}
		c, err := pub.publish(ctx, m.queue, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    m.now().UTC(),
			MessageId:    rec.Key(),
			Type:         rec.ActionType,
			Headers:      amqp.Table{"appointment-id": rec.AppointmentID},
			Body:         body,
		})
		if err != nil {
			publishErr = fmt.Errorf("failed to publish record %s: %w", rec.Key(), err)
			break
		}
		confirms = append(confirms, c)
	}

	for i, c := range confirms {
		ack, err := c.WaitContext(ctx)
		if err != nil {
			return mirror.Rejected(i), fmt.Errorf("waiting for confirm of record %s: %w", records[i].Key(), err)
		}
		if !ack {
			return mirror.Rejected(i), fmt.Errorf("%w: broker nacked record %s", domain.ErrMirrorRejected, records[i].Key())
		}
	}

	if publishErr != nil {
		return mirror.Rejected(len(confirms)), publishErr
	}
	return mirror.Result{AcceptedCount: len(records)}, nil
}
