package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/practice-sync/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Consumer = (*ReceiptConsumer)(nil)

// ReceiptConsumer feeds receipt batches from RabbitMQ into a handler. Batches
// that can never apply are dead-lettered; other handler failures requeue.
type ReceiptConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewReceiptConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *ReceiptConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReceiptConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is done, resubscribing with capped backoff
// whenever the channel or connection drops.
func (c *ReceiptConsumer) Consume(ctx context.Context, queue string, handler ReceiptHandler) error {
	switch {
	case c == nil || c.client == nil:
		return errors.New("consumer is not initialized")
	case queue == "":
		return errors.New("queue name is required")
	case handler == nil:
		return errors.New("receipt handler is required")
	}

	wait := minRedialWait
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			wait = minRedialWait
			continue
		}

		c.logger.Warn("receipt consumer disconnected", zap.Error(err), zap.String("queue", queue), zap.Duration("retryIn", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
		wait = min(wait*2, maxRedialWait)
	}
	return nil
}

// subscribe runs one consumer session and returns when its delivery stream
// ends or a delivery cannot be settled.
func (c *ReceiptConsumer) subscribe(ctx context.Context, queue string, handler ReceiptHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "practice-sync-receipts", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for d := range deliveries {
		if err := c.handleDelivery(ctx, d, handler); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("delivery stream closed")
}

func (c *ReceiptConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler ReceiptHandler) error {
	outcomes, err := DecodeReceipts(d.Body)
	if err != nil {
		c.logger.Warn("rejecting receipt batch",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid receipt batch: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, outcomes); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.logger.Warn("dead-lettering receipt batch", zap.Error(err), zap.String("messageId", d.MessageId))
			if rejectErr := d.Reject(false); rejectErr != nil {
				return fmt.Errorf("handler failed and reject failed: %w", rejectErr)
			}
			return nil
		}
		c.logger.Error("receipt batch failed, requeueing", zap.Error(err), zap.Int("outcomes", len(outcomes)))
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}

func (c *ReceiptConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
