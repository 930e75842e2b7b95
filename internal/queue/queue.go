package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/practice-sync/internal/domain"
)

const (
	// ReplicationQueue carries mirrored action log records.
	ReplicationQueue = "replication.actions"
	// ReceiptsQueue carries delivery receipt batches from the SMS provider.
	ReceiptsQueue = "delivery.receipts"
)

// ReceiptHandler applies one decoded receipt batch.
type ReceiptHandler func(ctx context.Context, outcomes []domain.DeliveryOutcome) error

// Consumer consumes receipt batches from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler ReceiptHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name for a queue, e.g. dlq.delivery.receipts.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// QueueNames returns every work queue declared by the topology.
func QueueNames() []string {
	return []string{ReplicationQueue, ReceiptsQueue}
}
