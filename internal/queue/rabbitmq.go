package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterExchange = "practice-sync.dlx"
	dialTimeout        = 15 * time.Second
	minRedialWait      = time.Second
	maxRedialWait      = 30 * time.Second
)

// RabbitMQ owns one AMQP connection, redials it when the broker drops it and
// declares the replication and receipt topology on every channel it opens.
type RabbitMQ struct {
	url string

	dialMu sync.Mutex
	mu     sync.RWMutex
	conn   *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	r := &RabbitMQ{url: url}
	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Healthy reports whether the connection is open.
func (r *RabbitMQ) Healthy() bool {
	return r.live() != nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// live returns the current connection when it is still open.
func (r *RabbitMQ) live() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

// connection returns an open connection, redialing with capped exponential
// backoff until ctx is done. Concurrent callers share one redial.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.live(); conn != nil {
		return conn, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	if conn := r.live(); conn != nil {
		return conn, nil
	}

	for wait := minRedialWait; ; wait = min(wait*2, maxRedialWait) {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			r.conn = conn
			r.mu.Unlock()
			return conn, nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("rabbitmq dial canceled after %v: %w", err, ctx.Err())
		case <-t.C:
		}
	}
}

// channel opens a channel with the topology declared. A failed open is
// retried once on a fresh connection.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	var ch *amqp.Channel
	for attempt := 0; ; attempt++ {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}
		ch, err = conn.Channel()
		if err == nil {
			break
		}
		if attempt > 0 {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
		_ = conn.Close()
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// confirmChannel returns a channel in publisher-confirm mode.
func (r *RabbitMQ) confirmChannel(ctx context.Context) (*amqp.Channel, error) {
	ch, err := r.channel(ctx)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return ch, nil
}

// declareTopology declares each work queue with a dead-letter twin routed
// through a shared direct exchange. Declarations are idempotent.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	for _, name := range QueueNames() {
		dlq := DLQName(name)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, name, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", dlq, err)
		}

		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    deadLetterExchange,
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", name, err)
		}
	}
	return nil
}
