// Package memory provides an in-process broker for local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

// Broker is a bounded in-memory broker with at-least-once delivery: a handler
// error puts the message back on its queue.
type Broker struct {
	capacity int
	logger   *zap.Logger

	mu     sync.Mutex
	queues map[string]chan crawler.QueueMessage
	closed bool
	done   chan struct{}
}

// NewBroker constructs a broker whose queues each hold capacity messages.
func NewBroker(capacity int, logger *zap.Logger) *Broker {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		capacity: capacity,
		logger:   logger,
		queues:   make(map[string]chan crawler.QueueMessage),
		done:     make(chan struct{}),
	}
}

// Connect is a no-op for the in-memory broker.
func (b *Broker) Connect(_ context.Context, _ ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return crawler.ErrNotConnected
	}
	return nil
}

func (b *Broker) queue(name string) (chan crawler.QueueMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, crawler.ErrNotConnected
	}
	ch, ok := b.queues[name]
	if !ok {
		ch = make(chan crawler.QueueMessage, b.capacity)
		b.queues[name] = ch
	}
	return ch, nil
}

// Publish pushes a message onto the queue or returns if the context ends.
func (b *Broker) Publish(ctx context.Context, queue string, msg crawler.QueueMessage) error {
	ch, err := b.queue(queue)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publish canceled")
	case <-b.done:
		return crawler.ErrNotConnected
	case ch <- msg:
		return nil
	}
}

// Subscribe delivers messages to handler until ctx ends or the broker closes.
func (b *Broker) Subscribe(ctx context.Context, queue string, handler crawler.MessageHandler) error {
	ch, err := b.queue(queue)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case msg := <-ch:
			if err := handler(ctx, msg); err != nil {
				b.logger.Debug("requeueing message", zap.String("queue", queue), zap.String("job_id", msg.JobID), zap.Error(err))
				metrics.ObserveQueueMessage(queue, metrics.OutcomeNack)
				b.requeue(ctx, queue, ch, msg)
				continue
			}
			metrics.ObserveQueueMessage(queue, metrics.OutcomeAck)
		}
	}
}

// requeue puts msg back without blocking the subscriber forever on a full queue.
func (b *Broker) requeue(ctx context.Context, queue string, ch chan crawler.QueueMessage, msg crawler.QueueMessage) {
	select {
	case ch <- msg:
	case <-ctx.Done():
	case <-b.done:
	default:
		go func() {
			select {
			case ch <- msg:
			case <-b.done:
				b.logger.Warn("dropping message on close", zap.String("queue", queue), zap.String("job_id", msg.JobID))
			}
		}()
	}
}

// Len reports the number of buffered messages on queue.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Close stops all subscribers. Later calls return ErrNotConnected.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}
