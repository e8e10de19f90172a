// Package pubsub implements the crawl job broker on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
	"github.com/JakeFAU/scholar-ingest/internal/metrics"
)

const defaultReconnectDelay = 5 * time.Second

// Config controls the Pub/Sub broker.
type Config struct {
	ProjectID          string
	SubscriptionSuffix string
	ReconnectDelay     time.Duration
	// MaxOutstanding caps in-flight handlers per Subscribe call. Callers
	// scale out with more Subscribe calls; the default is 1.
	MaxOutstanding int
	// CreateMissing provisions topics and subscriptions on Connect.
	CreateMissing bool
	ClientOptions []option.ClientOption
}

// Broker publishes QueueMessages to topics named after the queue and consumes
// them from "<queue><suffix>" subscriptions. Each queue maps to one topic.
type Broker struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	client     *pubsub.Client
	publishers map[string]*pubsub.Publisher
	closed     bool
}

// New validates cfg and constructs a disconnected broker.
func New(cfg Config, logger *zap.Logger) (*Broker, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("broker.project_id is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.SubscriptionSuffix == "" {
		cfg.SubscriptionSuffix = "-consumer"
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		cfg:        cfg,
		logger:     logger,
		publishers: make(map[string]*pubsub.Publisher),
	}, nil
}

// Connect dials Pub/Sub and, when configured, provisions the given queues.
func (b *Broker) Connect(ctx context.Context, queues ...string) error {
	client, err := b.connected(ctx)
	if err != nil {
		return err
	}
	if !b.cfg.CreateMissing {
		return nil
	}
	for _, q := range queues {
		if err := b.ensureQueue(ctx, client, q); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) connected(ctx context.Context) (*pubsub.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, crawler.ErrNotConnected
	}
	if b.client != nil {
		return b.client, nil
	}
	client, err := pubsub.NewClient(ctx, b.cfg.ProjectID, b.cfg.ClientOptions...)
	if err != nil {
		return nil, crawler.MarkTransient(errors.Wrap(err, "create pubsub client"))
	}
	b.client = client
	return client, nil
}

func (b *Broker) ensureQueue(ctx context.Context, client *pubsub.Client, queue string) error {
	topic := b.topicName(queue)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topic})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return errors.Wrapf(err, "create topic %s", queue)
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  b.subscriptionName(queue),
		Topic: topic,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return errors.Wrapf(err, "create subscription for %s", queue)
	}
	return nil
}

func (b *Broker) topicName(queue string) string {
	return fmt.Sprintf("projects/%s/topics/%s", b.cfg.ProjectID, queue)
}

func (b *Broker) subscriptionName(queue string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s%s", b.cfg.ProjectID, queue, b.cfg.SubscriptionSuffix)
}

func (b *Broker) publisher(queue string) (*pubsub.Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.client == nil {
		return nil, crawler.ErrNotConnected
	}
	pub, ok := b.publishers[queue]
	if !ok {
		pub = b.client.Publisher(b.topicName(queue))
		b.publishers[queue] = pub
	}
	return pub, nil
}

// Publish sends msg and waits for the server to accept it.
func (b *Broker) Publish(ctx context.Context, queue string, msg crawler.QueueMessage) error {
	pub, err := b.publisher(queue)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal queue message")
	}
	result := pub.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"jobId": msg.JobID},
	})
	if _, err := result.Get(ctx); err != nil {
		return crawler.MarkTransient(errors.Wrapf(err, "publish to %s", queue))
	}
	return nil
}

// Subscribe receives from the queue's subscription until ctx ends. When the
// stream breaks, the client is discarded and a fresh one is dialed after
// ReconnectDelay.
func (b *Broker) Subscribe(ctx context.Context, queue string, handler crawler.MessageHandler) error {
	for {
		client, err := b.connected(ctx)
		if errors.Is(err, crawler.ErrNotConnected) {
			return err
		}
		if err == nil {
			err = b.receive(ctx, client, queue, handler)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("receive stream ended")
		}
		b.logger.Warn("subscription interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("delay", b.cfg.ReconnectDelay),
			zap.Error(err),
		)
		metrics.ObserveBrokerReconnect(queue)
		b.discard(client)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.ReconnectDelay):
		}
	}
}

func (b *Broker) receive(ctx context.Context, client *pubsub.Client, queue string, handler crawler.MessageHandler) error {
	sub := client.Subscriber(b.subscriptionName(queue))
	sub.ReceiveSettings.MaxOutstandingMessages = b.cfg.MaxOutstanding
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		var msg crawler.QueueMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil || msg.JobID == "" {
			b.logger.Error("dropping undecodable message",
				zap.String("queue", queue),
				zap.String("message_id", m.ID),
				zap.Error(err),
			)
			metrics.ObserveQueueMessage(queue, metrics.OutcomeDropped)
			m.Ack()
			return
		}
		if err := handler(ctx, msg); err != nil {
			metrics.ObserveQueueMessage(queue, metrics.OutcomeNack)
			m.Nack()
			return
		}
		metrics.ObserveQueueMessage(queue, metrics.OutcomeAck)
		m.Ack()
	})
}

// discard drops a client that produced a broken stream.
func (b *Broker) discard(client *pubsub.Client) {
	if client == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != client {
		return
	}
	b.stopPublishersLocked()
	if err := client.Close(); err != nil {
		b.logger.Debug("pubsub client close failed", zap.Error(err))
	}
	b.client = nil
}

func (b *Broker) stopPublishersLocked() {
	for name, pub := range b.publishers {
		pub.Stop()
		delete(b.publishers, name)
	}
}

// Close stops publishers and closes the client.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.stopPublishersLocked()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	if err != nil {
		return errors.Wrap(err, "close pubsub client")
	}
	return nil
}
