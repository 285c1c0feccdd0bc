package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
)

// KeyAttribute is the Pub/Sub attribute carrying the message key, since Pub/Sub
// messages have no key of their own.
const KeyAttribute = "key"

// PubsubTransportConfig holds configuration for the Google Pub/Sub transport.
type PubsubTransportConfig struct {
	ProjectID string
	// TopicID is checked for existence at construction.
	TopicID         string
	PublishSettings pubsub.PublishSettings
	// ExistsRetries bounds the startup topic check.
	ExistsRetries int
}

// DefaultPubsubPublishSettings keeps bundles small; the publisher usually
// flushes after every message anyway.
func DefaultPubsubPublishSettings() pubsub.PublishSettings {
	return pubsub.PublishSettings{
		DelayThreshold: 10 * time.Millisecond,
		CountThreshold: 100,
		ByteThreshold:  1e6,
		NumGoroutines:  10,
		Timeout:        60 * time.Second,
	}
}

// PubsubTransport publishes to Google Cloud Pub/Sub. Confirmation comes from
// each message's PublishResult.
type PubsubTransport struct {
	client   *pubsub.Client
	settings pubsub.PublishSettings
	mu       sync.Mutex
	topics   map[string]*pubsub.Topic
	inflight *inflight
	closed   atomic.Bool
	logger   zerolog.Logger
}

// NewPubsubTransport creates a transport on an existing client, which it does
// not close. The configured topic must exist; the check is retried with
// exponential backoff and a failure is reported as ErrConnection.
func NewPubsubTransport(ctx context.Context, client *pubsub.Client, cfg PubsubTransportConfig, logger zerolog.Logger) (*PubsubTransport, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for transport")
	}
	if cfg.TopicID == "" {
		return nil, errors.New("pubsub transport requires a topic id")
	}
	if cfg.ExistsRetries <= 0 {
		cfg.ExistsRetries = 3
	}
	logger = logger.With().Str("component", "PubsubTransport").Str("topic_id", cfg.TopicID).Logger()

	topic := client.Topic(cfg.TopicID)
	retryDelay := 100 * time.Millisecond
	var exists bool
	var existsErr error
	for i := 0; i < cfg.ExistsRetries; i++ {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		exists, existsErr = topic.Exists(checkCtx)
		cancel()
		if existsErr == nil && exists {
			break
		}
		logger.Warn().Err(existsErr).Int("attempt", i+1).Msg("Topic not confirmed to exist, retrying...")
		time.Sleep(retryDelay)
		retryDelay *= 2
	}
	if existsErr != nil {
		return nil, fmt.Errorf("%w: failed to check existence of topic %s after %d retries: %w", ErrConnection, cfg.TopicID, cfg.ExistsRetries, existsErr)
	}
	if !exists {
		return nil, fmt.Errorf("%w: pubsub topic %s does not exist after %d retries", ErrConnection, cfg.TopicID, cfg.ExistsRetries)
	}

	settings := cfg.PublishSettings
	if settings.DelayThreshold == 0 && settings.CountThreshold == 0 {
		settings = DefaultPubsubPublishSettings()
	}
	topic.PublishSettings = settings

	logger.Info().Msg("PubsubTransport initialized successfully.")
	return &PubsubTransport{
		client:   client,
		settings: settings,
		topics:   map[string]*pubsub.Topic{cfg.TopicID: topic},
		inflight: newInflight(),
		logger:   logger,
	}, nil
}

func (t *PubsubTransport) topic(id string) *pubsub.Topic {
	t.mu.Lock()
	defer t.mu.Unlock()
	topic, ok := t.topics[id]
	if !ok {
		topic = t.client.Topic(id)
		topic.PublishSettings = t.settings
		t.topics[id] = topic
	}
	return topic
}

// Send implements Transport. The key is carried in the KeyAttribute attribute.
func (t *PubsubTransport) Send(ctx context.Context, msg types.OutboundMessage, onResult types.DeliveryCallback) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if msg.Value == nil {
		return fmt.Errorf("%w: cannot publish a nil payload", ErrSend)
	}
	attributes := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		attributes[k] = v
	}
	attributes[KeyAttribute] = msg.Key

	confirm, _ := t.inflight.track(onResult)
	result := t.topic(msg.Topic).Publish(ctx, &pubsub.Message{
		Data:       msg.Value,
		Attributes: attributes,
	})

	go func() {
		id, err := result.Get(context.Background())
		report := types.DeliveryReport{
			Topic:     msg.Topic,
			Key:       msg.Key,
			Index:     msg.Index,
			Partition: -1,
			Offset:    -1,
			MessageID: id,
			Err:       err,
		}
		confirm(report)
	}()
	return nil
}

// Flush pushes out buffered bundles and waits for their results.
func (t *PubsubTransport) Flush(ctx context.Context) error {
	t.mu.Lock()
	topics := make([]*pubsub.Topic, 0, len(t.topics))
	for _, topic := range t.topics {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	// Topic.Flush takes no context; the inflight wait below honours ctx.
	go func() {
		for _, topic := range topics {
			topic.Flush()
		}
	}()
	return t.inflight.wait(ctx)
}

// Pending implements Transport.
func (t *PubsubTransport) Pending() int {
	return t.inflight.count()
}

// Close stops every topic, which blocks until outstanding messages are published.
// The injected client is not closed.
func (t *PubsubTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, topic := range t.topics {
		topic.Stop()
		t.logger.Info().Str("topic", id).Msg("Pub/Sub topic stopped and flushed.")
	}
	return nil
}
