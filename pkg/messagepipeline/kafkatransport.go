package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaTransportConfig holds configuration for the Kafka transport.
type KafkaTransportConfig struct {
	Brokers []string
	// Linger is how long the writer waits to fill a batch. The writer's own
	// default of one second would stall a per-record flushing loop.
	Linger       time.Duration
	BatchSize    int
	RequiredAcks int // -1 all replicas, 1 leader only, 0 none
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	// AllowAutoTopicCreation lets the broker create a missing topic on first write.
	AllowAutoTopicCreation bool
}

// DefaultKafkaTransportConfig provides sensible defaults.
func DefaultKafkaTransportConfig(brokers ...string) KafkaTransportConfig {
	return KafkaTransportConfig{
		Brokers:      brokers,
		Linger:       5 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: int(kafka.RequireAll),
		WriteTimeout: 10 * time.Second,
		DialTimeout:  10 * time.Second,
	}
}

// kafkaWriter is the subset of *kafka.Writer the transport uses.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaSend travels with a message through the writer and back to Completion.
type kafkaSend struct {
	index   int
	confirm types.DeliveryCallback
}

// KafkaTransport publishes through an asynchronous kafka-go Writer whose
// Completion hook delivers the per-message confirmations.
type KafkaTransport struct {
	cfg      KafkaTransportConfig
	writer   kafkaWriter
	inflight *inflight
	closed   atomic.Bool
	logger   zerolog.Logger
}

// NewKafkaTransport creates a transport for the configured brokers. It does not
// contact the cluster; call Ping to verify connectivity.
func NewKafkaTransport(cfg KafkaTransportConfig, logger zerolog.Logger) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka transport requires at least one broker")
	}
	defaults := DefaultKafkaTransportConfig()
	if cfg.Linger <= 0 {
		logger.Warn().Dur("linger", cfg.Linger).Dur("default", defaults.Linger).Msg("Kafka linger was zero or negative, applying default value.")
		cfg.Linger = defaults.Linger
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}

	t := &KafkaTransport{
		cfg:      cfg,
		inflight: newInflight(),
		logger:   logger.With().Str("component", "KafkaTransport").Strs("brokers", cfg.Brokers).Logger(),
	}
	t.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.Linger,
		BatchSize:              cfg.BatchSize,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		Async:                  true,
		Completion:             t.complete,
	}
	t.logger.Info().Dur("linger", cfg.Linger).Int("batch_size", cfg.BatchSize).Msg("KafkaTransport initialized.")
	return t, nil
}

// newKafkaTransportWithWriter lets tests replace the kafka-go writer.
func newKafkaTransportWithWriter(w kafkaWriter, logger zerolog.Logger) *KafkaTransport {
	return &KafkaTransport{
		writer:   w,
		inflight: newInflight(),
		logger:   logger,
	}
}

// Ping dials the bootstrap brokers and succeeds as soon as one answers.
func (t *KafkaTransport) Ping(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: t.cfg.DialTimeout}
	var lastErr error
	for _, broker := range t.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			t.logger.Warn().Err(err).Str("broker", broker).Msg("Kafka broker unreachable.")
			lastErr = err
			continue
		}
		_ = conn.Close()
		t.logger.Info().Str("broker", broker).Msg("Connected to Kafka broker.")
		return nil
	}
	return fmt.Errorf("%w: no kafka broker reachable: %w", ErrConnection, lastErr)
}

// EnsureTopic creates the topic through the cluster controller if it does not exist.
func (t *KafkaTransport) EnsureTopic(ctx context.Context, topic string, partitions, replicationFactor int) error {
	dialer := &kafka.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to look up kafka controller: %w", err)
	}
	ctrl, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("%w: controller: %w", ErrConnection, err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	t.logger.Info().Str("topic", topic).Int("partitions", partitions).Msg("Kafka topic ready.")
	return nil
}

// Send implements Transport. Headers are taken from msg.Attributes.
func (t *KafkaTransport) Send(ctx context.Context, msg types.OutboundMessage, onResult types.DeliveryCallback) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	confirm, release := t.inflight.track(onResult)

	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	err := t.writer.WriteMessages(ctx, kafka.Message{
		Topic:      msg.Topic,
		Key:        []byte(msg.Key),
		Value:      msg.Value,
		Headers:    headers,
		WriterData: &kafkaSend{index: msg.Index, confirm: confirm},
	})
	if err != nil {
		release()
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

// complete is the writer's Completion hook. It runs on a writer goroutine once
// per produced batch.
func (t *KafkaTransport) complete(messages []kafka.Message, err error) {
	var perMessage kafka.WriteErrors
	if !errors.As(err, &perMessage) || len(perMessage) != len(messages) {
		perMessage = nil
	}
	for i, m := range messages {
		msgErr := err
		if perMessage != nil {
			msgErr = perMessage[i]
		}
		send, ok := m.WriterData.(*kafkaSend)
		if !ok {
			t.logger.Error().Str("message_key", string(m.Key)).Msg("Completed Kafka message carries no delivery state.")
			continue
		}
		report := types.DeliveryReport{
			Topic:     m.Topic,
			Key:       string(m.Key),
			Index:     send.index,
			Partition: m.Partition,
			Offset:    m.Offset,
			Err:       msgErr,
		}
		if msgErr != nil {
			report.Partition = -1
			report.Offset = -1
		}
		send.confirm(report)
	}
}

// Flush implements Transport.
func (t *KafkaTransport) Flush(ctx context.Context) error {
	return t.inflight.wait(ctx)
}

// Pending implements Transport.
func (t *KafkaTransport) Pending() int {
	return t.inflight.count()
}

// Close flushes buffered messages, which fires their completions, and closes the writer.
func (t *KafkaTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.logger.Info().Int("pending", t.Pending()).Msg("Closing Kafka transport.")
	if err := t.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}
