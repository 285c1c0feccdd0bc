package messagepipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
)

// DeadLetterSink receives records that could not be published. It is an
// optional extension of the publisher; without one, failures are only logged.
type DeadLetterSink interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	Stop()
}

// DeadLetter is the JSON envelope written to a dead-letter sink.
type DeadLetter struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
	Topic string `json:"topic"`
	Stage Stage  `json:"stage"`
	Error string `json:"error"`
	// Record holds the serialized record when serialization succeeded.
	Record json.RawMessage `json:"record,omitempty"`
	// Raw is a best-effort rendering of a record that could not be serialized.
	Raw string `json:"raw,omitempty"`
}

func (d DeadLetter) attributes() map[string]string {
	return map[string]string{
		"record_index": strconv.Itoa(d.Index),
		"record_key":   d.Key,
		"stage":        string(d.Stage),
	}
}

// GooglePubsubDeadLetterSink publishes dead letters directly to a Pub/Sub topic.
type GooglePubsubDeadLetterSink struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGooglePubsubDeadLetterSink creates a simple, non-batching dead-letter publisher.
func NewGooglePubsubDeadLetterSink(client *pubsub.Client, topicID string, logger zerolog.Logger) (*GooglePubsubDeadLetterSink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	return &GooglePubsubDeadLetterSink{
		topic:  client.Topic(topicID),
		logger: logger.With().Str("component", "GooglePubsubDeadLetterSink").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish sends a single message to Pub/Sub and does not wait for the result.
func (p *GooglePubsubDeadLetterSink) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	go func() {
		msgID, err := result.Get(context.Background())
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish dead-letter message")
			return
		}
		p.logger.Info().Str("dlt_msg_id", msgID).Msg("Message successfully sent to dead-letter topic.")
	}()
	return nil
}

// Stop flushes any pending messages for the topic.
func (p *GooglePubsubDeadLetterSink) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}

// TransportDeadLetterSink writes dead letters to another topic of a Transport,
// for example a Kafka dead-letter topic next to the main one.
type TransportDeadLetterSink struct {
	transport Transport
	topic     string
	logger    zerolog.Logger
}

// NewTransportDeadLetterSink creates a sink publishing to topic through transport.
// The transport is not closed by Stop.
func NewTransportDeadLetterSink(transport Transport, topic string, logger zerolog.Logger) (*TransportDeadLetterSink, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if topic == "" {
		return nil, fmt.Errorf("dead-letter topic cannot be empty")
	}
	return &TransportDeadLetterSink{
		transport: transport,
		topic:     topic,
		logger:    logger.With().Str("component", "TransportDeadLetterSink").Str("topic", topic).Logger(),
	}, nil
}

// Publish implements DeadLetterSink.
func (s *TransportDeadLetterSink) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	msg := types.OutboundMessage{
		Topic:      s.topic,
		Key:        attributes["record_key"],
		Value:      payload,
		Attributes: attributes,
		Index:      -1,
	}
	return s.transport.Send(ctx, msg, func(report types.DeliveryReport) {
		if report.Err != nil {
			s.logger.Error().Err(report.Err).Str("record_key", report.Key).Msg("Failed to publish dead-letter message")
			return
		}
		s.logger.Info().Str("record_key", report.Key).Msg("Message successfully sent to dead-letter topic.")
	})
}

// Stop waits for dead letters still in flight.
func (s *TransportDeadLetterSink) Stop() {
	if err := s.transport.Flush(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Dead-letter flush did not complete.")
	}
}
