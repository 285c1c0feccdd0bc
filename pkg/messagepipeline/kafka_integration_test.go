//go:build integration

package messagepipeline_test

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/helpers/emulators"
	"github.com/illmade-knight/go-rowpublisher/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaTransport_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	conn := emulators.SetupKafkaBroker(t, ctx, emulators.GetDefaultKafkaConfig())
	const topic = "yellow-taxi"

	transport, err := messagepipeline.NewKafkaTransport(messagepipeline.DefaultKafkaTransportConfig(conn.Endpoint), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })
	require.NoError(t, transport.Ping(ctx))
	require.NoError(t, transport.EnsureTopic(ctx, topic, 1, 1))
	// A second call finds the topic already there.
	require.NoError(t, transport.EnsureTopic(ctx, topic, 1, 1))

	publisher, err := messagepipeline.NewRecordPublisher(transport, messagepipeline.DefaultPublisherConfig(topic), logger)
	require.NoError(t, err)

	records := makeRecords("first", 2, 3.5, "last")
	summary, err := publisher.PublishAll(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, len(records), summary.Delivered)
	assert.Zero(t, summary.Failed())
	assert.Zero(t, transport.Pending())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{conn.Endpoint},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	t.Cleanup(func() { _ = reader.Close() })

	for i := range records {
		msg, err := reader.ReadMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(i), string(msg.Key), "messages arrive in source order keyed by index")

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Contains(t, decoded, "a")
	}
}

func TestKafkaTransport_DeadLettersThroughTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	conn := emulators.SetupKafkaBroker(t, ctx, emulators.GetDefaultKafkaConfig())
	const topic, dlqTopic = "trips", "trips-dlq"

	transport, err := messagepipeline.NewKafkaTransport(messagepipeline.DefaultKafkaTransportConfig(conn.Endpoint), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = transport.Close() })
	require.NoError(t, transport.EnsureTopic(ctx, topic, 1, 1))
	require.NoError(t, transport.EnsureTopic(ctx, dlqTopic, 1, 1))

	sink, err := messagepipeline.NewTransportDeadLetterSink(transport, dlqTopic, logger)
	require.NoError(t, err)
	publisher, err := messagepipeline.NewRecordPublisher(transport, messagepipeline.DefaultPublisherConfig(topic), logger,
		messagepipeline.WithSerializer(failOnBad),
		messagepipeline.WithDeadLetterSink(sink),
	)
	require.NoError(t, err)

	summary, err := publisher.PublishAll(ctx, makeRecords("ok", "bad", "ok"))
	require.NoError(t, err)
	sink.Stop()
	assert.Equal(t, 2, summary.Delivered)
	assert.Equal(t, 1, summary.SerializeFailures)

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: []string{conn.Endpoint}, Topic: dlqTopic, Partition: 0, MinBytes: 1, MaxBytes: 10e6})
	t.Cleanup(func() { _ = reader.Close() })

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", string(msg.Key))

	var dl messagepipeline.DeadLetter
	require.NoError(t, json.Unmarshal(msg.Value, &dl))
	assert.Equal(t, 1, dl.Index)
	assert.Equal(t, messagepipeline.StageSerialize, dl.Stage)
}
