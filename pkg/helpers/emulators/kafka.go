package emulators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const (
	testKafkaImage     = "confluentinc/confluent-local:7.5.0"
	testKafkaClusterID = "rowpublisher-test"
)

type KafkaConfig struct {
	ImageContainer
	ClusterID string
}

func GetDefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		ImageContainer: ImageContainer{EmulatorImage: testKafkaImage},
		ClusterID:      testKafkaClusterID,
	}
}

// SetupKafkaBroker starts a single KRaft broker. Endpoint holds the first
// advertised broker address.
func SetupKafkaBroker(t *testing.T, ctx context.Context, cfg KafkaConfig) EmulatorConnection {
	t.Helper()
	container, err := tckafka.Run(ctx, cfg.EmulatorImage, tckafka.WithClusterID(cfg.ClusterID))
	require.NoError(t, err)
	cleanupContainer(t, "kafka", container)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	t.Logf("Kafka broker started, listening on: %v", brokers)

	return EmulatorConnection{Endpoint: brokers[0]}
}
