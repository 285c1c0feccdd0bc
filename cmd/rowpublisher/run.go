package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-rowpublisher/pkg/config"
	"github.com/illmade-knight/go-rowpublisher/pkg/ledger"
	"github.com/illmade-knight/go-rowpublisher/pkg/messagepipeline"
	"github.com/illmade-knight/go-rowpublisher/pkg/recordsource"
	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// run performs one publishing run. The transport is connected before the
// dataset is read, so an unreachable broker fails fast. Resources are released
// in reverse order of creation before it returns.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (messagepipeline.RunSummary, error) {
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	transport, pubsubClient, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return messagepipeline.RunSummary{}, err
	}
	cleanups = append(cleanups, func() {
		if err := transport.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing transport")
		}
		if pubsubClient != nil {
			_ = pubsubClient.Close()
		}
	})

	records, err := loadRecords(ctx, cfg, logger)
	if err != nil {
		return messagepipeline.RunSummary{}, err
	}

	var opts []messagepipeline.PublisherOption
	if cfg.DeadLetter.Enabled {
		sink, err := newDeadLetterSink(cfg, transport, pubsubClient, logger)
		if err != nil {
			return messagepipeline.RunSummary{}, err
		}
		cleanups = append(cleanups, sink.Stop)
		opts = append(opts, messagepipeline.WithDeadLetterSink(sink))
	}
	if cfg.Ledger.Enabled {
		writer, stopLedger, err := newLedger(ctx, cfg, logger)
		if err != nil {
			return messagepipeline.RunSummary{}, err
		}
		cleanups = append(cleanups, stopLedger)
		opts = append(opts, messagepipeline.WithDeliveryObserver(writer))
	}

	publisher, err := messagepipeline.NewRecordPublisher(transport, messagepipeline.PublisherConfig{
		Topic:        cfg.TopicName,
		FlushEvery:   cfg.FlushEvery,
		FlushTimeout: cfg.FlushTimeout,
		DrainTimeout: cfg.DrainTimeout,
	}, logger, opts...)
	if err != nil {
		return messagepipeline.RunSummary{}, err
	}
	return publisher.PublishAll(ctx, records)
}

// loadRecords reads and coerces the dataset, from GCS when the path is gs://.
func loadRecords(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]types.Record, error) {
	opener := recordsource.PathOpener{}
	if recordsource.IsGCSPath(cfg.InputPath) {
		var opts []option.ClientOption
		if cfg.Pubsub.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Pubsub.CredentialsFile))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		defer client.Close()
		gcs, err := recordsource.NewGCSOpener(recordsource.NewGCSClientAdapter(client), logger)
		if err != nil {
			return nil, err
		}
		opener.GCS = gcs
	}

	source, err := recordsource.NewParquetSource(opener, recordsource.ParquetSourceConfig{
		Path:             cfg.InputPath,
		TimestampColumns: cfg.TimestampColumns,
		TimestampLayout:  cfg.TimestampLayout,
		MaxRecords:       cfg.MaxRecords,
	}, logger)
	if err != nil {
		return nil, err
	}
	return source.Load(ctx)
}

// newTransport connects the configured transport. The Pub/Sub client is
// returned so the dead-letter sink can share it.
func newTransport(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (messagepipeline.Transport, *pubsub.Client, error) {
	switch cfg.Transport {
	case config.TransportKafka:
		t, err := newKafkaTransport(ctx, cfg, logger)
		return t, nil, err
	case config.TransportMQTT:
		t, err := messagepipeline.NewMQTTTransport(messagepipeline.MQTTTransportConfig{
			BrokerURL:      cfg.BootstrapEndpoint,
			QoS:            cfg.MQTT.QoS,
			ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
		}, logger)
		return t, nil, err
	case config.TransportPubsub:
		var opts []option.ClientOption
		if cfg.Pubsub.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Pubsub.CredentialsFile))
		}
		client, err := pubsub.NewClient(ctx, cfg.Pubsub.ProjectID, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: pubsub.NewClient: %w", messagepipeline.ErrConnection, err)
		}
		t, err := messagepipeline.NewPubsubTransport(ctx, client, messagepipeline.PubsubTransportConfig{
			ProjectID: cfg.Pubsub.ProjectID,
			TopicID:   cfg.TopicName,
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return t, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport '%s'", cfg.Transport)
	}
}

func newKafkaTransport(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*messagepipeline.KafkaTransport, error) {
	kcfg := messagepipeline.DefaultKafkaTransportConfig(config.SplitList(cfg.BootstrapEndpoint)...)
	kcfg.Linger = cfg.Kafka.Linger
	kcfg.BatchSize = cfg.Kafka.BatchSize
	kcfg.RequiredAcks = cfg.Kafka.RequiredAcks
	kcfg.AllowAutoTopicCreation = !cfg.Kafka.EnsureTopic

	t, err := messagepipeline.NewKafkaTransport(kcfg, logger)
	if err != nil {
		return nil, err
	}
	if err := t.Ping(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	if cfg.Kafka.EnsureTopic {
		topics := []string{cfg.TopicName}
		if cfg.DeadLetter.Enabled {
			topics = append(topics, cfg.DeadLetterTopic())
		}
		for _, topic := range topics {
			if err := t.EnsureTopic(ctx, topic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
				_ = t.Close()
				return nil, err
			}
		}
	}
	return t, nil
}

// newDeadLetterSink publishes dead letters to Pub/Sub directly and through the
// run's own transport otherwise.
func newDeadLetterSink(cfg *config.Config, transport messagepipeline.Transport, client *pubsub.Client, logger zerolog.Logger) (messagepipeline.DeadLetterSink, error) {
	if client != nil {
		return messagepipeline.NewGooglePubsubDeadLetterSink(client, cfg.DeadLetterTopic(), logger)
	}
	return messagepipeline.NewTransportDeadLetterSink(transport, cfg.DeadLetterTopic(), logger)
}

// newLedger starts a BigQuery backed delivery ledger. The returned stop func
// flushes the ledger and closes its client.
func newLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*ledger.BatchWriter, func(), error) {
	bqCfg := ledger.BigQueryConfig{
		ProjectID:       cfg.LedgerProjectID(),
		DatasetID:       cfg.Ledger.DatasetID,
		TableID:         cfg.Ledger.TableID,
		CredentialsFile: cfg.Pubsub.CredentialsFile,
	}
	client, err := ledger.NewBigQueryClient(ctx, bqCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	inserter, err := ledger.NewBigQueryInserter(ctx, client, bqCfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	writer, err := ledger.NewBatchWriter(ledger.BatchWriterConfig{
		BatchSize:     cfg.Ledger.BatchSize,
		FlushInterval: cfg.Ledger.FlushInterval,
	}, inserter, "", logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	writer.Start()
	logger.Info().Str("run_id", writer.RunID()).Msg("Delivery ledger enabled.")
	return writer, func() {
		writer.Stop()
		_ = client.Close()
	}, nil
}
