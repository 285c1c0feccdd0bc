// Package config assembles the publisher configuration from defaults, an
// optional YAML file and environment variables. Command-line flags are applied
// on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/recordsource"
	"gopkg.in/yaml.v3"
)

const (
	TransportKafka  = "kafka"
	TransportPubsub = "pubsub"
	TransportMQTT   = "mqtt"
)

type KafkaConfig struct {
	Linger       time.Duration `yaml:"linger"`
	BatchSize    int           `yaml:"batch_size"`
	RequiredAcks int           `yaml:"required_acks"`
	EnsureTopic  bool          `yaml:"ensure_topic"`
	Partitions   int           `yaml:"partitions"`
	Replication  int           `yaml:"replication"`
}

type PubsubConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

type MQTTConfig struct {
	QoS            byte   `yaml:"qos"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
}

type DeadLetterConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
}

type LedgerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ProjectID     string        `yaml:"project_id"`
	DatasetID     string        `yaml:"dataset_id"`
	TableID       string        `yaml:"table_id"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Config is the complete configuration of one publishing run.
type Config struct {
	BootstrapEndpoint string        `yaml:"bootstrap_endpoint"`
	TopicName         string        `yaml:"topic_name"`
	InputPath         string        `yaml:"input_path"`
	Transport         string        `yaml:"transport"`
	TimestampColumns  []string      `yaml:"timestamp_columns"`
	TimestampLayout   string        `yaml:"timestamp_layout"`
	FlushEvery        int           `yaml:"flush_every"`
	FlushTimeout      time.Duration `yaml:"flush_timeout"`
	DrainTimeout      time.Duration `yaml:"drain_timeout"`
	MaxRecords        int           `yaml:"max_records"`

	Kafka      KafkaConfig      `yaml:"kafka"`
	Pubsub     PubsubConfig     `yaml:"pubsub"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Ledger     LedgerConfig     `yaml:"ledger"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		BootstrapEndpoint: "localhost:29092",
		TopicName:         "yellow-taxi",
		InputPath:         "yellow_tripdata_2024-01.parquet",
		Transport:         TransportKafka,
		TimestampColumns:  append([]string(nil), recordsource.DefaultTimestampColumns...),
		TimestampLayout:   recordsource.DefaultTimestampLayout,
		FlushEvery:        1,
		FlushTimeout:      30 * time.Second,
		Kafka: KafkaConfig{
			Linger:       5 * time.Millisecond,
			BatchSize:    100,
			RequiredAcks: -1,
			Partitions:   1,
			Replication:  1,
		},
		MQTT: MQTTConfig{
			QoS:            1,
			ClientIDPrefix: "rowpublisher",
		},
		Ledger: LedgerConfig{
			DatasetID:     "rowpublisher",
			TableID:       "deliveries",
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
		},
	}
}

// LoadFromFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. lookup is usually
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", key, v, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", key, v, err)
		}
		*dst = b
		return nil
	}

	str("ROWPUB_BOOTSTRAP_ENDPOINT", &cfg.BootstrapEndpoint)
	str("ROWPUB_TOPIC_NAME", &cfg.TopicName)
	str("ROWPUB_INPUT_PATH", &cfg.InputPath)
	str("ROWPUB_TRANSPORT", &cfg.Transport)
	str("ROWPUB_TIMESTAMP_LAYOUT", &cfg.TimestampLayout)
	if v, ok := lookup("ROWPUB_TIMESTAMP_COLUMNS"); ok && v != "" {
		cfg.TimestampColumns = SplitList(v)
	}
	str("GCP_PROJECT_ID", &cfg.Pubsub.ProjectID)
	str("GCP_PUBSUB_CREDENTIALS_FILE", &cfg.Pubsub.CredentialsFile)
	str("MQTT_USERNAME", &cfg.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Password)
	str("ROWPUB_DEAD_LETTER_TOPIC", &cfg.DeadLetter.Topic)
	str("ROWPUB_LEDGER_DATASET_ID", &cfg.Ledger.DatasetID)
	str("ROWPUB_LEDGER_TABLE_ID", &cfg.Ledger.TableID)

	return errors.Join(
		num("ROWPUB_FLUSH_EVERY", &cfg.FlushEvery),
		num("ROWPUB_MAX_RECORDS", &cfg.MaxRecords),
		flag("ROWPUB_DEAD_LETTER_ENABLED", &cfg.DeadLetter.Enabled),
		flag("ROWPUB_LEDGER_ENABLED", &cfg.Ledger.Enabled),
	)
}

// Load builds a configuration from defaults, the optional file and the process
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TopicName) == "" {
		errs = append(errs, errors.New("topic_name is required"))
	}
	if strings.TrimSpace(c.InputPath) == "" {
		errs = append(errs, errors.New("input_path is required"))
	}
	switch c.Transport {
	case TransportKafka, TransportMQTT:
		if strings.TrimSpace(c.BootstrapEndpoint) == "" {
			errs = append(errs, fmt.Errorf("bootstrap_endpoint is required for the %s transport", c.Transport))
		}
	case TransportPubsub:
		if c.Pubsub.ProjectID == "" {
			errs = append(errs, errors.New("pubsub.project_id is required for the pubsub transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport '%s'", c.Transport))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Ledger.Enabled && c.LedgerProjectID() == "" {
		errs = append(errs, errors.New("ledger.project_id or pubsub.project_id is required when the ledger is enabled"))
	}
	if c.DeadLetter.Enabled && c.DeadLetterTopic() == c.TopicName {
		errs = append(errs, errors.New("dead_letter.topic must differ from topic_name"))
	}
	return errors.Join(errs...)
}

// DeadLetterTopic returns the configured dead-letter topic or "<topic>-dlq".
func (c *Config) DeadLetterTopic() string {
	if c.DeadLetter.Topic != "" {
		return c.DeadLetter.Topic
	}
	return c.TopicName + "-dlq"
}

// LedgerProjectID falls back to the Pub/Sub project.
func (c *Config) LedgerProjectID() string {
	if c.Ledger.ProjectID != "" {
		return c.Ledger.ProjectID
	}
	return c.Pubsub.ProjectID
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
