package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
)

// MQTTTransportConfig holds configuration for the MQTT transport.
type MQTTTransportConfig struct {
	BrokerURL      string
	QoS            byte
	ClientIDPrefix string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// MQTTTransport publishes to an MQTT broker. MQTT has no message key: a "+"
// in the topic is replaced by the key, otherwise the key is not transmitted.
type MQTTTransport struct {
	client   mqtt.Client
	cfg      MQTTTransportConfig
	inflight *inflight
	closed   atomic.Bool
	logger   zerolog.Logger
}

// NewMQTTTransport connects to the broker. A connection failure is reported as
// ErrConnection.
func NewMQTTTransport(cfg MQTTTransportConfig, logger zerolog.Logger) (*MQTTTransport, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt transport requires a broker url")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "rowpublisher"
	}
	logger = logger.With().Str("component", "MQTTTransport").Str("broker", cfg.BrokerURL).Logger()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID(cfg.ClientIDPrefix)).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Error().Err(err).Msg("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timed out connecting to %s", ErrConnection, cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	logger.Info().Msg("Successfully connected to MQTT broker")
	return NewMQTTTransportWithClient(client, cfg, logger), nil
}

// NewMQTTTransportWithClient wraps an already connected client.
func NewMQTTTransportWithClient(client mqtt.Client, cfg MQTTTransportConfig, logger zerolog.Logger) *MQTTTransport {
	return &MQTTTransport{
		client:   client,
		cfg:      cfg,
		inflight: newInflight(),
		logger:   logger,
	}
}

// Send implements Transport.
func (t *MQTTTransport) Send(_ context.Context, msg types.OutboundMessage, onResult types.DeliveryCallback) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if !t.client.IsConnectionOpen() {
		return fmt.Errorf("%w: mqtt connection is not open", ErrSend)
	}
	topic := strings.Replace(msg.Topic, "+", msg.Key, 1)

	confirm, _ := t.inflight.track(onResult)
	token := t.client.Publish(topic, t.cfg.QoS, false, msg.Value)
	go func() {
		report := types.DeliveryReport{
			Topic:     topic,
			Key:       msg.Key,
			Index:     msg.Index,
			Partition: -1,
			Offset:    -1,
		}
		<-token.Done()
		report.Err = token.Error()
		confirm(report)
	}()
	return nil
}

// Flush implements Transport.
func (t *MQTTTransport) Flush(ctx context.Context) error {
	return t.inflight.wait(ctx)
}

// Pending implements Transport.
func (t *MQTTTransport) Pending() int {
	return t.inflight.count()
}

// Close disconnects from the broker, allowing a short quiesce period.
func (t *MQTTTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.client.IsConnected() {
		t.client.Disconnect(250)
		t.logger.Info().Msg("MQTT client disconnected")
	}
	return nil
}

// clientID joins the prefix and a random UUID with a single hyphen.
func clientID(prefix string) string {
	return fmt.Sprintf("%s-%s", strings.TrimRight(prefix, "-"), uuid.New().String())
}
