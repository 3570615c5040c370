// Package mqtt publishes sensor readings to an MQTT broker using the paho
// client. The node publishes only; command traffic arrives over the service
// API, not over MQTT subscriptions.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/verdanterra/fieldnode/config"
)

// Publisher wraps a connected paho client behind the scheduler's publish
// interface.
type Publisher struct {
	client      paho.Client
	connectWait time.Duration
	logger      zerolog.Logger
}

// NewPublisher constructs a configured MQTT client and establishes the
// initial connection.
func NewPublisher(cfg config.PublishConfig, logger zerolog.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive.Duration > 0 {
		opts.SetKeepAlive(cfg.KeepAlive.Duration)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	connectWait := cfg.ConnectWait.Duration
	if connectWait <= 0 {
		connectWait = 10 * time.Second
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectWait) {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}

	return &Publisher{
		client:      client,
		connectWait: connectWait,
		logger:      logger.With().Str("component", "mqtt").Logger(),
	}, nil
}

// Publish ships one reading payload. The call blocks until the broker
// acknowledges the message or the connect wait elapses.
func (p *Publisher) Publish(topic string, payload []byte, qos byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(p.connectWait) {
		return fmt.Errorf("mqtt: publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish on %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight messages a short
// grace period.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
