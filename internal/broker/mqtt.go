// Package broker connects to the MQTT broker used by valve drivers and event publishing
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures the MQTT connection
type Config struct {
	Broker      string // tcp://host:1883
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

const (
	connectRetries    = 5
	connectMaxElapsed = 30 * time.Second
	disconnectQuiesce = 250 // ms
)

// Connect dials the broker with exponential backoff. The client is disconnected when
// ctx is done.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (mqtt.Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "smart-sprinkler-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("broker", cfg.Broker).Msg("failed to connect to mqtt broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", cfg.Broker, err)
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(disconnectQuiesce)
		log.Info().Msg("mqtt connection closed")
	}()

	return client, nil
}

// Topic joins the configured prefix and a suffix
func (c Config) Topic(suffix string) string {
	if c.TopicPrefix == "" {
		return suffix
	}
	return c.TopicPrefix + "/" + suffix
}

// PublishTimeout bounds how long a publish may wait for the broker ack
const PublishTimeout = 5 * time.Second

// Publish sends payload with QoS 1 and waits for the acknowledgement or ctx
func Publish(ctx context.Context, client mqtt.Client, topic string, retained bool, payload []byte) error {
	token := client.Publish(topic, 1, retained, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	case <-time.After(PublishTimeout):
		return fmt.Errorf("publishing to %s: timed out", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
