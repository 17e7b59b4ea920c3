package valve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sprinkler/internal/broker"
)

// Command is the payload published to a zone's set topic
type Command struct {
	State    string `json:"state"`              // "on" or "off"
	Duration int    `json:"duration,omitempty"` // seconds, "on" only
}

// MQTT publishes valve commands to <prefix>/zone/<id>/set
type MQTT struct {
	client mqtt.Client
	cfg    broker.Config
	log    zerolog.Logger
}

// NewMQTT creates a valve driver on a connected client
func NewMQTT(client mqtt.Client, cfg broker.Config, log zerolog.Logger) *MQTT {
	return &MQTT{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "valve").Str("driver", "mqtt").Logger(),
	}
}

// SetTopic returns the command topic of a zone
func (m *MQTT) SetTopic(zoneID int) string {
	return m.cfg.Topic(fmt.Sprintf("zone/%d/set", zoneID))
}

func (m *MQTT) Open(ctx context.Context, zoneID int, duration time.Duration) error {
	return m.send(ctx, zoneID, Command{State: "on", Duration: int(duration.Seconds())})
}

func (m *MQTT) Close(ctx context.Context, zoneID int) error {
	return m.send(ctx, zoneID, Command{State: "off"})
}

func (m *MQTT) send(ctx context.Context, zoneID int, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding valve command: %w", err)
	}

	topic := m.SetTopic(zoneID)
	if err := broker.Publish(ctx, m.client, topic, false, payload); err != nil {
		return err
	}

	m.log.Debug().Str("topic", topic).RawJSON("command", payload).Msg("valve command sent")
	return nil
}
