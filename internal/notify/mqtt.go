package notify

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sprinkler/internal/broker"
)

// MQTT publishes events to <prefix>/zone/<id>/event. Schedule updates are also
// retained on <prefix>/zone/<id>/schedule so late subscribers see the next window.
type MQTT struct {
	client mqtt.Client
	cfg    broker.Config
	log    zerolog.Logger
}

func NewMQTT(client mqtt.Client, cfg broker.Config, log zerolog.Logger) *MQTT {
	return &MQTT{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "events").Str("sink", "mqtt").Logger(),
	}
}

func (m *MQTT) Notify(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		m.log.Error().Err(err).Msg("encoding event")
		return
	}

	if err := broker.Publish(ctx, m.client, m.cfg.Topic(fmt.Sprintf("zone/%d/event", e.ZoneID)), false, payload); err != nil {
		m.log.Warn().Err(err).Str("event", string(e.Kind)).Msg("event not published")
	}

	if e.Kind == ScheduleUpdated {
		if err := broker.Publish(ctx, m.client, m.cfg.Topic(fmt.Sprintf("zone/%d/schedule", e.ZoneID)), true, payload); err != nil {
			m.log.Warn().Err(err).Msg("schedule not published")
		}
	}
}
