package valve

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sprinkler/internal/broker"
	"github.com/awaistahir/smart-sprinkler/internal/broker/brokertest"
)

func TestVirtual(t *testing.T) {
	v := NewVirtual(zerolog.Nop())
	ctx := context.Background()

	if err := v.Open(ctx, 2, 10*time.Minute); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !v.IsOpen(2) || v.IsOpen(1) {
		t.Error("unexpected open state after Open(2)")
	}

	// Closing twice is fine
	for i := 0; i < 2; i++ {
		if err := v.Close(ctx, 2); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}
	if v.IsOpen(2) {
		t.Error("zone 2 still open")
	}
}

func TestMQTTCommands(t *testing.T) {
	client := &brokertest.Client{}
	m := NewMQTT(client, broker.Config{TopicPrefix: "garden"}, zerolog.Nop())
	ctx := context.Background()

	if err := m.Open(ctx, 3, 15*time.Minute); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := m.Close(ctx, 3); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	msgs := client.Messages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}

	tests := []struct {
		msg  brokertest.Message
		want Command
	}{
		{msgs[0], Command{State: "on", Duration: 900}},
		{msgs[1], Command{State: "off"}},
	}
	for _, tt := range tests {
		if tt.msg.Topic != "garden/zone/3/set" {
			t.Errorf("topic = %q", tt.msg.Topic)
		}
		if tt.msg.QoS != 1 {
			t.Errorf("qos = %d, want 1", tt.msg.QoS)
		}
		var got Command
		if err := json.Unmarshal(tt.msg.Payload, &got); err != nil {
			t.Fatalf("payload %s: %v", tt.msg.Payload, err)
		}
		if got != tt.want {
			t.Errorf("command = %+v, want %+v", got, tt.want)
		}
	}
}

func TestMQTTPublishError(t *testing.T) {
	client := &brokertest.Client{Err: errors.New("not connected")}
	m := NewMQTT(client, broker.Config{}, zerolog.Nop())

	if err := m.Close(context.Background(), 1); err == nil {
		t.Error("expected publish error")
	}
	if got := m.SetTopic(1); got != "zone/1/set" {
		t.Errorf("SetTopic() = %q", got)
	}
}
