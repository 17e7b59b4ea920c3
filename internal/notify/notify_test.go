package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sprinkler/internal/broker"
	"github.com/awaistahir/smart-sprinkler/internal/broker/brokertest"
	"github.com/awaistahir/smart-sprinkler/internal/engine"
)

type collect struct{ events []Event }

func (c *collect) Notify(_ context.Context, e Event) { c.events = append(c.events, e) }

func TestFanout(t *testing.T) {
	a, b := &collect{}, &collect{}
	f := Fanout{a, nil, b}

	f.Notify(context.Background(), Event{Kind: RunStarted, ZoneID: 1})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fanout delivered %d and %d events, want 1 each", len(a.events), len(b.events))
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(zerolog.New(&buf))

	l.Notify(context.Background(), Event{Kind: RunCancelled, ZoneID: 2, Zone: "Front", RunID: "abc", Depletion: 12.5})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["event"] != "run_cancelled" || line["zone"] != "Front" || line["run_id"] != "abc" {
		t.Errorf("log line = %v", line)
	}
	if line["message"] != "irrigation cancelled" {
		t.Errorf("message = %v", line["message"])
	}
}

func TestMQTT(t *testing.T) {
	client := &brokertest.Client{}
	m := NewMQTT(client, broker.Config{TopicPrefix: "sprinkler"}, zerolog.Nop())
	ctx := context.Background()

	m.Notify(ctx, Event{Kind: RunStarted, ZoneID: 4, Cycle: 1, Cycles: 2})
	m.Notify(ctx, Event{
		Kind:   ScheduleUpdated,
		ZoneID: 4,
		Next:   &engine.Window{Start: time.Date(2024, 6, 11, 3, 0, 0, 0, time.UTC), Duration: 600},
	})

	msgs := client.Messages()
	if len(msgs) != 3 {
		t.Fatalf("published %d messages, want 3", len(msgs))
	}
	if msgs[0].Topic != "sprinkler/zone/4/event" || msgs[0].Retained {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[2].Topic != "sprinkler/zone/4/schedule" || !msgs[2].Retained {
		t.Errorf("schedule message = %+v", msgs[2])
	}
	if !strings.Contains(string(msgs[2].Payload), `"duration":600`) {
		t.Errorf("schedule payload = %s", msgs[2].Payload)
	}
}
