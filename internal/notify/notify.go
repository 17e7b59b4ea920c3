// Package notify reports zone run and schedule events
package notify

import (
	"context"
	"time"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
)

// Kind identifies an event
type Kind string

const (
	RunStarted      Kind = "run_started"
	CycleStarted    Kind = "cycle_started"
	RunCompleted    Kind = "run_completed"
	RunCancelled    Kind = "run_cancelled"
	RunSkipped      Kind = "run_skipped"
	RunOverridden   Kind = "run_overridden"
	ScheduleUpdated Kind = "schedule_updated"
)

// Event describes something that happened to a zone
type Event struct {
	Kind   Kind      `json:"kind"`
	At     time.Time `json:"at"`
	ZoneID int       `json:"zoneId"`
	Zone   string    `json:"zone"`
	RunID  string    `json:"runId,omitempty"`

	Cycle    int `json:"cycle,omitempty"`
	Cycles   int `json:"cycles,omitempty"`
	Duration int `json:"duration,omitempty"` // seconds

	Depletion float64        `json:"depletion"` // Dr (mm)
	Next      *engine.Window `json:"next,omitempty"`
}

// Notifier receives zone events. Notify must not block for long; it is called with
// the zone locked.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Fanout sends every event to each notifier in order
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, e Event) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// Nop discards events
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
