package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes events to a zerolog logger
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "events").Logger()}
}

func (l *Log) Notify(ctx context.Context, e Event) {
	ev := l.log.Info()
	if e.Kind == ScheduleUpdated || e.Kind == CycleStarted {
		ev = l.log.Debug()
	}

	ev = ev.Str("event", string(e.Kind)).
		Int("zone_id", e.ZoneID).
		Str("zone", e.Zone)

	if e.RunID != "" {
		ev = ev.Str("run_id", e.RunID)
	}
	if e.Cycles > 0 {
		ev = ev.Int("cycle", e.Cycle).Int("cycles", e.Cycles)
	}
	if e.Duration > 0 {
		ev = ev.Int("duration", e.Duration)
	}
	if e.Next != nil {
		ev = ev.Time("next_start", e.Next.Start).Int("next_duration", e.Next.Duration)
	}

	ev.Float64("dr", e.Depletion).Msg(message(e.Kind))
}

func message(k Kind) string {
	switch k {
	case RunStarted:
		return "irrigation started"
	case CycleStarted:
		return "cycle started"
	case RunCompleted:
		return "irrigation completed"
	case RunCancelled:
		return "irrigation cancelled"
	case RunSkipped:
		return "irrigation skipped"
	case RunOverridden:
		return "irrigation started manually"
	case ScheduleUpdated:
		return "schedule updated"
	}
	return string(k)
}
