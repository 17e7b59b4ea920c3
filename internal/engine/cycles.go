package engine

import (
	"math"
	"time"
)

// MaxCycleDuration is the longest single valve run in seconds
const MaxCycleDuration = 3600

// Cycle is one start/stop pair of a split window
type Cycle struct {
	Index     int       // 1-based
	Total     int       // cycles in this run
	Start     time.Time // valve opens
	Stop      time.Time // valve closes
	Duration  int       // seconds
	Remaining int       // cycles left once this one stops
}

// SplitCycles divides a window's duration into cycles beginning at start, separated
// by the soak time. A run that would exceed MaxCycleDuration per cycle is split into
// more cycles; the zone's configured count is left unchanged.
func SplitCycles(duration int, irr Irrigation, start time.Time) []Cycle {
	if duration <= 0 {
		return nil
	}

	cycles := irr.CycleCount()
	perCycle := int(math.Round(float64(duration) / float64(cycles)))
	if perCycle > MaxCycleDuration {
		cycles = int(math.Ceil(float64(duration) / MaxCycleDuration))
		perCycle = int(math.Round(float64(duration) / float64(cycles)))
	}

	soak := time.Duration(irr.SoakTime) * time.Second
	run := time.Duration(perCycle) * time.Second

	out := make([]Cycle, 0, cycles)
	cursor := start
	for i := 1; i <= cycles; i++ {
		c := Cycle{
			Index:     i,
			Total:     cycles,
			Start:     cursor,
			Duration:  perCycle,
			Remaining: cycles - i,
		}
		cursor = cursor.Add(run)
		c.Stop = cursor
		cursor = cursor.Add(soak)
		out = append(out, c)
	}

	return out
}
