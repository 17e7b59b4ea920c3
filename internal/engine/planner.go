package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MaxRunDuration is the longest net watering time accepted for one window
	MaxRunDuration = 24 * time.Hour

	// A start that was missed by less than this is moved to the near future
	startGrace = 30 * time.Minute
	graceDelay = 15 * time.Second

	nonAdaptiveDays = 7
)

// Advance brings a zone up to date with the forecast at now: it seeds Dr_date on the
// very first run, applies the daily water balance once per calendar day and
// recomputes the next window
func Advance(ctx context.Context, z *Zone, f *Forecast, now time.Time) {
	today := f.DateOf(now)

	if z.Characteristics.DrDate == "" {
		z.Characteristics.DrDate = today
	}

	if z.Characteristics.DrDate < today {
		UpdateRootZoneDepletion(z, f)
		z.Characteristics.DrDate = today
	}

	NextWindow(ctx, z, f, now)
}

// NextWindow recomputes z.Schedule.Next. Unconfigured zones keep their current window
// and disabled zones have it cleared
func NextWindow(ctx context.Context, z *Zone, f *Forecast, now time.Time) {
	if !z.Configured {
		return
	}
	if !z.Enabled {
		z.Schedule.Next = nil
		return
	}

	if z.Schedule.Adaptive {
		z.Schedule.Next = ScheduleAdaptive(ctx, *z, f, now)
	} else {
		z.Schedule.Next = ScheduleNonAdaptive(*z, f, now)
	}
}

// ScheduleAdaptive scans the forecast from today on and returns the first window in
// which irrigation is both needed and feasible, or nil
func ScheduleAdaptive(ctx context.Context, z Zone, f *Forecast, now time.Time) *Window {
	log := zerolog.Ctx(ctx)

	c := z.Characteristics
	taw := c.TotalAvailable()
	raw := c.ReadilyAvailable()

	dr := math.Max(0, c.Dr-c.I)

	first := f.IndexOf(f.DateOf(now))
	if first < 0 {
		log.Debug().Str("today", f.DateOf(now)).Msg("today is not part of the forecast")
		return nil
	}

	for day := first; day < f.Days(); day++ {
		b := c.Balance(dr, f.Daily.ET0[day], f.Daily.Precipitation[day])

		// Irrigate before the readily available water is used up
		if dr+b.DrDay > raw {
			if w, ok := adaptiveCandidate(ctx, z, f, day, dr, now); ok {
				return w
			}
		}

		dr = clamp(dr+b.DrDay, 0, taw)
	}

	return nil
}

func adaptiveCandidate(ctx context.Context, z Zone, f *Forecast, day int, dr float64, now time.Time) (*Window, bool) {
	log := zerolog.Ctx(ctx)

	// Net irrigation depth never exceeds the current depletion
	liters := dr * z.Irrigation.Area
	if liters <= 0 {
		return nil, false
	}

	capacity := z.Irrigation.Capacity()
	if capacity <= 0 {
		log.Warn().Float64("capacity", capacity).Msg("irrigation capacity is zero, cannot size a run")
		return nil, false
	}

	duration := int(math.Round(liters / capacity * 3600))
	if time.Duration(duration)*time.Second >= MaxRunDuration {
		log.Warn().
			Str("date", f.Daily.Time[day]).
			Int("duration", duration).
			Msg("runtime exceeds 24 hours, skipping day")
		return nil, false
	}

	start := windowStart(z, f.Daily.Sunrise[day], duration)

	// A pre-irrigation check that lands just after the ideal start still runs
	if start.Before(now) && start.After(now.Add(-startGrace)) {
		start = now.Add(graceDelay)
	}

	cycles := z.Irrigation.CycleCount()
	if start.After(now) && float64(duration)/float64(cycles) > float64(z.Schedule.MinimumDuration) {
		return &Window{Start: start, Duration: duration}, true
	}

	return nil, false
}

// ScheduleNonAdaptive returns the first window on a configured weekday within the
// next seven days that can still finish by sunrise plus offset, or nil
func ScheduleNonAdaptive(z Zone, f *Forecast, now time.Time) *Window {
	first := f.IndexOf(f.DateOf(now))
	if first < 0 {
		return nil
	}

	last := min(first+nonAdaptiveDays, f.Days())
	for day := first; day < last; day++ {
		sunrise := f.Daily.Sunrise[day]
		if !z.Schedule.HasWeekday(sunrise.In(f.Location()).Weekday()) {
			continue
		}

		duration := z.Schedule.DefaultDuration
		start := windowStart(z, sunrise, duration)
		if start.After(now) {
			return &Window{Start: start, Duration: duration}
		}
	}

	return nil
}

// windowStart works back from sunrise+offset so the last cycle ends there
func windowStart(z Zone, sunrise time.Time, duration int) time.Time {
	end := sunrise.Add(time.Duration(z.Schedule.SunriseOffset) * time.Second)
	runtime := duration + (z.Irrigation.CycleCount()-1)*z.Irrigation.SoakTime
	return end.Add(-time.Duration(runtime) * time.Second)
}
