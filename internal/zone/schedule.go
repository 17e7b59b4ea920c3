package zone

import (
	"context"
	"time"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/notify"
)

// UpdateSchedule recomputes the zone's plan from the current forecast. A running
// cycle is aborted first. Without a forecast nothing changes and another attempt
// is queued five minutes later.
func (z *Zone) UpdateSchedule(ctx context.Context) {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.updateScheduleLocked(context.WithoutCancel(ctx))
}

func (z *Zone) updateJob() {
	z.updateScheduleLocked(z.ctx)
}

func (z *Zone) updateScheduleLocked(ctx context.Context) {
	now := z.now()

	// Cancel current jobs
	z.queue.Cancel()

	if z.state.IsRunning {
		z.log.Warn().Msg("aborting running cycle for schedule update")
		z.closeValveLocked(ctx)
		z.accountCycleLocked(now)
		z.state.IsRunning = false
	}

	forecast, err := z.deps.Forecast.Forecast(ctx)
	if err == nil {
		err = forecast.Validate()
	}
	if err != nil {
		retry := now.Add(forecastRetry)
		z.log.Warn().Err(err).Time("retry_at", retry).Msg("no forecast, retrying later")
		z.queue.Add(retry, "update", z.updateJob)
		z.queue.Run()
		return
	}

	engine.Advance(z.logCtx(ctx), &z.state, forecast, now)

	planned := z.state.Configured && z.state.Enabled && z.state.Schedule.Next != nil
	if planned {
		z.scheduleJobsLocked(z.state.Schedule.Next.Start)
	}

	if next, ok := z.followUp(forecast, now, planned); ok {
		z.queue.Add(next, "update", z.updateJob)
	}

	z.logScheduleLocked()
	z.saveLocked(ctx)
	z.notify(ctx, notify.ScheduleUpdated, func(e *notify.Event) {
		e.RunID = ""
		e.Next = z.state.Schedule.Next
	})

	z.queue.Run()
}

// followUp picks when the schedule is recomputed next. A run later today re-arms the
// update itself when it completes.
func (z *Zone) followUp(f *engine.Forecast, now time.Time, planned bool) (time.Time, bool) {
	sunrise := tomorrowSunrise(f, now)

	if !planned {
		return sunrise, true
	}

	today := f.DateOf(now)
	start := z.state.Schedule.Next.Start
	if f.DateOf(start) > today {
		check := start.Add(-preCheckLead)
		if check.Before(sunrise) {
			return check, true
		}
		return sunrise, true
	}

	return time.Time{}, false
}

// tomorrowSunrise returns the next day's sunrise from the forecast, or a day from now
func tomorrowSunrise(f *engine.Forecast, now time.Time) time.Time {
	i := f.IndexOf(f.DateOf(now)) + 1
	if i <= 0 {
		// Today is missing from the series; index 2 is tomorrow in a fresh forecast
		i = 2
	}
	if i < f.Days() {
		return f.Daily.Sunrise[i]
	}
	return now.Add(24 * time.Hour)
}

// scheduleJobsLocked queues the start and stop jobs of the current window from start
func (z *Zone) scheduleJobsLocked(start time.Time) {
	w := z.state.Schedule.Next
	cycles := engine.SplitCycles(w.Duration, z.state.Irrigation, start)

	if len(cycles) > 0 && cycles[0].Total != z.state.Irrigation.CycleCount() {
		z.log.Debug().
			Int("cycles", cycles[0].Total).
			Msg("cycle duration exceeds the single run limit, temporarily raising cycle count")
	}

	for _, c := range cycles {
		z.queue.Add(c.Start, "start", func() {
			z.startCycleLocked(z.ctx, c.Duration, c.Index, c.Total)
		})
		z.queue.Add(c.Stop, "stop", func() {
			z.stopCycleLocked(z.ctx, c.Remaining)
		})
	}
}

func (z *Zone) logScheduleLocked() {
	if w := z.state.Schedule.Next; w != nil {
		z.log.Debug().
			Time("start", w.Start).
			Dur("duration", time.Duration(w.Duration)*time.Second).
			Float64("dr", z.state.Characteristics.Dr).
			Msg("next scheduled run")
		return
	}
	z.log.Debug().Float64("dr", z.state.Characteristics.Dr).Msg("no scheduled runs, checking again tomorrow")
}
