package zone

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/notify"
)

// Command is a manual override
type Command string

const (
	CommandCancel Command = "CANCEL"
	CommandSkip   Command = "SKIP"
	CommandRun    Command = "RUN"
)

// ParseCommand validates an override command name
func ParseCommand(s string) (Command, error) {
	switch c := Command(s); c {
	case CommandCancel, CommandSkip, CommandRun:
		return c, nil
	}
	return "", ErrUnknownCommand
}

// Override dispatches a manual command
func (z *Zone) Override(ctx context.Context, cmd Command) error {
	switch cmd {
	case CommandCancel:
		return z.Cancel(ctx)
	case CommandSkip:
		return z.Skip(ctx)
	case CommandRun:
		return z.Run(ctx)
	}
	return ErrUnknownCommand
}

func (z *Zone) startCycleLocked(ctx context.Context, duration, cycle, total int) {
	if cycle == 1 || z.runID == "" {
		z.runID = uuid.NewString()
	}

	z.openValveLocked(ctx, time.Duration(duration)*time.Second)
	z.state.IsRunning = true
	z.cycleStart = z.now()

	if cycle == 1 {
		z.log.Info().Str("run_id", z.runID).Msg("starting scheduled run")
		z.notify(ctx, notify.RunStarted, func(e *notify.Event) {
			e.Cycles = total
			e.Next = z.state.Schedule.Next
		})
	}

	z.log.Info().
		Int("cycle", cycle).
		Int("cycles", total).
		Dur("duration", time.Duration(duration)*time.Second).
		Msg("cycle started")
	z.notify(ctx, notify.CycleStarted, func(e *notify.Event) {
		e.Cycle = cycle
		e.Cycles = total
		e.Duration = duration
	})
}

func (z *Zone) stopCycleLocked(ctx context.Context, remaining int) {
	z.closeValveLocked(ctx)
	z.accountCycleLocked(z.now())

	if remaining > 0 {
		z.saveLocked(ctx)
		return
	}

	z.state.IsRunning = false
	z.log.Info().Str("run_id", z.runID).Msg("scheduled run completed")
	z.notify(ctx, notify.RunCompleted, nil)
	z.runID = ""

	z.updateScheduleLocked(ctx)
}

// Cancel aborts the running cycle and drops the rest of the run. The schedule is
// checked again 30 minutes before the same time tomorrow.
func (z *Zone) Cancel(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if !z.state.IsRunning {
		return ErrNotRunning
	}
	ctx = context.WithoutCancel(ctx)

	z.queue.Cancel()
	z.closeValveLocked(ctx)
	z.accountCycleLocked(z.now())

	next := z.nextDayCheckLocked()

	z.state.IsRunning = false
	z.state.Schedule.Next = nil
	z.saveLocked(ctx)

	z.queue.Add(next, "update", z.updateJob)
	z.queue.Run()

	z.log.Info().Time("next_update", next).Msg("current run was cancelled")
	z.notify(ctx, notify.RunCancelled, nil)
	z.runID = ""
	return nil
}

// Skip drops the next run without starting it
func (z *Zone) Skip(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.state.IsRunning {
		return ErrRunning
	}
	if z.state.Schedule.Next == nil {
		return ErrNoWindow
	}
	ctx = context.WithoutCancel(ctx)

	z.queue.Cancel()

	next := z.nextDayCheckLocked()
	skipped := z.state.Schedule.Next
	z.state.Schedule.Next = nil
	z.saveLocked(ctx)

	z.queue.Add(next, "update", z.updateJob)
	z.queue.Run()

	z.log.Info().Time("next_update", next).Msg("skipping scheduled run")
	z.notify(ctx, notify.RunSkipped, func(e *notify.Event) {
		e.RunID = ""
		e.Next = skipped
		e.Duration = skipped.Duration
	})
	return nil
}

// Run starts the computed run immediately instead of at its scheduled time
func (z *Zone) Run(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.state.IsRunning {
		return ErrRunning
	}
	if z.state.Schedule.Next == nil {
		return ErrNoWindow
	}
	ctx = context.WithoutCancel(ctx)

	z.queue.Cancel()
	z.scheduleJobsLocked(z.now())
	z.queue.Run()

	z.log.Info().Msg("overriding schedule")
	z.notify(ctx, notify.RunOverridden, func(e *notify.Event) {
		e.RunID = ""
		e.Duration = z.state.Schedule.Next.Duration
	})
	return nil
}

// nextDayCheckLocked is the planned start plus a day, less the pre-irrigation lead
func (z *Zone) nextDayCheckLocked() time.Time {
	start := z.now()
	if w := z.state.Schedule.Next; w != nil {
		start = w.Start
	}
	return start.Add(24*time.Hour - preCheckLead)
}

// accountCycleLocked credits the water applied by the cycle that just ended
func (z *Zone) accountCycleLocked(now time.Time) {
	if z.cycleStart.IsZero() {
		return
	}
	runtime := now.Sub(z.cycleStart)
	z.cycleStart = time.Time{}

	if depth := engine.AddNetIrrigation(&z.state, runtime); depth > 0 {
		z.log.Debug().
			Dur("runtime", runtime).
			Float64("depth_mm", depth).
			Float64("I", z.state.Characteristics.I).
			Msg("net irrigation recorded")
	}
}

func (z *Zone) openValveLocked(ctx context.Context, d time.Duration) {
	if z.deps.Valve == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, z.deps.HookTimeout)
	defer cancel()

	if err := z.deps.Valve.Open(hctx, z.state.ID, d); err != nil {
		z.log.Error().Err(err).Msg("opening valve failed")
	}
}

func (z *Zone) closeValveLocked(ctx context.Context) {
	if z.deps.Valve == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, z.deps.HookTimeout)
	defer cancel()

	if err := z.deps.Valve.Close(hctx, z.state.ID); err != nil {
		z.log.Error().Err(err).Msg("closing valve failed")
	}
}
