// Package zone runs the irrigation schedule of each zone
package zone

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/jobqueue"
	"github.com/awaistahir/smart-sprinkler/internal/notify"
	"github.com/awaistahir/smart-sprinkler/internal/valve"
)

var (
	ErrUnknownZone    = errors.New("unknown zone")
	ErrNotRunning     = errors.New("zone is not running")
	ErrRunning        = errors.New("zone is running")
	ErrNoWindow       = errors.New("zone has no scheduled run")
	ErrUnknownCommand = errors.New("unknown override command")
)

const (
	// Wait before asking for a forecast again
	forecastRetry = 5 * time.Minute
	// Lead time of the pre-irrigation check before a future run
	preCheckLead = 30 * time.Minute

	defaultHookTimeout = 10 * time.Second
)

// ForecastProvider supplies the daily forecast
type ForecastProvider interface {
	Forecast(ctx context.Context) (*engine.Forecast, error)
}

// Documents persists zone settings
type Documents interface {
	GetDocument(ctx context.Context, key string) ([]byte, error)
	PutDocument(ctx context.Context, key string, doc []byte) error
}

// Deps are the collaborators shared by all zones
type Deps struct {
	Forecast    ForecastProvider
	Store       Documents
	Valve       valve.Valve
	Notifier    notify.Notifier
	Clock       jobqueue.Clock
	Logger      zerolog.Logger
	HookTimeout time.Duration
}

// Zone owns one zone's state and job queue. Every exported method and every job runs
// with mu held, so overrides, settings edits and timer firings never interleave.
type Zone struct {
	mu    sync.Mutex
	state engine.Zone
	queue *jobqueue.Queue
	deps  Deps
	log   zerolog.Logger

	// ctx is the uncancellable context jobs run with
	ctx context.Context

	runID      string
	cycleStart time.Time
}

// New creates an idle zone from its configured defaults
func New(defaults engine.Zone, deps Deps) *Zone {
	if deps.Clock == nil {
		deps.Clock = jobqueue.SystemClock{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.HookTimeout <= 0 {
		deps.HookTimeout = defaultHookTimeout
	}

	z := &Zone{
		state: defaults.Clone(),
		deps:  deps,
		ctx:   context.Background(),
	}
	z.log = deps.Logger.With().
		Str("component", "zone").
		Str("zone", defaults.Name).
		Int("zone_id", defaults.ID).
		Logger()
	z.queue = jobqueue.New(deps.Clock, z.dispatch)

	return z
}

// dispatch runs a fired job under the zone lock
func (z *Zone) dispatch(f func()) {
	z.mu.Lock()
	defer z.mu.Unlock()
	f()
}

// ID returns the zone id
func (z *Zone) ID() int {
	return z.state.ID
}

// Snapshot returns a copy of the zone record
func (z *Zone) Snapshot() engine.Zone {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.state.Clone()
}

// Jobs lists the pending jobs
func (z *Zone) Jobs() []jobqueue.Job {
	return z.queue.Jobs()
}

// NextWake returns when the zone's next job fires
func (z *Zone) NextWake() (time.Time, bool) {
	return z.queue.Next()
}

// Activate restores persisted settings and computes the first schedule. Jobs keep
// ctx's values but not its cancellation; Shutdown ends them.
func (z *Zone) Activate(ctx context.Context) {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.ctx = context.WithoutCancel(ctx)
	z.loadLocked(ctx)
	z.updateScheduleLocked(ctx)
}

// Shutdown drops pending jobs and closes the valve if a cycle is running
func (z *Zone) Shutdown(ctx context.Context) {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.queue.Cancel()
	if z.state.IsRunning {
		z.closeValveLocked(ctx)
		z.state.IsRunning = false
		z.saveLocked(ctx)
	}
}

func (z *Zone) now() time.Time {
	return z.deps.Clock.Now()
}

// logCtx carries the zone logger for the engine
func (z *Zone) logCtx(ctx context.Context) context.Context {
	return z.log.WithContext(ctx)
}

func (z *Zone) notify(ctx context.Context, kind notify.Kind, modify func(*notify.Event)) {
	e := notify.Event{
		Kind:      kind,
		At:        z.now(),
		ZoneID:    z.state.ID,
		Zone:      z.state.Name,
		RunID:     z.runID,
		Depletion: z.state.Characteristics.Dr,
	}
	if modify != nil {
		modify(&e)
	}
	z.deps.Notifier.Notify(ctx, e)
}
