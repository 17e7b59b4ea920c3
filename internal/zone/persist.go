package zone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/store"
)

// loadLocked merges the persisted document over the configured defaults. A missing
// or unreadable document leaves the defaults in place.
func (z *Zone) loadLocked(ctx context.Context) {
	if z.deps.Store == nil {
		return
	}

	restored, err := Load(ctx, z.deps.Store, z.state)
	if err != nil {
		z.log.Warn().Err(err).Msg("zone settings unreadable, using defaults")
		return
	}
	z.state = restored
}

// Load reads a zone record merged over defaults. Identity, sensor and running state
// always come from defaults. A missing document yields the defaults.
func Load(ctx context.Context, docs Documents, defaults engine.Zone) (engine.Zone, error) {
	doc, err := docs.GetDocument(ctx, store.ZoneKey(defaults.ID))
	if errors.Is(err, store.ErrNotFound) {
		return defaults.Clone(), nil
	}
	if err != nil {
		return defaults.Clone(), fmt.Errorf("reading zone %d: %w", defaults.ID, err)
	}

	z, err := restore(defaults, doc)
	if err != nil {
		return z, fmt.Errorf("decoding zone %d: %w", defaults.ID, err)
	}
	return z, nil
}

func restore(defaults engine.Zone, doc []byte) (engine.Zone, error) {
	z := defaults.Clone()
	if err := json.Unmarshal(doc, &z); err != nil {
		return defaults, err
	}

	z.ID = defaults.ID
	z.Name = defaults.Name
	z.Sensor = defaults.Sensor
	z.IsRunning = false
	z.Characteristics.ClampDepletion()

	return z, nil
}

// saveLocked writes the zone record. Failures are logged; memory stays authoritative.
func (z *Zone) saveLocked(ctx context.Context) {
	if z.deps.Store == nil {
		return
	}

	doc, err := json.MarshalIndent(z.state, "", "    ")
	if err != nil {
		z.log.Error().Err(err).Msg("encoding zone settings")
		return
	}

	if err := z.deps.Store.PutDocument(ctx, store.ZoneKey(z.state.ID), doc); err != nil {
		z.log.Error().Err(err).Msg("saving zone settings")
	}
}

// Patch applies a validated settings patch, saves it and recomputes the schedule
func (z *Zone) Patch(ctx context.Context, p engine.ZonePatch) {
	z.mu.Lock()
	defer z.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	p.Apply(&z.state, z.localNowLocked(ctx))
	z.saveLocked(ctx)
	z.log.Info().Msg("settings updated")

	z.updateScheduleLocked(ctx)
}

// localNowLocked returns the current time at the forecast location, falling back to
// the clock's zone while no forecast is available
func (z *Zone) localNowLocked(ctx context.Context) time.Time {
	now := z.now()
	if z.deps.Forecast == nil {
		return now
	}

	f, err := z.deps.Forecast.Forecast(z.logCtx(ctx))
	if err != nil || f == nil {
		return now
	}
	return now.In(f.Location())
}
