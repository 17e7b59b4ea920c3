package weather

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/store"
)

// DefaultMaxAge is how long a fetched forecast is reused
const DefaultMaxAge = time.Hour

// Fetcher retrieves a fresh forecast
type Fetcher interface {
	Daily(ctx context.Context) (*engine.Forecast, error)
}

// Cache serves forecasts to every zone. A forecast younger than MaxAge is reused and
// the last good one is persisted so a restart does not need the network. Returned
// forecasts are shared and must not be modified.
type Cache struct {
	fetcher Fetcher
	store   store.Store
	log     zerolog.Logger

	MaxAge time.Duration
	Now    func() time.Time

	mu       sync.Mutex
	forecast *engine.Forecast
	loaded   bool
}

// NewCache creates a cache in front of fetcher. st may be nil.
func NewCache(fetcher Fetcher, st store.Store, log zerolog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		store:   st,
		log:     log.With().Str("component", "forecast").Logger(),
		MaxAge:  DefaultMaxAge,
		Now:     time.Now,
	}
}

// Forecast returns a fresh forecast, fetching one if the cached copy is missing or
// stale. A failed fetch drops a stale copy and returns ErrForecastUnavailable.
func (c *Cache) Forecast(ctx context.Context) (*engine.Forecast, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		c.loadLocked(ctx)
		c.loaded = true
	}

	if c.freshLocked() {
		return c.forecast, nil
	}

	return c.fetchLocked(ctx)
}

// Refresh fetches a new forecast even if the cached one is fresh. A fresh copy
// survives a failed refresh.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = true
	_, err := c.fetchLocked(ctx)
	return err
}

// Current returns the cached forecast without fetching, or nil
func (c *Cache) Current() *engine.Forecast {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forecast
}

func (c *Cache) freshLocked() bool {
	return c.forecast != nil && c.Now().Sub(c.forecast.FetchedAt) < c.MaxAge
}

func (c *Cache) fetchLocked(ctx context.Context) (*engine.Forecast, error) {
	f, err := c.fetcher.Daily(ctx)
	if err == nil {
		err = f.Validate()
	}
	if err != nil {
		if !c.freshLocked() {
			c.forecast = nil
		}
		c.log.Error().Err(err).Msg("fetching forecast failed")
		if errors.Is(err, ErrForecastUnavailable) {
			return nil, err
		}
		return nil, errors.Join(ErrForecastUnavailable, err)
	}

	f.FetchedAt = c.Now()
	c.forecast = f
	c.saveLocked(ctx)

	c.log.Debug().
		Str("timezone", f.Timezone).
		Int("days", f.Days()).
		Msg("forecast updated")

	return f, nil
}

// loadLocked restores the persisted forecast. A missing or corrupt document is ignored.
func (c *Cache) loadLocked(ctx context.Context) {
	if c.store == nil {
		return
	}

	doc, err := c.store.GetDocument(ctx, store.ForecastKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn().Err(err).Msg("reading cached forecast")
		}
		return
	}

	var f engine.Forecast
	if err := json.Unmarshal(doc, &f); err != nil {
		c.log.Warn().Err(err).Msg("discarding corrupt cached forecast")
		return
	}
	if err := f.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("discarding invalid cached forecast")
		return
	}

	c.forecast = &f
}

func (c *Cache) saveLocked(ctx context.Context) {
	if c.store == nil {
		return
	}

	doc, err := json.Marshal(c.forecast)
	if err != nil {
		c.log.Warn().Err(err).Msg("encoding forecast")
		return
	}
	if err := c.store.PutDocument(ctx, store.ForecastKey, doc); err != nil {
		c.log.Warn().Err(err).Msg("saving forecast")
	}
}
