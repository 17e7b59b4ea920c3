package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRefreshSchedule pre-warms the cache once an hour
const DefaultRefreshSchedule = "@hourly"

// Refresher keeps the cache warm on a cron schedule so zone updates rarely wait on
// the network
type Refresher struct {
	cache   *Cache
	c       *cron.Cron
	timeout time.Duration
	log     zerolog.Logger
}

// NewRefresher parses schedule (standard five-field or descriptor) in loc
func NewRefresher(cache *Cache, schedule string, loc *time.Location, log zerolog.Logger) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if loc == nil {
		loc = time.Local
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	r := &Refresher{
		cache:   cache,
		c:       cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		timeout: time.Minute,
		log:     log.With().Str("component", "forecast-refresher").Logger(),
	}

	if _, err := r.c.AddFunc(schedule, r.refresh); err != nil {
		return nil, fmt.Errorf("parsing refresh schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background
func (r *Refresher) Start() {
	r.c.Start()
	r.log.Info().Msg("forecast refresher started")
}

// Stop halts the schedule and waits for a running refresh to finish
func (r *Refresher) Stop() {
	<-r.c.Stop().Done()
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.cache.Refresh(ctx); err != nil {
		r.log.Warn().Err(err).Msg("scheduled forecast refresh failed")
	}
}
