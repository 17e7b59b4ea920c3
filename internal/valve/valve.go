// Package valve drives the physical or virtual valve of each zone
package valve

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Valve opens and closes zone valves. Implementations must be idempotent and return
// once the command is delivered.
type Valve interface {
	Open(ctx context.Context, zoneID int, duration time.Duration) error
	Close(ctx context.Context, zoneID int) error
}

// Virtual logs valve commands and tracks which zones are open
type Virtual struct {
	log zerolog.Logger

	mu   sync.Mutex
	open map[int]time.Duration
}

// NewVirtual creates a virtual valve bank
func NewVirtual(log zerolog.Logger) *Virtual {
	return &Virtual{
		log:  log.With().Str("component", "valve").Str("driver", "virtual").Logger(),
		open: make(map[int]time.Duration),
	}
}

func (v *Virtual) Open(ctx context.Context, zoneID int, duration time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.open[zoneID] = duration
	v.log.Info().Int("zone_id", zoneID).Dur("duration", duration).Msg("valve opened")
	return nil
}

func (v *Virtual) Close(ctx context.Context, zoneID int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.open, zoneID)
	v.log.Info().Int("zone_id", zoneID).Msg("valve closed")
	return nil
}

// IsOpen reports whether a zone's valve is open
func (v *Virtual) IsOpen(zoneID int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.open[zoneID]
	return ok
}
