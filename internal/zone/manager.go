package zone

import (
	"context"
	"fmt"
	"sync"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
)

// Config is one configured zone
type Config struct {
	Name         string
	ExposeSensor bool
}

// Manager owns every zone of the installation
type Manager struct {
	zones []*Zone
	byID  map[int]*Zone
}

// DefaultZones returns the factory records of the configured zones. Ids follow
// configuration order starting at 1.
func DefaultZones(cfg []Config) []engine.Zone {
	out := make([]engine.Zone, 0, len(cfg))
	for i, c := range cfg {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("Zone %d", i+1)
		}
		out = append(out, engine.DefaultZone(i+1, name, c.ExposeSensor))
	}
	return out
}

// NewManager builds the configured zones
func NewManager(cfg []Config, deps Deps) *Manager {
	m := &Manager{byID: make(map[int]*Zone, len(cfg))}

	for _, defaults := range DefaultZones(cfg) {
		z := New(defaults, deps)
		m.zones = append(m.zones, z)
		m.byID[z.ID()] = z
	}

	return m
}

// Start restores every zone and computes its first schedule. Zones are independent
// and start concurrently.
func (m *Manager) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, z := range m.zones {
		wg.Add(1)
		go func() {
			defer wg.Done()
			z.Activate(ctx)
		}()
	}
	wg.Wait()
}

// Shutdown cancels all jobs and closes running valves
func (m *Manager) Shutdown(ctx context.Context) {
	for _, z := range m.zones {
		z.Shutdown(ctx)
	}
}

// Zone looks up a zone by id
func (m *Manager) Zone(id int) (*Zone, error) {
	z, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownZone, id)
	}
	return z, nil
}

// Zones returns snapshots of every zone in id order
func (m *Manager) Zones() []engine.Zone {
	out := make([]engine.Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, z.Snapshot())
	}
	return out
}

// Override sends a manual command to one zone
func (m *Manager) Override(ctx context.Context, id int, cmd Command) error {
	z, err := m.Zone(id)
	if err != nil {
		return err
	}
	return z.Override(ctx, cmd)
}

// Patch applies settings patches. Every target zone is checked first so an unknown
// id rejects the whole batch.
func (m *Manager) Patch(ctx context.Context, patches []engine.ZonePatch) error {
	targets := make([]*Zone, len(patches))
	for i, p := range patches {
		z, err := m.Zone(p.ID)
		if err != nil {
			return err
		}
		targets[i] = z
	}

	for i, p := range patches {
		targets[i].Patch(ctx, p)
	}
	return nil
}
