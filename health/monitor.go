package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/envlink/component"
)

// Monitor periodically polls registered components and logs health
// transitions. Callers read the latest aggregate through System.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration

	mu         sync.RWMutex
	components map[string]component.Component
	latest     Status
}

// NewMonitor creates a monitor polling at the given interval.
func NewMonitor(logger *slog.Logger, interval time.Duration) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		logger:     logger,
		interval:   interval,
		components: make(map[string]component.Component),
	}
}

// Register adds a component under its metadata name.
func (m *Monitor) Register(comp component.Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[comp.Meta().Name] = comp
}

// Remove stops monitoring a component.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, name)
}

// System returns the most recent aggregate status.
func (m *Monitor) System() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Run polls until ctx is cancelled, logging every transition between
// health levels.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	m.mu.RLock()
	comps := make(map[string]component.Component, len(m.components))
	for name, c := range m.components {
		comps[name] = c
	}
	previous := m.latest.Status
	m.mu.RUnlock()

	subs := make([]Status, 0, len(comps))
	for name, c := range comps {
		subs = append(subs, FromComponent(name, c.Health()))
	}
	agg := Aggregate("envlink", subs)

	m.mu.Lock()
	m.latest = agg
	m.mu.Unlock()

	if agg.Status != previous && previous != "" {
		m.logger.Warn("system health changed",
			"from", previous, "to", agg.Status, "message", agg.Message)
	}
	for _, s := range subs {
		if !s.Healthy {
			m.logger.Debug("component unhealthy",
				"component", s.Component, "error_count", s.ErrorCount, "message", s.Message)
		}
	}
}
