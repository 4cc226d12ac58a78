// Package health aggregates the health of envlink components (data
// clients, sinks) into one system-level status and watches for
// transitions worth logging.
package health

import (
	"time"

	"github.com/c360/envlink/component"
)

// Status levels, ordered from best to worst.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the health of one component or of the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ErrorCount  int       `json:"error_count,omitempty"`
	Uptime      time.Duration `json:"uptime,omitempty"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy reports whether the status level is healthy.
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// FromComponent converts a component's self-reported health.
func FromComponent(name string, ch component.HealthStatus) Status {
	level := StatusHealthy
	if !ch.Healthy {
		level = StatusUnhealthy
	}
	return Status{
		Component:  name,
		Healthy:    ch.Healthy,
		Status:     level,
		Message:    ch.LastError,
		Timestamp:  time.Now(),
		ErrorCount: ch.ErrorCount,
		Uptime:     ch.Uptime,
	}
}

// Aggregate rolls sub-statuses into one system status: unhealthy when
// everything is down, degraded when anything is, healthy otherwise.
func Aggregate(systemName string, subs []Status) Status {
	agg := Status{
		Component:   systemName,
		Timestamp:   time.Now(),
		SubStatuses: subs,
	}

	unhealthy := 0
	for _, s := range subs {
		if !s.Healthy {
			unhealthy++
		}
	}

	switch {
	case len(subs) == 0:
		agg.Status = StatusUnhealthy
		agg.Message = "no components registered"
	case unhealthy == 0:
		agg.Healthy = true
		agg.Status = StatusHealthy
	case unhealthy == len(subs):
		agg.Status = StatusUnhealthy
		agg.Message = "all components unhealthy"
	default:
		agg.Status = StatusDegraded
		agg.Message = "some components unhealthy"
	}
	return agg
}
