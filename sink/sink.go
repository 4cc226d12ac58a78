// Package sink delivers accumulator summaries and fault notifications to
// the supervising collaborator. Implementations are the only boundary
// between a data client and the outside world: everything below the hard
// failure threshold stays inside the client.
package sink

import (
	"context"
	"time"

	"github.com/c360/envlink/accumulator"
)

// Fault is the one-shot notification emitted when a client crosses its
// hard failure threshold and stops retrying.
type Fault struct {
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason"`
	Failures  int       `json:"failures"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives flushed telemetry summaries and fault notifications.
// PublishSummary may be called at every accumulator flush; PublishFault
// is called at most once per fault episode.
type Sink interface {
	PublishSummary(ctx context.Context, summary accumulator.Summary) error
	PublishFault(ctx context.Context, fault Fault) error
	Close() error
}
