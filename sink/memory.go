package sink

import (
	"context"
	"sync"

	"github.com/c360/envlink/accumulator"
)

// Memory is an in-process sink that records everything it receives.
// Intended for tests and local debugging.
type Memory struct {
	mu        sync.Mutex
	summaries []accumulator.Summary
	faults    []Fault
	closed    bool
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// PublishSummary records the summary.
func (m *Memory) PublishSummary(_ context.Context, summary accumulator.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, summary)
	return nil
}

// PublishFault records the fault.
func (m *Memory) PublishFault(_ context.Context, fault Fault) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, fault)
	return nil
}

// Close marks the sink closed. Recorded data remains readable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Summaries returns a copy of the recorded summaries.
func (m *Memory) Summaries() []accumulator.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]accumulator.Summary, len(m.summaries))
	copy(out, m.summaries)
	return out
}

// Faults returns a copy of the recorded faults.
func (m *Memory) Faults() []Fault {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Fault, len(m.faults))
	copy(out, m.faults)
	return out
}
