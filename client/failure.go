package client

// escalation is the failure policy's verdict after one recorded failure.
type escalation int

const (
	// escalateRetry means retry silently.
	escalateRetry escalation = iota
	// escalateWarn means retry but log a warning.
	escalateWarn
	// escalateFault means stop retrying and fault.
	escalateFault
)

func (e escalation) String() string {
	switch e {
	case escalateRetry:
		return "retry"
	case escalateWarn:
		return "warn"
	case escalateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// failurePolicy tracks consecutive failures against the configured soft
// and hard thresholds. It is owned by the read loop goroutine and needs
// no locking.
type failurePolicy struct {
	soft  int
	hard  int
	count int
}

func newFailurePolicy(soft, hard int) *failurePolicy {
	return &failurePolicy{soft: soft, hard: hard}
}

// Record counts one failure and returns the resulting escalation level.
func (p *failurePolicy) Record() escalation {
	p.count++
	switch {
	case p.count >= p.hard:
		return escalateFault
	case p.count >= p.soft:
		return escalateWarn
	default:
		return escalateRetry
	}
}

// Reset clears the counter after a successful receive.
func (p *failurePolicy) Reset() {
	p.count = 0
}

// Count returns the current consecutive failure count.
func (p *failurePolicy) Count() int {
	return p.count
}
