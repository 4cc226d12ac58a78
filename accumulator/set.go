package accumulator

import (
	"time"
)

// Set manages one Window per logical channel, all sharing the same kind
// and interval. Windows are created lazily on first sample and flushed
// in creation order. Set is confined to a single goroutine (the client
// read loop) and carries no locking.
type Set struct {
	kind     Kind
	interval time.Duration

	windows map[string]*Window
	order   []string
}

// NewSet creates an empty set. Kind and interval are validated when the
// first window is created.
func NewSet(kind Kind, interval time.Duration) *Set {
	return &Set{
		kind:     kind,
		interval: interval,
		windows:  make(map[string]*Window),
	}
}

// Add records one sample for a channel, creating its window on first
// sight with the intervals anchored at now.
func (s *Set) Add(channel string, value float64, status int, now time.Time) error {
	w, ok := s.windows[channel]
	if !ok {
		var err error
		w, err = NewWindow(channel, s.kind, s.interval, now)
		if err != nil {
			return err
		}
		s.windows[channel] = w
		s.order = append(s.order, channel)
	}
	w.Add(value, status)
	return nil
}

// FlushDue flushes every window whose deadline has passed and returns
// their summaries in channel creation order. Windows with no samples at
// all are rolled forward silently rather than emitting empty summaries.
func (s *Set) FlushDue(now time.Time) []Summary {
	var out []Summary
	for _, ch := range s.order {
		w := s.windows[ch]
		if !w.Due(now) {
			continue
		}
		if w.Empty() {
			w.reset(now)
			continue
		}
		out = append(out, w.Flush(now))
	}
	return out
}

// FlushAll flushes every non-empty window regardless of deadline. Used
// on clean shutdown so partial intervals are not lost.
func (s *Set) FlushAll(now time.Time) []Summary {
	var out []Summary
	for _, ch := range s.order {
		w := s.windows[ch]
		if w.Empty() {
			continue
		}
		out = append(out, w.Flush(now))
	}
	return out
}

// Channels returns the known channel names in creation order.
func (s *Set) Channels() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
