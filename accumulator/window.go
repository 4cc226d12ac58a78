package accumulator

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/c360/envlink/errors"
)

// Kind selects the statistics a window computes at flush.
type Kind string

const (
	// KindMeanStd computes the arithmetic mean and sample standard deviation.
	KindMeanStd Kind = "mean_std"
	// KindQuartileStd computes the median and the IQR-based robust
	// standard deviation estimate.
	KindQuartileStd Kind = "quartile_std"
	// KindCircular computes directional statistics for angles in degrees.
	KindCircular Kind = "circular"
)

// Valid reports whether k is a recognized accumulator kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMeanStd, KindQuartileStd, KindCircular:
		return true
	}
	return false
}

// Summary is the output of one window flush: the statistics for one
// channel over one collection interval.
type Summary struct {
	Channel    string        `json:"channel"`
	Kind       Kind          `json:"kind"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Mean       float64       `json:"mean"`
	StdDev     float64       `json:"std_dev"`
	Max        float64       `json:"max"`
	Samples    int           `json:"samples"`
	BadSamples int           `json:"bad_samples"`
	LastStatus int           `json:"last_status"`
}

// MarshalJSON renders non-finite statistics as null so summaries remain
// transportable as JSON.
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Channel    string    `json:"channel"`
		Kind       Kind      `json:"kind"`
		Start      time.Time `json:"start"`
		End        time.Time `json:"end"`
		Mean       *float64  `json:"mean"`
		StdDev     *float64  `json:"std_dev"`
		Max        *float64  `json:"max"`
		Samples    int       `json:"samples"`
		BadSamples int       `json:"bad_samples"`
		LastStatus int       `json:"last_status"`
	}{
		Channel:    s.Channel,
		Kind:       s.Kind,
		Start:      s.Start,
		End:        s.End,
		Mean:       finiteOrNil(s.Mean),
		StdDev:     finiteOrNil(s.StdDev),
		Max:        finiteOrNil(s.Max),
		Samples:    s.Samples,
		BadSamples: s.BadSamples,
		LastStatus: s.LastStatus,
	})
}

func finiteOrNil(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Window owns one open collection interval for one logical channel. It
// collects raw samples until its wall-clock deadline, then flushes one
// Summary and resets. A window never emits twice for the same interval:
// Flush atomically closes the interval and opens the next one.
type Window struct {
	channel  string
	kind     Kind
	interval time.Duration

	start    time.Time
	deadline time.Time

	// Quartile windows buffer raw samples; the other kinds accumulate
	// running sums only.
	samples []float64
	sum     float64
	sumSq   float64
	sinSum  float64
	cosSum  float64
	max     float64

	n          int
	bad        int
	lastStatus int
}

// NewWindow creates a window for one channel, open from now.
func NewWindow(channel string, kind Kind, interval time.Duration, now time.Time) (*Window, error) {
	if channel == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty channel name"), "accumulator", "NewWindow", "channel check")
	}
	if !kind.Valid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown accumulator kind %q", kind), "accumulator", "NewWindow", "kind check")
	}
	if interval <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("interval %v must be positive", interval), "accumulator", "NewWindow", "interval check")
	}
	return &Window{
		channel:  channel,
		kind:     kind,
		interval: interval,
		start:    now,
		deadline: now.Add(interval),
		max:      math.Inf(-1),
	}, nil
}

// Channel returns the logical channel this window aggregates.
func (w *Window) Channel() string { return w.channel }

// Kind returns the statistics kind of this window.
func (w *Window) Kind() Kind { return w.kind }

// Add records one sample. Samples with nonzero status are counted as bad
// and excluded from the statistics; the last nonzero status is carried
// into the next Summary.
func (w *Window) Add(value float64, status int) {
	if status != 0 {
		w.bad++
		w.lastStatus = status
		return
	}

	switch w.kind {
	case KindMeanStd:
		w.sum += value
		w.sumSq += value * value
	case KindQuartileStd:
		w.samples = append(w.samples, value)
	case KindCircular:
		rad := degToRad(value)
		w.sinSum += math.Sin(rad)
		w.cosSum += math.Cos(rad)
	}
	// Circular windows report no maximum, so there is nothing to track.
	if w.kind != KindCircular && value > w.max {
		w.max = value
	}
	w.n++
}

// Due reports whether the window's wall-clock deadline has passed.
func (w *Window) Due(now time.Time) bool {
	return !now.Before(w.deadline)
}

// Empty reports whether the window holds no samples at all.
func (w *Window) Empty() bool {
	return w.n == 0 && w.bad == 0
}

// Flush closes the current interval, emits its Summary and opens the
// next interval. A window whose samples were all bad reports NaN
// statistics: telemetry is still published at semi-regular intervals so
// consumers can see the channel is alive but unhealthy.
func (w *Window) Flush(now time.Time) Summary {
	summary := Summary{
		Channel:    w.channel,
		Kind:       w.kind,
		Start:      w.start,
		End:        now,
		Samples:    w.n,
		BadSamples: w.bad,
		LastStatus: w.lastStatus,
	}

	switch {
	case w.n == 0:
		summary.Mean = math.NaN()
		summary.StdDev = math.NaN()
		summary.Max = math.NaN()
	case w.kind == KindMeanStd:
		summary.Mean, summary.StdDev = MeanAndStdDev(w.sum, w.sumSq, w.n)
		summary.Max = w.max
	case w.kind == KindQuartileStd:
		summary.Mean, summary.StdDev = MedianAndStdDev(w.samples)
		summary.Max = w.max
	case w.kind == KindCircular:
		summary.Mean, summary.StdDev = CircularMeanStdDev(w.sinSum, w.cosSum, w.n)
		// A maximum angle is meaningless on a circle.
		summary.Max = math.NaN()
	}

	w.reset(now)
	return summary
}

// reset clears accumulated state and opens the next interval.
func (w *Window) reset(now time.Time) {
	w.samples = w.samples[:0]
	w.sum = 0
	w.sumSq = 0
	w.sinSum = 0
	w.cosSum = 0
	w.max = math.Inf(-1)
	w.n = 0
	w.bad = 0
	w.lastStatus = 0
	w.start = now
	w.deadline = now.Add(w.interval)
}
