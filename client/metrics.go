package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/metric"
)

// clientMetrics instruments one data client. A nil value disables all
// instrumentation, every method is nil-safe.
type clientMetrics struct {
	messagesReceived *prometheus.CounterVec
	readFailures     prometheus.Counter
	reconnects       prometheus.Counter
	faults           prometheus.Counter
	summariesFlushed prometheus.Counter
	failureCount     prometheus.Gauge
	connectionState  prometheus.Gauge
	commandLatency   prometheus.Histogram
}

func newClientMetrics(reg *metric.MetricsRegistry, name string) (*clientMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"client": name}
	m := &clientMetrics{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "messages_received_total",
			Help:        "Messages received, by wire message type",
			ConstLabels: labels,
		}, []string{"msg_type"}),
		readFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "read_failures_total",
			Help:        "Read, decode and timeout failures",
			ConstLabels: labels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "reconnects_total",
			Help:        "Successful reconnections",
			ConstLabels: labels,
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "faults_total",
			Help:        "Hard-threshold fault escalations",
			ConstLabels: labels,
		}),
		summariesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "summaries_flushed_total",
			Help:        "Accumulator summaries flushed to the sink",
			ConstLabels: labels,
		}),
		failureCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "consecutive_failures",
			Help:        "Current consecutive failure count",
			ConstLabels: labels,
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "connection_state",
			Help:        "Connection state as an enum value",
			ConstLabels: labels,
		}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "envlink",
			Subsystem:   "client",
			Name:        "command_duration_seconds",
			Help:        "Round-trip latency of commands",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	regs := []struct {
		name string
		err  error
	}{
		{"messages_received_total", reg.RegisterCounterVec(name, "messages_received_total", m.messagesReceived)},
		{"read_failures_total", reg.RegisterCounter(name, "read_failures_total", m.readFailures)},
		{"reconnects_total", reg.RegisterCounter(name, "reconnects_total", m.reconnects)},
		{"faults_total", reg.RegisterCounter(name, "faults_total", m.faults)},
		{"summaries_flushed_total", reg.RegisterCounter(name, "summaries_flushed_total", m.summariesFlushed)},
		{"consecutive_failures", reg.RegisterGauge(name, "consecutive_failures", m.failureCount)},
		{"connection_state", reg.RegisterGauge(name, "connection_state", m.connectionState)},
		{"command_duration_seconds", reg.RegisterHistogram(name, "command_duration_seconds", m.commandLatency)},
	}
	for _, r := range regs {
		if r.err != nil {
			return nil, errors.Wrap(r.err, "client", "newClientMetrics", "metric registration")
		}
	}
	return m, nil
}

func (m *clientMetrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

func (m *clientMetrics) ReadFailure() {
	if m == nil {
		return
	}
	m.readFailures.Inc()
}

func (m *clientMetrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *clientMetrics) Faulted() {
	if m == nil {
		return
	}
	m.faults.Inc()
}

func (m *clientMetrics) SummaryFlushed() {
	if m == nil {
		return
	}
	m.summariesFlushed.Inc()
}

func (m *clientMetrics) SetFailureCount(n int) {
	if m == nil {
		return
	}
	m.failureCount.Set(float64(n))
}

func (m *clientMetrics) SetConnectionState(s ConnState) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}

func (m *clientMetrics) ObserveCommandLatency(seconds float64) {
	if m == nil {
		return
	}
	m.commandLatency.Observe(seconds)
}
