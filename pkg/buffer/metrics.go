package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/envlink/metric"
)

// queueMetrics holds Prometheus metrics for queue operations.
type queueMetrics struct {
	writes    prometheus.Counter
	reads     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newQueueMetrics creates and registers queue metrics with the provided registry.
func newQueueMetrics(registry *metric.MetricsRegistry, name string) (*queueMetrics, error) {
	m := &queueMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "queue",
			Name:        "writes_total",
			ConstLabels: prometheus.Labels{"component": name},
			Help:        "Total number of queue write operations",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "queue",
			Name:        "reads_total",
			ConstLabels: prometheus.Labels{"component": name},
			Help:        "Total number of queue read operations",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "queue",
			Name:        "overflows_total",
			ConstLabels: prometheus.Labels{"component": name},
			Help:        "Total number of queue overflow events",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "envlink",
			Subsystem:   "queue",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"component": name},
			Help:        "Total number of items dropped due to overflow",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "envlink",
			Subsystem:   "queue",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": name},
			Help:        "Current number of items in the queue",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "envlink",
			Subsystem:   "queue",
			Name:        "utilization",
			ConstLabels: prometheus.Labels{"component": name},
			Help:        "Queue utilization as a ratio (0.0 to 1.0)",
		}),
	}

	if err := registry.RegisterCounter(name, "queue_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "queue_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "queue_overflows", m.overflows); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "queue_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "queue_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "queue_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *queueMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *queueMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *queueMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
