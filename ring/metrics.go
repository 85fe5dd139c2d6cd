package ring

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// ringMetrics holds Prometheus metrics for one channel's buffer.
type ringMetrics struct {
	registry *metric.MetricsRegistry
	svc      string

	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       *prometheus.CounterVec
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

// newRingMetrics creates and registers per-channel buffer metrics.
func newRingMetrics(registry *metric.MetricsRegistry, channel string) (*ringMetrics, error) {
	m := &ringMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "ring",
			Name:        "writes_total",
			ConstLabels: prometheus.Labels{"channel": channel},
			Help:        "Total samples accepted into the channel buffer",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "ring",
			Name:        "reads_total",
			ConstLabels: prometheus.Labels{"channel": channel},
			Help:        "Total samples consumed from the channel buffer",
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "ring",
			Name:        "drops_total",
			ConstLabels: prometheus.Labels{"channel": channel},
			Help:        "Total samples dropped, by cause",
		}, []string{"cause"}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "daqstreams",
			Subsystem:   "ring",
			Name:        "size",
			ConstLabels: prometheus.Labels{"channel": channel},
			Help:        "Current number of buffered samples",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "daqstreams",
			Subsystem:   "ring",
			Name:        "utilization",
			ConstLabels: prometheus.Labels{"channel": channel},
			Help:        "Buffer fill ratio (0.0 to 1.0)",
		}),
	}

	svc := "ring." + channel
	m.registry = registry
	m.svc = svc
	if err := registry.RegisterCounter(svc, "writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(svc, "reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(svc, "drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(svc, "size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(svc, "utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

// unregister releases the buffer's collectors so a replacement buffer for
// the same channel can register its own. Safe to call more than once.
func (m *ringMetrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"writes", "reads", "drops", "size", "utilization"} {
		m.registry.Unregister(m.svc, name)
	}
}

func (m *ringMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *ringMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *ringMetrics) recordDrop(cause string) {
	m.drops.WithLabelValues(cause).Inc()
}

func (m *ringMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
