package worker

import (
	"time"

	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// WithMetrics registers pool metrics on the application registry under
// the given pool name.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.metrics = newPoolMetrics(registry, name)
	}
}

// poolMetrics exports pool activity. All methods are nil-safe.
type poolMetrics struct {
	registry *metric.MetricsRegistry
	svc      string

	submitted prometheus.Counter
	processed *prometheus.CounterVec
	dropped   prometheus.Counter
	depth     prometheus.Gauge
	duration  prometheus.Histogram
}

func newPoolMetrics(registry *metric.MetricsRegistry, name string) *poolMetrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"pool": name}
	m := &poolMetrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "worker",
			Name:        "submitted_total",
			ConstLabels: labels,
			Help:        "Total work items accepted into the queue",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "worker",
			Name:        "processed_total",
			ConstLabels: labels,
			Help:        "Total work items processed, by status",
		}, []string{"status"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "worker",
			Name:        "dropped_total",
			ConstLabels: labels,
			Help:        "Total work items rejected by a full queue",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "daqstreams",
			Subsystem:   "worker",
			Name:        "queue_depth",
			ConstLabels: labels,
			Help:        "Current work queue depth",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "daqstreams",
			Subsystem:   "worker",
			Name:        "processing_duration_seconds",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			Help:        "Work item processing time",
		}),
	}

	svc := "worker." + name
	m.registry = registry
	m.svc = svc
	_ = registry.RegisterCounter(svc, "submitted", m.submitted)
	_ = registry.RegisterCounterVec(svc, "processed", m.processed)
	_ = registry.RegisterCounter(svc, "dropped", m.dropped)
	_ = registry.RegisterGauge(svc, "queue_depth", m.depth)
	_ = registry.RegisterHistogram(svc, "processing_duration", m.duration)

	return m
}

// unregister releases the pool collectors so a replacement pool under the
// same name can register its own. Safe to call more than once.
func (m *poolMetrics) unregister() {
	if m == nil {
		return
	}
	names := []string{"submitted", "processed", "dropped", "queue_depth", "processing_duration"}
	for _, name := range names {
		m.registry.Unregister(m.svc, name)
	}
}

func (m *poolMetrics) recordSubmit(depth int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.depth.Set(float64(depth))
}

func (m *poolMetrics) recordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *poolMetrics) recordDone(err error, d time.Duration, depth int) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.processed.WithLabelValues(status).Inc()
	m.duration.Observe(d.Seconds())
	m.depth.Set(float64(depth))
}
