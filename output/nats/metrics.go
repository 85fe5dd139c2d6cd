package nats

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// outputMetrics exports forwarder activity. All methods are nil-safe.
type outputMetrics struct {
	published *prometheus.CounterVec
	bytes     prometheus.Counter
	failures  *prometheus.CounterVec
}

func newOutputMetrics(registry *metric.MetricsRegistry, sink string) *outputMetrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"sink": sink}
	m := &outputMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "output",
			Name:        "published_total",
			ConstLabels: labels,
			Help:        "Total results forwarded, by kind",
		}, []string{"kind"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "output",
			Name:        "published_bytes_total",
			ConstLabels: labels,
			Help:        "Total bytes forwarded",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "output",
			Name:        "failures_total",
			ConstLabels: labels,
			Help:        "Total forwarding failures, by kind",
		}, []string{"kind"}),
	}

	svc := "output." + sink
	_ = registry.RegisterCounterVec(svc, "published", m.published)
	_ = registry.RegisterCounter(svc, "published_bytes", m.bytes)
	_ = registry.RegisterCounterVec(svc, "failures", m.failures)

	return m
}

func (m *outputMetrics) incPublished(kind string, size int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind).Inc()
	m.bytes.Add(float64(size))
}

func (m *outputMetrics) incFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}
