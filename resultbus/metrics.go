package resultbus

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// busMetrics exports fan-out activity. All methods are nil-safe.
type busMetrics struct {
	published   *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

func newBusMetrics(registry *metric.MetricsRegistry) *busMetrics {
	if registry == nil {
		return nil
	}

	m := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "resultbus",
			Name:      "published_total",
			Help:      "Total results published, by kind",
		}, []string{"kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "resultbus",
			Name:      "delivered_total",
			Help:      "Total result deliveries across subscriptions, by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "resultbus",
			Name:      "dropped_total",
			Help:      "Total deliveries lost to full subscriber buffers, by kind",
		}, []string{"kind"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daqstreams",
			Subsystem: "resultbus",
			Name:      "subscribers",
			Help:      "Current subscription count",
		}),
	}

	_ = registry.RegisterCounterVec("resultbus", "published", m.published)
	_ = registry.RegisterCounterVec("resultbus", "delivered", m.delivered)
	_ = registry.RegisterCounterVec("resultbus", "dropped", m.dropped)
	_ = registry.RegisterGauge("resultbus", "subscribers", m.subscribers)

	return m
}

func (m *busMetrics) incPublished(kind string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind).Inc()
}

func (m *busMetrics) incDelivered(kind string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(kind).Inc()
}

func (m *busMetrics) incDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

func (m *busMetrics) setSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
