package websocket

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// wsMetrics exports broadcast activity. All methods are nil-safe.
type wsMetrics struct {
	sent    prometheus.Counter
	bytes   prometheus.Counter
	dropped prometheus.Counter
	clients prometheus.Gauge
}

func newWSMetrics(registry *metric.MetricsRegistry) *wsMetrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"sink": "websocket"}
	m := &wsMetrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "output",
			Name:        "messages_sent_total",
			ConstLabels: labels,
			Help:        "Total messages written to clients",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "output",
			Name:        "bytes_sent_total",
			ConstLabels: labels,
			Help:        "Total bytes written to clients",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "output",
			Name:        "messages_dropped_total",
			ConstLabels: labels,
			Help:        "Total messages dropped on slow clients",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "daqstreams",
			Subsystem:   "output",
			Name:        "connected_clients",
			ConstLabels: labels,
			Help:        "Number of connected WebSocket clients",
		}),
	}

	const svc = "output.websocket"
	_ = registry.RegisterCounter(svc, "messages_sent", m.sent)
	_ = registry.RegisterCounter(svc, "bytes_sent", m.bytes)
	_ = registry.RegisterCounter(svc, "messages_dropped", m.dropped)
	_ = registry.RegisterGauge(svc, "connected_clients", m.clients)

	return m
}

func (m *wsMetrics) incSent(size int) {
	if m == nil {
		return
	}
	m.sent.Inc()
	m.bytes.Add(float64(size))
}

func (m *wsMetrics) incDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *wsMetrics) setClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}
