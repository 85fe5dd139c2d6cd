package mqtt

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the MQTT transport adapter.
type Metrics struct {
	registry *metric.MetricsRegistry
	svc      string

	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	framesDropped  prometheus.Counter
	connectionLost prometheus.Counter
}

// newMetrics creates and registers MQTT transport metrics. Returns nil
// when no registry is provided.
func newMetrics(registry *metric.MetricsRegistry, broker string) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"broker": broker}
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "mqtt",
			Name:        "frames_received_total",
			ConstLabels: labels,
			Help:        "Total messages received from subscribed topics",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "mqtt",
			Name:        "bytes_received_total",
			ConstLabels: labels,
			Help:        "Total payload bytes received",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "mqtt",
			Name:        "frames_dropped_total",
			ConstLabels: labels,
			Help:        "Frames dropped because the frame channel was full",
		}),
		connectionLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "mqtt",
			Name:        "connection_lost_total",
			ConstLabels: labels,
			Help:        "Broker connection loss events",
		}),
	}

	serviceName := "mqtt_" + broker
	m.registry = registry
	m.svc = serviceName
	registry.RegisterCounter(serviceName, "frames_received", m.framesReceived)
	registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	registry.RegisterCounter(serviceName, "frames_dropped", m.framesDropped)
	registry.RegisterCounter(serviceName, "connection_lost", m.connectionLost)

	return m
}

// unregister releases the adapter's collectors so a rebuilt adapter for
// the same endpoint can register its own. Safe to call more than once.
func (m *Metrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"frames_received", "bytes_received", "frames_dropped", "connection_lost"} {
		m.registry.Unregister(m.svc, name)
	}
}
