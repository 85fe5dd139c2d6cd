package tcp

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the TCP transport adapter.
type Metrics struct {
	registry *metric.MetricsRegistry
	svc      string

	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	framesDropped  prometheus.Counter
	streamErrors   prometheus.Counter
	reconnects     prometheus.Counter
}

// newMetrics creates and registers TCP transport metrics. Returns nil
// when no registry is provided.
func newMetrics(registry *metric.MetricsRegistry, address string) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"address": address}
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "tcp",
			Name:        "frames_received_total",
			ConstLabels: labels,
			Help:        "Total length-delimited frames received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "tcp",
			Name:        "bytes_received_total",
			ConstLabels: labels,
			Help:        "Total bytes received from the gateway",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "tcp",
			Name:        "frames_dropped_total",
			ConstLabels: labels,
			Help:        "Frames dropped because the frame channel was full",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "tcp",
			Name:        "stream_errors_total",
			ConstLabels: labels,
			Help:        "Stream read or framing errors encountered",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "tcp",
			Name:        "reconnects_total",
			ConstLabels: labels,
			Help:        "Redial attempts after stream errors",
		}),
	}

	serviceName := "tcp_" + address
	m.registry = registry
	m.svc = serviceName
	registry.RegisterCounter(serviceName, "frames_received", m.framesReceived)
	registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	registry.RegisterCounter(serviceName, "frames_dropped", m.framesDropped)
	registry.RegisterCounter(serviceName, "stream_errors", m.streamErrors)
	registry.RegisterCounter(serviceName, "reconnects", m.reconnects)

	return m
}

// unregister releases the adapter's collectors so a rebuilt adapter for
// the same endpoint can register its own. Safe to call more than once.
func (m *Metrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"frames_received", "bytes_received", "frames_dropped", "stream_errors", "reconnects"} {
		m.registry.Unregister(m.svc, name)
	}
}
