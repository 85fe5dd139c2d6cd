package udp

import (
	"fmt"

	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the UDP transport adapter.
type Metrics struct {
	registry *metric.MetricsRegistry
	svc      string

	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	framesDropped  prometheus.Counter
	socketErrors   prometheus.Counter
	reconnects     prometheus.Counter
}

// newMetrics creates and registers UDP transport metrics. Returns nil
// when no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"port": fmt.Sprintf("%d", port)}
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "udp",
			Name:        "frames_received_total",
			ConstLabels: labels,
			Help:        "Total UDP datagrams received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			ConstLabels: labels,
			Help:        "Total bytes received from UDP",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "udp",
			Name:        "frames_dropped_total",
			ConstLabels: labels,
			Help:        "Frames dropped because the frame channel was full",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			ConstLabels: labels,
			Help:        "Socket read errors encountered",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "udp",
			Name:        "reconnects_total",
			ConstLabels: labels,
			Help:        "Socket rebind attempts after read errors",
		}),
	}

	serviceName := fmt.Sprintf("udp_%d", port)
	m.registry = registry
	m.svc = serviceName
	registry.RegisterCounter(serviceName, "frames_received", m.framesReceived)
	registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	registry.RegisterCounter(serviceName, "frames_dropped", m.framesDropped)
	registry.RegisterCounter(serviceName, "socket_errors", m.socketErrors)
	registry.RegisterCounter(serviceName, "reconnects", m.reconnects)

	return m
}

// unregister releases the adapter's collectors so a rebuilt adapter for
// the same endpoint can register its own. Safe to call more than once.
func (m *Metrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"frames_received", "bytes_received", "frames_dropped", "socket_errors", "reconnects"} {
		m.registry.Unregister(m.svc, name)
	}
}
