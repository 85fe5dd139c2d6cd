package serial

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the serial transport adapter.
type Metrics struct {
	registry *metric.MetricsRegistry
	svc      string

	framesReceived  prometheus.Counter
	bytesReceived   prometheus.Counter
	framesDropped   prometheus.Counter
	malformedFrames prometheus.Counter
	deviceErrors    prometheus.Counter
	reconnects      prometheus.Counter
}

// newMetrics creates and registers serial transport metrics. Returns nil
// when no registry is provided.
func newMetrics(registry *metric.MetricsRegistry, path string) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"device": path}
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "serial",
			Name:        "frames_received_total",
			ConstLabels: labels,
			Help:        "Total decoded frames received from the device",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "serial",
			Name:        "bytes_received_total",
			ConstLabels: labels,
			Help:        "Total raw bytes read from the device",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "serial",
			Name:        "frames_dropped_total",
			ConstLabels: labels,
			Help:        "Frames dropped because the frame channel was full",
		}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "serial",
			Name:        "malformed_frames_total",
			ConstLabels: labels,
			Help:        "Frames rejected by checksum or framing validation",
		}),
		deviceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "serial",
			Name:        "device_errors_total",
			ConstLabels: labels,
			Help:        "Device read errors encountered",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "daqstreams",
			Subsystem:   "serial",
			Name:        "reconnects_total",
			ConstLabels: labels,
			Help:        "Device reopen attempts after read errors",
		}),
	}

	serviceName := "serial_" + path
	m.registry = registry
	m.svc = serviceName
	registry.RegisterCounter(serviceName, "frames_received", m.framesReceived)
	registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	registry.RegisterCounter(serviceName, "frames_dropped", m.framesDropped)
	registry.RegisterCounter(serviceName, "malformed_frames", m.malformedFrames)
	registry.RegisterCounter(serviceName, "device_errors", m.deviceErrors)
	registry.RegisterCounter(serviceName, "reconnects", m.reconnects)

	return m
}

// unregister releases the adapter's collectors so a rebuilt adapter for
// the same endpoint can register its own. Safe to call more than once.
func (m *Metrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"frames_received", "bytes_received", "frames_dropped", "malformed_frames", "device_errors", "reconnects"} {
		m.registry.Unregister(m.svc, name)
	}
}
