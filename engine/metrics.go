package engine

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics exports engine lifecycle state. All methods are nil-safe.
type engineMetrics struct {
	running prometheus.Gauge
	reloads prometheus.Counter
}

func newEngineMetrics(registry *metric.MetricsRegistry) *engineMetrics {
	if registry == nil {
		return nil
	}

	m := &engineMetrics{
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daqstreams",
			Subsystem: "engine",
			Name:      "running",
			Help:      "1 while the engine is started",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "engine",
			Name:      "config_reloads_total",
			Help:      "Total configuration reloads applied",
		}),
	}

	_ = registry.RegisterGauge("engine", "running", m.running)
	_ = registry.RegisterCounter("engine", "config_reloads", m.reloads)

	return m
}

func (m *engineMetrics) setRunning(up bool) {
	if m == nil {
		return
	}
	if up {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

func (m *engineMetrics) incReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}
