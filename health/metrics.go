package health

import (
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// healthMetrics exports channel states. All methods are nil-safe.
type healthMetrics struct {
	registry *metric.MetricsRegistry
	core     *metric.Metrics

	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func newHealthMetrics(registry *metric.MetricsRegistry) (*healthMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &healthMetrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "daqstreams",
			Subsystem: "health",
			Name:      "channel_state",
			Help:      "Channel state: 0 disconnected, 1 degraded, 2 active",
		}, []string{"channel"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "health",
			Name:      "transitions_total",
			Help:      "Total channel state transitions",
		}, []string{"channel", "from", "to"}),
	}

	m.registry = registry
	m.core = registry.CoreMetrics()
	if err := registry.RegisterGaugeVec("health", "channel_state", m.state); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("health", "transitions", m.transitions); err != nil {
		m.unregister()
		return nil, err
	}

	return m, nil
}

// unregister releases the monitor collectors so a replacement monitor can
// register its own. Safe to call more than once.
func (m *healthMetrics) unregister() {
	if m == nil {
		return
	}
	m.registry.Unregister("health", "channel_state")
	m.registry.Unregister("health", "transitions")
}

func (m *healthMetrics) setState(channel string, s daq.ChannelState) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(channel).Set(float64(s))
	m.core.RecordChannelState(channel, int(s))
}

func (m *healthMetrics) incTransition(channel, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(channel, from, to).Inc()
}
