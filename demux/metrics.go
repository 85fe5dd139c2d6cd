package demux

import (
	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Drop causes recorded on the demux drop counter.
const (
	dropUnmapped  = "unmapped_address"
	dropMalformed = "malformed_payload"
	dropNonFinite = "non_finite_value"
	dropRing      = "ring_rejected"
)

// demuxMetrics holds Prometheus metrics for frame routing. All methods
// are nil-safe so a missing registry disables collection.
type demuxMetrics struct {
	registry *metric.MetricsRegistry
	core     *metric.Metrics

	frames  *prometheus.CounterVec
	samples *prometheus.CounterVec
	drops   *prometheus.CounterVec
}

func newDemuxMetrics(registry *metric.MetricsRegistry) (*demuxMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &demuxMetrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "demux",
			Name:      "frames_total",
			Help:      "Total frames routed, by transport",
		}, []string{"transport"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "demux",
			Name:      "samples_total",
			Help:      "Total samples decoded and accepted, by transport",
		}, []string{"transport"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "demux",
			Name:      "drops_total",
			Help:      "Total frames or samples dropped, by transport and cause",
		}, []string{"transport", "cause"}),
	}

	m.registry = registry
	m.core = registry.CoreMetrics()
	if err := registry.RegisterCounterVec("demux", "frames", m.frames); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("demux", "samples", m.samples); err != nil {
		m.unregister()
		return nil, err
	}
	if err := registry.RegisterCounterVec("demux", "drops", m.drops); err != nil {
		m.unregister()
		return nil, err
	}

	return m, nil
}

// unregister releases the demux collectors so a replacement demuxer can
// register its own. Safe to call more than once.
func (m *demuxMetrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"frames", "samples", "drops"} {
		m.registry.Unregister("demux", name)
	}
}

func (m *demuxMetrics) incFrame(transport string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(transport).Inc()
}

func (m *demuxMetrics) incSample(transport, channel string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(transport).Inc()
	m.core.RecordSampleIngested(channel)
}

// incFrameDrop counts a drop of a whole frame, before any sample decodes.
func (m *demuxMetrics) incFrameDrop(transport, cause string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(transport, cause).Inc()
	if cause == dropUnmapped {
		m.core.RecordUnmappedFrame(transport)
	}
}

// incSampleDrop counts a drop of one decoded sample.
func (m *demuxMetrics) incSampleDrop(transport, channel, cause string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(transport, cause).Inc()
	m.core.RecordSampleDropped(channel, cause)
}
