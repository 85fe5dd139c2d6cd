package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics for the acquisition pipeline
// (not component-specific; components register their own under their name).
type Metrics struct {
	// Channel metrics
	ChannelState    *prometheus.GaugeVec
	SamplesIngested *prometheus.CounterVec
	SamplesDropped  *prometheus.CounterVec
	FramesUnmapped  *prometheus.CounterVec

	// Pipeline metrics
	WindowsProcessed *prometheus.CounterVec
	StageErrors      *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChannelState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "daqstreams",
				Subsystem: "channel",
				Name:      "state",
				Help:      "Channel state (0=disconnected, 1=degraded, 2=active)",
			},
			[]string{"channel"},
		),

		SamplesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstreams",
				Subsystem: "samples",
				Name:      "ingested_total",
				Help:      "Total samples accepted into a channel ring buffer",
			},
			[]string{"channel"},
		),

		SamplesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstreams",
				Subsystem: "samples",
				Name:      "dropped_total",
				Help:      "Total samples dropped, by cause (ring_rejected, non_finite_value)",
			},
			[]string{"channel", "cause"},
		),

		FramesUnmapped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstreams",
				Subsystem: "demux",
				Name:      "unmapped_frames_total",
				Help:      "Raw frames dropped because no channel mapping exists",
			},
			[]string{"transport"},
		),

		WindowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstreams",
				Subsystem: "pipeline",
				Name:      "windows_processed_total",
				Help:      "Total windows processed, by completion status",
			},
			[]string{"channel", "status"},
		),

		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daqstreams",
				Subsystem: "pipeline",
				Name:      "stage_errors_total",
				Help:      "Stage failures that aborted a window",
			},
			[]string{"channel", "stage"},
		),

		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "daqstreams",
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "Full pipeline run duration per window",
				Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05},
			},
			[]string{"channel"},
		),
	}
}

// RecordChannelState updates the channel state gauge
func (c *Metrics) RecordChannelState(channel string, state int) {
	c.ChannelState.WithLabelValues(channel).Set(float64(state))
}

// RecordSampleIngested increments the ingested sample counter
func (c *Metrics) RecordSampleIngested(channel string) {
	c.SamplesIngested.WithLabelValues(channel).Inc()
}

// RecordSampleDropped increments the dropped sample counter for a cause
func (c *Metrics) RecordSampleDropped(channel, cause string) {
	c.SamplesDropped.WithLabelValues(channel, cause).Inc()
}

// RecordUnmappedFrame counts a frame with no channel table entry
func (c *Metrics) RecordUnmappedFrame(transport string) {
	c.FramesUnmapped.WithLabelValues(transport).Inc()
}

// RecordWindowProcessed increments the processed window counter
func (c *Metrics) RecordWindowProcessed(channel, status string) {
	c.WindowsProcessed.WithLabelValues(channel, status).Inc()
}

// RecordStageError counts an aborted window attributed to one stage
func (c *Metrics) RecordStageError(channel, stage string) {
	c.StageErrors.WithLabelValues(channel, stage).Inc()
}

// RecordPipelineDuration records one full pipeline run
func (c *Metrics) RecordPipelineDuration(channel string, duration time.Duration) {
	c.PipelineDuration.WithLabelValues(channel).Observe(duration.Seconds())
}
