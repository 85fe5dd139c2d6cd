package scheduler

import (
	"time"

	"github.com/c360/daqstreams/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// schedulerMetrics exports dispatch activity. All methods are nil-safe.
type schedulerMetrics struct {
	registry *metric.MetricsRegistry
	core     *metric.Metrics

	dispatched    *prometheus.CounterVec
	completed     *prometheus.CounterVec
	submitRetries *prometheus.CounterVec
}

func newSchedulerMetrics(registry *metric.MetricsRegistry) (*schedulerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &schedulerMetrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "scheduler",
			Name:      "windows_dispatched_total",
			Help:      "Total windows submitted to the worker pool, by channel",
		}, []string{"channel"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "scheduler",
			Name:      "windows_completed_total",
			Help:      "Total windows processed, by channel and status",
		}, []string{"channel", "status"}),
		submitRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daqstreams",
			Subsystem: "scheduler",
			Name:      "submit_retries_total",
			Help:      "Total dispatch attempts deferred by a full worker queue",
		}, []string{"channel"}),
	}

	m.registry = registry
	m.core = registry.CoreMetrics()
	if err := registry.RegisterCounterVec("scheduler", "windows_dispatched", m.dispatched); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("scheduler", "windows_completed", m.completed); err != nil {
		m.unregister()
		return nil, err
	}
	if err := registry.RegisterCounterVec("scheduler", "submit_retries", m.submitRetries); err != nil {
		m.unregister()
		return nil, err
	}

	return m, nil
}

// unregister releases the scheduler collectors so a replacement scheduler
// can register its own. Safe to call more than once.
func (m *schedulerMetrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range []string{"windows_dispatched", "windows_completed", "submit_retries"} {
		m.registry.Unregister("scheduler", name)
	}
}

func (m *schedulerMetrics) incDispatch(channel string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(channel).Inc()
}

func (m *schedulerMetrics) incComplete(channel, status string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(channel, status).Inc()
	m.core.RecordWindowProcessed(channel, status)
}

func (m *schedulerMetrics) incStageError(channel, stage string) {
	if m == nil {
		return
	}
	m.core.RecordStageError(channel, stage)
}

func (m *schedulerMetrics) observeRun(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.core.RecordPipelineDuration(channel, d)
}


func (m *schedulerMetrics) incSubmitRetry(channel string) {
	if m == nil {
		return
	}
	m.submitRetries.WithLabelValues(channel).Inc()
}
