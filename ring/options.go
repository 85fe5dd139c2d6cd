package ring

import (
	"github.com/c360/daqstreams/metric"
)

// Option configures ring buffer behavior using the functional options pattern.
type Option func(*bufferOptions)

// bufferOptions holds internal configuration for a buffer instance.
// Statistics are always collected; Prometheus export is opt-in.
type bufferOptions struct {
	policy     Policy
	rate       float64
	metricsReg *metric.MetricsRegistry
	signal     func()
}

// WithPolicy sets the overflow behavior. Defaults to RejectNewest.
func WithPolicy(policy Policy) Option {
	return func(opts *bufferOptions) {
		opts.policy = policy
	}
}

// WithRate sets the channel's nominal sample rate in Hz; windows popped
// from the buffer carry it so pipeline stages need no channel lookup.
func WithRate(rate float64) Option {
	return func(opts *bufferOptions) {
		if rate > 0 {
			opts.rate = rate
		}
	}
}

// WithMetrics enables Prometheus metrics export for buffer statistics.
// A nil registry is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(opts *bufferOptions) {
		if registry != nil {
			opts.metricsReg = registry
		}
	}
}

// WithSignal installs a callback invoked after every accepted Push, with
// the buffer unlocked. The consumer uses it to wake its dispatch loop; it
// must not block.
func WithSignal(fn func()) Option {
	return func(opts *bufferOptions) {
		opts.signal = fn
	}
}

func applyOptions(options ...Option) *bufferOptions {
	opts := &bufferOptions{
		policy: RejectNewest,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
