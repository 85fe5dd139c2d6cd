// Package metric provides Prometheus metrics registration and HTTP exposition
// for daqstreams.
//
// MetricsRegistry wraps a private prometheus.Registry so component metrics
// never collide with other registries in the process. Core acquisition
// metrics (channel state, sample ingest/drop counters, window and stage
// counters, pipeline latency) are always registered; components add their
// own under a service name via the MetricsRegistrar interface.
//
// Server exposes the registry over HTTP with OpenMetrics enabled plus a
// small liveness endpoint.
package metric
