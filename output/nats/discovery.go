package nats

import (
	"time"

	"github.com/c360/daqstreams/component"
)

var _ component.Discoverable = (*Output)(nil)

// Meta returns basic component information.
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: "JetStream result forwarder",
		Version:     "1.0.0",
	}
}

// InputPorts returns the result bus attachment.
func (o *Output) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "results",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Result bus subscription",
			Config:      component.BusPort{Channel: "*"},
		},
	}
}

// OutputPorts returns the NATS connection.
func (o *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "jetstream",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "JetStream publish connection",
			Config:      component.NetworkPort{Protocol: "nats", Host: o.config.URL},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (o *Output) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"url":            {Type: "string", Description: "NATS server URL"},
			"subject_prefix": {Type: "string", Description: "Subject prefix for results", Default: "daq"},
			"stream":         {Type: "string", Description: "JetStream stream name", Default: "DAQ_RESULTS"},
		},
		Required: []string{"url"},
	}
}

// Health reports the connection state and failure count.
func (o *Output) Health() component.HealthStatus {
	healthy := o.running.Load() && o.client != nil && o.client.IsHealthy()
	status := component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(o.failures.Load()),
		Uptime:     time.Since(o.startTime),
	}
	if !healthy {
		status.LastError = "not connected"
	}
	return status
}

// DataFlow reports publish throughput.
func (o *Output) DataFlow() component.FlowMetrics {
	uptime := time.Since(o.startTime).Seconds()
	if uptime <= 0 {
		uptime = 1
	}
	published := o.published.Load()
	failures := o.failures.Load()

	flow := component.FlowMetrics{
		MessagesPerSecond: float64(published) / uptime,
		BytesPerSecond:    float64(o.publishBytes.Load()) / uptime,
	}
	if total := published + failures; total > 0 {
		flow.ErrorRate = float64(failures) / float64(total)
	}
	if last, ok := o.lastActivity.Load().(time.Time); ok {
		flow.LastActivity = last
	}
	return flow
}
