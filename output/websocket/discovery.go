package websocket

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
		Description: "WebSocket result broadcaster",
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

// OutputPorts returns the listening endpoint.
func (o *Output) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "clients",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "WebSocket client connections",
			Config:      component.NetworkPort{Protocol: "ws", Host: o.config.Bind},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (o *Output) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"bind": {Type: "string", Description: "Listen address, host:port"},
			"path": {Type: "string", Description: "HTTP upgrade path", Default: defaultPath},
		},
		Required: []string{"bind"},
	}
}

// Health reports whether the server is accepting clients.
func (o *Output) Health() component.HealthStatus {
	healthy := o.running.Load()
	status := component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(o.errorCount.Load()),
		Uptime:     time.Since(o.startTime),
	}
	if !healthy {
		status.LastError = "not running"
	}
	return status
}

// DataFlow reports broadcast throughput.
func (o *Output) DataFlow() component.FlowMetrics {
	uptime := time.Since(o.startTime).Seconds()
	if uptime <= 0 {
		uptime = 1
	}
	sent := o.sent.Load()
	dropped := o.dropped.Load()

	flow := component.FlowMetrics{
		MessagesPerSecond: float64(sent) / uptime,
		BytesPerSecond:    float64(o.sentBytes.Load()) / uptime,
	}
	if total := sent + dropped; total > 0 {
		flow.ErrorRate = float64(dropped) / float64(total)
	}
	if last, ok := o.lastActivity.Load().(time.Time); ok {
		flow.LastActivity = last
	}
	return flow
}
