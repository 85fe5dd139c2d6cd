package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/pipeline"
)

// Drop policy names accepted in channel configuration.
const (
	PolicyRejectNewest    = "reject_newest"
	PolicyOverwriteOldest = "overwrite_oldest"
)

// TransportConfig declares one transport adapter instance.
type TransportConfig struct {
	Name   string         `json:"name" yaml:"name"`     // unique instance name
	Type   string         `json:"type" yaml:"type"`     // serial | udp | tcp | mqtt
	Params map[string]any `json:"params" yaml:"params"` // adapter-specific configuration
}

// RawParams returns the adapter parameters as JSON for component factories.
func (t *TransportConfig) RawParams() (json.RawMessage, error) {
	if t.Params == nil {
		return nil, nil
	}
	return json.Marshal(t.Params)
}

// ChannelConfig declares one acquisition channel: where its samples come
// from, how they are windowed and what processing runs on them.
type ChannelConfig struct {
	ChannelID     daq.ChannelID        `json:"channel_id" yaml:"channel_id"`
	Transport     string               `json:"transport" yaml:"transport"` // TransportConfig.Name reference
	Address       string               `json:"address" yaml:"address"`     // frame address within the transport
	Slot          int                  `json:"slot" yaml:"slot"`           // value slot within multi-channel frames
	SampleRate    float64              `json:"sample_rate" yaml:"sample_rate"`
	Unit          string               `json:"unit" yaml:"unit"`
	Calibration   daq.Calibration      `json:"calibration" yaml:"calibration"`
	Stages        []pipeline.StageSpec `json:"stages" yaml:"stages"`
	RingCapacity  int                  `json:"ring_capacity" yaml:"ring_capacity"`
	DropPolicy    string               `json:"drop_policy" yaml:"drop_policy"`
	WindowSize    int                  `json:"window_size" yaml:"window_size"`
	WindowOverlap int                  `json:"window_overlap" yaml:"window_overlap"`
}

// Config is the complete application configuration.
type Config struct {
	Version    string            `json:"version" yaml:"version"`
	Transports []TransportConfig `json:"transports" yaml:"transports"`
	Channels   []ChannelConfig   `json:"channels" yaml:"channels"`
	Outputs    OutputsConfig     `json:"outputs" yaml:"outputs"`
	Metrics    MetricsConfig     `json:"metrics" yaml:"metrics"`
	Health     HealthConfig      `json:"health" yaml:"health"`
	LogLevel   string            `json:"log_level" yaml:"log_level"`
}

// OutputsConfig declares the optional result forwarders.
type OutputsConfig struct {
	NATS      *NATSOutputConfig      `json:"nats,omitempty" yaml:"nats,omitempty"`
	WebSocket *WebSocketOutputConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// NATSOutputConfig configures the JetStream result forwarder.
type NATSOutputConfig struct {
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
	Stream        string `json:"stream" yaml:"stream"`
}

// WebSocketOutputConfig configures the WebSocket result forwarder.
type WebSocketOutputConfig struct {
	Bind string `json:"bind" yaml:"bind"` // listen address, host:port
	Path string `json:"path" yaml:"path"` // HTTP path, default /results
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Bind    string `json:"bind" yaml:"bind"` // host:port, default :9090
}

// HealthConfig tunes the channel health monitor.
type HealthConfig struct {
	PollInterval     string `json:"poll_interval" yaml:"poll_interval"`         // default 1s
	DegradedDrops    int64  `json:"degraded_drops" yaml:"degraded_drops"`       // drops per trailing window
	DegradedErrors   int64  `json:"degraded_errors" yaml:"degraded_errors"`     // errors per trailing window
	StaleSampleAge   string `json:"stale_sample_age" yaml:"stale_sample_age"`   // default 5s
	RecoveryInterval string `json:"recovery_interval" yaml:"recovery_interval"` // default 10s
}

// Load reads and parses a configuration file. YAML and JSON are both
// accepted; the format is chosen by file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "Load", "read config file")
	}

	var cfg Config
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
	}

	return &cfg, nil
}

// ConfigError describes one semantic configuration failure.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Unwrap classifies all config errors as invalid.
func (e *ConfigError) Unwrap() error {
	return errors.ErrInvalidConfig
}
