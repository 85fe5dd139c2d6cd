package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/pipeline"
)

func validConfig() *Config {
	return &Config{
		Version: "1",
		Transports: []TransportConfig{
			{Name: "bench-udp", Type: "udp", Params: map[string]any{"port": 9800}},
			{Name: "rig-serial", Type: "serial", Params: map[string]any{"path": "/dev/ttyUSB0"}},
		},
		Channels: []ChannelConfig{
			{
				ChannelID: "accel-x", Transport: "bench-udp", Address: "9800",
				Slot: 0, SampleRate: 1024, WindowSize: 256, WindowOverlap: 64,
				RingCapacity: 1024,
			},
			{
				ChannelID: "accel-y", Transport: "bench-udp", Address: "9800",
				Slot: 1, SampleRate: 1024, WindowSize: 256,
				RingCapacity: 512, DropPolicy: PolicyOverwriteOldest,
			},
			{
				ChannelID: "temp-1", Transport: "rig-serial", Address: "/dev/ttyUSB0",
				Slot: 0, SampleRate: 10, WindowSize: 16,
				RingCapacity: 64, Calibration: daq.Calibration{Scale: 0.5, Offset: -40},
			},
		},
	}
}

func TestValidateBuildsSnapshot(t *testing.T) {
	snap, err := validConfig().Validate()
	require.NoError(t, err)

	assert.Equal(t, "1", snap.Version())

	chans := snap.Channels()
	require.Len(t, chans, 3)
	assert.Equal(t, daq.ChannelID("accel-x"), chans[0].ChannelID)
	assert.Equal(t, daq.ChannelID("temp-1"), chans[2].ChannelID)

	ch, ok := snap.Channel("accel-y")
	require.True(t, ok)
	assert.Equal(t, PolicyOverwriteOldest, ch.Policy())

	_, ok = snap.Channel("missing")
	assert.False(t, ok)

	transports := snap.Transports()
	require.Len(t, transports, 2)
	assert.Equal(t, "bench-udp", transports[0].Name)
	assert.Equal(t, "rig-serial", transports[1].Name)
}

func TestValidateBindingsSlotOrdered(t *testing.T) {
	cfg := validConfig()
	// Declare slots out of order; the snapshot must sort them.
	cfg.Channels[0].Slot = 1
	cfg.Channels[1].Slot = 0

	snap, err := cfg.Validate()
	require.NoError(t, err)

	bindings := snap.Bindings("bench-udp", "9800")
	require.Len(t, bindings, 2)
	assert.Equal(t, daq.ChannelID("accel-y"), bindings[0].ChannelID)
	assert.Equal(t, 0, bindings[0].Slot)
	assert.Equal(t, daq.ChannelID("accel-x"), bindings[1].ChannelID)
	assert.Equal(t, 1, bindings[1].Slot)

	assert.Nil(t, snap.Bindings("bench-udp", "nowhere"))
}

func TestValidateNormalizesCalibration(t *testing.T) {
	snap, err := validConfig().Validate()
	require.NoError(t, err)

	ch, ok := snap.Channel("accel-x")
	require.True(t, ok)
	assert.Equal(t, daq.DefaultCalibration(), ch.Calibration)

	ch, ok = snap.Channel("temp-1")
	require.True(t, ok)
	assert.Equal(t, daq.Calibration{Scale: 0.5, Offset: -40}, ch.Calibration)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty transport name", func(c *Config) { c.Transports[0].Name = "" }},
		{"unknown transport type", func(c *Config) { c.Transports[0].Type = "carrier-pigeon" }},
		{"duplicate transport name", func(c *Config) { c.Transports[1].Name = "bench-udp" }},
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"empty channel id", func(c *Config) { c.Channels[0].ChannelID = "" }},
		{"wildcard channel id", func(c *Config) { c.Channels[0].ChannelID = daq.Wildcard }},
		{"duplicate channel id", func(c *Config) { c.Channels[1].ChannelID = "accel-x" }},
		{"unknown transport ref", func(c *Config) { c.Channels[0].Transport = "ghost" }},
		{"empty address", func(c *Config) { c.Channels[0].Address = "" }},
		{"negative slot", func(c *Config) { c.Channels[0].Slot = -1 }},
		{"zero rate", func(c *Config) { c.Channels[0].SampleRate = 0 }},
		{"zero window", func(c *Config) { c.Channels[0].WindowSize = 0 }},
		{"overlap at window size", func(c *Config) { c.Channels[0].WindowOverlap = 256 }},
		{"negative overlap", func(c *Config) { c.Channels[0].WindowOverlap = -1 }},
		{"ring too small", func(c *Config) { c.Channels[0].RingCapacity = 511 }},
		{"unknown drop policy", func(c *Config) { c.Channels[0].DropPolicy = "drop_everything" }},
		{"zero scale calibration", func(c *Config) {
			c.Channels[0].Calibration = daq.Calibration{Scale: 0, Offset: 3}
		}},
		{"unknown stage type", func(c *Config) {
			c.Channels[0].Stages = []pipeline.StageSpec{{Type: "teleport"}}
		}},
		{"unstable filter", func(c *Config) {
			// Cutoff above Nyquist for a 1024 Hz channel.
			c.Channels[0].Stages = []pipeline.StageSpec{
				{Type: pipeline.StageFilter, Params: map[string]any{"cutoff_hz": 600.0}},
			}
		}},
		{"spectral window not power of two", func(c *Config) {
			c.Channels[0].WindowSize = 250
			c.Channels[0].WindowOverlap = 0
			c.Channels[0].RingCapacity = 500
			c.Channels[0].Stages = []pipeline.StageSpec{{Type: pipeline.StageSpectral}}
		}},
		{"slot gap on shared address", func(c *Config) { c.Channels[1].Slot = 2 }},
		{"duplicate slot on shared address", func(c *Config) { c.Channels[1].Slot = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			snap, err := cfg.Validate()
			require.Error(t, err)
			assert.Nil(t, snap)
			assert.True(t, errors.IsInvalid(err), "config errors classify as invalid: %v", err)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daq.yaml")
	data := `
version: "2"
transports:
  - name: bench-udp
    type: udp
    params:
      port: 9800
channels:
  - channel_id: accel-x
    transport: bench-udp
    address: "9800"
    sample_rate: 1024
    window_size: 256
    ring_capacity: 1024
    stages:
      - type: filter
        params:
          cutoff_hz: 100
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.Version)
	require.Len(t, cfg.Channels, 1)
	require.Len(t, cfg.Channels[0].Stages, 1)
	assert.Equal(t, pipeline.StageFilter, cfg.Channels[0].Stages[0].Type)

	_, err = cfg.Validate()
	require.NoError(t, err)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daq.json")
	data := `{
  "version": "3",
  "transports": [{"name": "rig", "type": "tcp", "params": {"address": "10.0.0.5:7000"}}],
  "channels": [{
    "channel_id": "strain-1", "transport": "rig", "address": "10.0.0.5:7000",
    "sample_rate": 500, "window_size": 128, "ring_capacity": 256
  }]
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "3", cfg.Version)

	snap, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, snap.Channels(), 1)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels: [not: {closed"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRawParams(t *testing.T) {
	tc := TransportConfig{Name: "n", Type: "udp", Params: map[string]any{"port": 9800}}
	raw, err := tc.RawParams()
	require.NoError(t, err)
	assert.JSONEq(t, `{"port":9800}`, string(raw))

	tc.Params = nil
	raw, err = tc.RawParams()
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestStoreSwapDrainsFirst(t *testing.T) {
	first, err := validConfig().Validate()
	require.NoError(t, err)

	store := NewStore(first)
	assert.Same(t, first, store.Load())

	next := validConfig()
	next.Version = "2"
	second, err := next.Validate()
	require.NoError(t, err)

	drained := false
	store.Swap(second, func() {
		drained = true
		// The old snapshot stays visible until the drain completes.
		assert.Same(t, first, store.Load())
	})
	assert.True(t, drained)
	assert.Same(t, second, store.Load())

	store.Swap(first, nil)
	assert.Same(t, first, store.Load())
}
