// Package serial provides a transport adapter for byte-framed device
// streams read from a local device node (USB-serial DAQ frontends,
// RS-485 converters).
//
// The adapter reads the device through os.File. Line settings (baud,
// parity) are expected to be configured on the node beforehand; the
// adapter owns only framing, reconnection and frame emission. See
// framing.go for the wire format.
package serial

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/daqstreams/component"
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/pkg/retry"
	"github.com/c360/daqstreams/transport"
)

// TransportName is the factory name for this adapter.
const TransportName = "serial"

// Config holds configuration for the serial transport adapter.
type Config struct {
	Path        string `json:"path" yaml:"path"`                 // device node, e.g. /dev/ttyUSB0
	Baud        int    `json:"baud" yaml:"baud"`                 // informational, node must be preconfigured
	FrameBuffer int    `json:"frame_buffer" yaml:"frame_buffer"` // frame channel capacity
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(fmt.Errorf("empty device path"),
			"serial-transport", "Validate", "path validation")
	}
	if c.Baud < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative baud %d", c.Baud),
			"serial-transport", "Validate", "baud validation")
	}
	return nil
}

// Deps holds runtime dependencies for the serial adapter.
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	OnDown          transport.DownCallback

	// OpenFunc overrides device opening, for tests that substitute a
	// pipe for the device node. Nil means open Config.Path.
	OpenFunc func() (*os.File, error)
}

// Transport implements a serial device frame source.
type Transport struct {
	name     string
	config   Config
	logger   *slog.Logger
	onDown   transport.DownCallback
	openFunc func() (*os.File, error)

	frames      chan daq.RawFrame
	retryConfig retry.Config
	decoder     decoder

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	file      *os.File

	framesReceived atomic.Int64
	bytesReceived  atomic.Int64
	framesDropped  atomic.Int64
	malformed      atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Value // time.Time

	metrics *Metrics
}

var _ transport.Adapter = (*Transport)(nil)

// New creates a serial transport adapter.
func New(deps Deps) *Transport {
	cfg := deps.Config
	if cfg.FrameBuffer == 0 {
		cfg.FrameBuffer = transport.DefaultFrameBuffer
	}

	name := deps.Name
	if name == "" {
		name = TransportName
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "serial-transport", "path", cfg.Path)

	openFunc := deps.OpenFunc
	if openFunc == nil {
		path := cfg.Path
		openFunc = func() (*os.File, error) {
			return os.OpenFile(path, os.O_RDONLY, 0)
		}
	}

	t := &Transport{
		name:        name,
		config:      cfg,
		logger:      logger,
		onDown:      deps.OnDown,
		openFunc:    openFunc,
		frames:      make(chan daq.RawFrame, cfg.FrameBuffer),
		retryConfig: retry.Reconnect(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, cfg.Path),
	}
	t.lastActivity.Store(time.Time{})
	return t
}


// Frames returns the raw frame channel.
func (t *Transport) Frames() <-chan daq.RawFrame {
	return t.frames
}

// Meta returns the component metadata.
func (t *Transport) Meta() component.Metadata {
	name := t.name
	if name == "" {
		name = "serial-" + t.config.Path
	}
	return component.Metadata{
		Name:        name,
		Type:        "transport",
		Description: fmt.Sprintf("Serial frame source reading %s", t.config.Path),
		Version:     "1.0.0",
	}
}

// InputPorts returns the device port definition.
func (t *Transport) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "device",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("Device node %s", t.config.Path),
			Config: component.DevicePort{
				Path: t.config.Path,
				Baud: t.config.Baud,
			},
		},
	}
}

// OutputPorts returns nothing; frames flow through the in-process channel.
func (t *Transport) OutputPorts() []component.Port { return nil }

// ConfigSchema returns the configuration schema.
func (t *Transport) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"path":         {Type: "string", Description: "Device node path"},
			"baud":         {Type: "int", Description: "Line speed the node is configured for"},
			"frame_buffer": {Type: "int", Description: "Frame channel capacity", Default: transport.DefaultFrameBuffer},
		},
		Required: []string{"path"},
	}
}

// Health returns the current health status.
func (t *Transport) Health() component.HealthStatus {
	t.mu.RLock()
	open := t.file != nil
	t.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    t.running.Load() && open,
		LastCheck:  time.Now(),
		ErrorCount: int(t.errorCount.Load()),
		Uptime:     time.Since(t.startTime),
	}
}

// DataFlow returns current throughput metrics.
func (t *Transport) DataFlow() component.FlowMetrics {
	frames := t.framesReceived.Load()
	bytes := t.bytesReceived.Load()
	errorCount := t.errorCount.Load()
	lastActivity, _ := t.lastActivity.Load().(time.Time)

	var framesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(t.startTime).Seconds(); uptime > 0 {
		framesPerSecond = float64(frames) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if frames > 0 {
		errorRate = float64(errorCount) / float64(frames)
	}

	return component.FlowMetrics{
		MessagesPerSecond: framesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the configuration but opens nothing.
func (t *Transport) Initialize() error {
	return t.config.Validate()
}

// Start opens the device (with retry) and begins the read loop.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil // already running, idempotent
	}

	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})

	if err := retry.Do(ctx, t.retryConfig, t.openDevice); err != nil {
		return errors.WrapTransient(err, "serial-transport", "Start", "device open")
	}

	t.running.Store(true)
	t.startTime = time.Now()

	go func() {
		defer close(t.done)
		t.readLoop(ctx)
	}()

	return nil
}

func (t *Transport) openDevice() error {
	f, err := t.openFunc()
	if err != nil {
		return fmt.Errorf("open device %s: %w", t.config.Path, err)
	}
	t.file = f
	return nil
}

// Stop gracefully stops the adapter and closes the frame channel.
func (t *Transport) Stop(timeout time.Duration) error {
	// Collectors are released even when the adapter never started, so a
	// rebuilt adapter for the same endpoint can register its own.
	defer t.metrics.unregister()

	if !t.running.Load() {
		return nil
	}
	t.running.Store(false)

	t.mu.Lock()
	if t.shutdown != nil {
		select {
		case <-t.shutdown:
		default:
			close(t.shutdown)
		}
	}
	// Closing the file unblocks the blocking Read.
	if t.file != nil {
		_ = t.file.Close()
	}
	t.mu.Unlock()

	select {
	case <-t.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"serial-transport", "Stop", "graceful shutdown")
	}

	t.mu.Lock()
	t.file = nil
	t.mu.Unlock()
	close(t.frames)
	return nil
}

// readLoop reads the device and emits decoded frames until shutdown.
func (t *Transport) readLoop(ctx context.Context) {
	buf := make([]byte, 4096)

	for t.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-t.shutdown:
			return
		default:
		}

		t.mu.RLock()
		file := t.file
		t.mu.RUnlock()
		if file == nil {
			return
		}

		n, err := file.Read(buf)
		captured := time.Now()
		if n > 0 {
			t.bytesReceived.Add(int64(n))
			if t.metrics != nil {
				t.metrics.bytesReceived.Add(float64(n))
			}
			t.emitFrames(buf[:n], captured)
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-t.shutdown:
				return
			default:
			}

			t.errorCount.Add(1)
			if t.metrics != nil {
				t.metrics.deviceErrors.Inc()
			}

			if !t.reconnect(ctx) {
				return
			}
		}
	}
}

func (t *Transport) emitFrames(data []byte, captured time.Time) {
	frames, malformed := t.decoder.Feed(data)
	if malformed > 0 {
		t.malformed.Add(int64(malformed))
		if t.metrics != nil {
			t.metrics.malformedFrames.Add(float64(malformed))
		}
	}

	for _, payload := range frames {
		t.framesReceived.Add(1)
		t.lastActivity.Store(captured)
		if t.metrics != nil {
			t.metrics.framesReceived.Inc()
		}

		frame := daq.RawFrame{
			Transport: t.name,
			Address:   t.config.Path,
			Payload:   payload,
			Captured:  captured,
		}

		select {
		case t.frames <- frame:
		default:
			t.framesDropped.Add(1)
			if t.metrics != nil {
				t.metrics.framesDropped.Inc()
			}
		}
	}
}

// reconnect reopens the device after a read error. Returns false when
// the retry budget is exhausted.
func (t *Transport) reconnect(ctx context.Context) bool {
	t.mu.Lock()
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
	t.mu.Unlock()
	t.decoder.Reset()

	err := retry.Do(ctx, t.retryConfig, func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.openDevice()
	})
	if err != nil {
		t.logger.Error("reconnect exhausted, transport down", "error", err)
		if t.metrics != nil {
			t.metrics.reconnects.Inc()
		}
		if t.onDown != nil {
			t.onDown(t.Meta().Name, err)
		}
		return false
	}

	t.logger.Info("device reopened after read error")
	if t.metrics != nil {
		t.metrics.reconnects.Inc()
	}
	return true
}
