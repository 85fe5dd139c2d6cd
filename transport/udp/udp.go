// Package udp provides a UDP transport adapter for network-attached
// sensor frontends that stream frames as datagrams. One datagram is one
// raw frame; the frame address is the remote endpoint, so the demuxer
// can map multiple frontends arriving on the same socket.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
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
const TransportName = "udp"

// Config holds configuration for the UDP transport adapter.
type Config struct {
	Bind        string `json:"bind" yaml:"bind"`                 // listen address, default 0.0.0.0
	Port        int    `json:"port" yaml:"port"`                 // listen port
	FrameBuffer int    `json:"frame_buffer" yaml:"frame_buffer"` // frame channel capacity
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	// 0 is allowed for OS auto-assignment
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", c.Port),
			"udp-transport", "Validate", "port validation")
	}
	if c.FrameBuffer < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative frame buffer %d", c.FrameBuffer),
			"udp-transport", "Validate", "frame buffer validation")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Bind == "" {
		out.Bind = "0.0.0.0"
	}
	if out.FrameBuffer == 0 {
		out.FrameBuffer = transport.DefaultFrameBuffer
	}
	return out
}

// Deps holds runtime dependencies for the UDP adapter.
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	OnDown          transport.DownCallback
}

// Transport implements a UDP listener emitting raw frames.
type Transport struct {
	name   string
	config Config
	logger *slog.Logger
	onDown transport.DownCallback

	frames      chan daq.RawFrame
	retryConfig retry.Config

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	conn      *net.UDPConn

	framesReceived atomic.Int64
	bytesReceived  atomic.Int64
	framesDropped  atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Value // time.Time

	metrics *Metrics
}

var _ transport.Adapter = (*Transport)(nil)

// New creates a UDP transport adapter.
func New(deps Deps) *Transport {
	cfg := deps.Config.withDefaults()

	name := deps.Name
	if name == "" {
		name = TransportName
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "udp-transport", "port", cfg.Port)

	t := &Transport{
		name:        name,
		config:      cfg,
		logger:      logger,
		onDown:      deps.OnDown,
		frames:      make(chan daq.RawFrame, cfg.FrameBuffer),
		retryConfig: retry.Reconnect(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, cfg.Port),
	}
	t.lastActivity.Store(time.Time{})
	return t
}


// Frames returns the raw frame channel.
func (t *Transport) Frames() <-chan daq.RawFrame {
	return t.frames
}

// LocalAddr returns the bound socket address, nil before Start.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Meta returns the component metadata.
func (t *Transport) Meta() component.Metadata {
	name := t.name
	if name == "" {
		name = fmt.Sprintf("udp-%d", t.config.Port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "transport",
		Description: fmt.Sprintf("UDP frame source on %s:%d", t.config.Bind, t.config.Port),
		Version:     "1.0.0",
	}
}

// InputPorts returns the socket port definition.
func (t *Transport) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "udp_socket",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("UDP socket listening on %s:%d", t.config.Bind, t.config.Port),
			Config: component.NetworkPort{
				Protocol: "udp",
				Host:     t.config.Bind,
				Port:     t.config.Port,
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
			"bind":         {Type: "string", Description: "Listen address", Default: "0.0.0.0"},
			"port":         {Type: "int", Description: "Listen port"},
			"frame_buffer": {Type: "int", Description: "Frame channel capacity", Default: transport.DefaultFrameBuffer},
		},
		Required: []string{"port"},
	}
}

// Health returns the current health status.
func (t *Transport) Health() component.HealthStatus {
	t.mu.RLock()
	connected := t.conn != nil
	t.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    t.running.Load() && connected,
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

// Start binds the socket (with retry) and begins the read loop.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil // already running, idempotent
	}

	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})

	if err := retry.Do(ctx, t.retryConfig, t.bindSocket); err != nil {
		return errors.WrapTransient(err, "udp-transport", "Start", "socket binding")
	}

	t.running.Store(true)
	t.startTime = time.Now()

	go func() {
		defer close(t.done)
		t.readLoop(ctx)
	}()

	return nil
}

func (t *Transport) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.config.Bind, t.config.Port))
	if err != nil {
		return fmt.Errorf("resolve UDP address %s:%d: %w", t.config.Bind, t.config.Port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on UDP port %d: %w", t.config.Port, err)
	}

	// Large OS buffer so short scheduler stalls do not drop datagrams.
	const socketBufferSize = 2 * 1024 * 1024
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		t.logger.Warn("could not set UDP buffer size",
			"buffer_size", socketBufferSize, "error", err)
	}

	t.conn = conn
	return nil
}

// Stop gracefully stops the listener and closes the frame channel.
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
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.mu.Unlock()

	select {
	case <-t.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udp-transport", "Stop", "graceful shutdown")
	}

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	close(t.frames)
	return nil
}

// readLoop reads datagrams and emits raw frames until shutdown.
func (t *Transport) readLoop(ctx context.Context) {
	buf := make([]byte, 65536)

	for t.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-t.shutdown:
			return
		default:
		}

		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}

		// Deadline so shutdown is observed even on a silent socket.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, remote, err := conn.ReadFromUDP(buf)
		captured := time.Now()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-t.shutdown:
				return
			default:
			}

			t.errorCount.Add(1)
			if t.metrics != nil {
				t.metrics.socketErrors.Inc()
			}

			if !t.reconnect(ctx) {
				return
			}
			continue
		}

		t.framesReceived.Add(1)
		t.bytesReceived.Add(int64(n))
		t.lastActivity.Store(captured)
		if t.metrics != nil {
			t.metrics.framesReceived.Inc()
			t.metrics.bytesReceived.Add(float64(n))
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		frame := daq.RawFrame{
			Transport: t.name,
			Address:   remote.String(),
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

// reconnect rebinds the socket after a read error. Returns false when
// the retry budget is exhausted; the adapter then reports down and exits
// its read loop.
func (t *Transport) reconnect(ctx context.Context) bool {
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	err := retry.Do(ctx, t.retryConfig, func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.bindSocket()
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

	t.logger.Info("socket rebound after read error")
	if t.metrics != nil {
		t.metrics.reconnects.Inc()
	}
	return true
}
