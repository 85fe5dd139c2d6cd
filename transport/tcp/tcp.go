// Package tcp provides a TCP transport adapter for stream-oriented
// sensor gateways. The adapter dials the gateway and reads
// length-delimited frames: a 4-byte big-endian payload length followed
// by the payload. A lost connection is redialed with exponential
// backoff; when the retry budget is exhausted the adapter reports down.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
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
const TransportName = "tcp"

// MaxFrameSize bounds a single length-delimited frame. A length prefix
// beyond this is treated as a framing error and forces a reconnect,
// since the stream position can no longer be trusted.
const MaxFrameSize = 1 << 20

// Config holds configuration for the TCP transport adapter.
type Config struct {
	Address     string `json:"address" yaml:"address"`           // host:port of the gateway
	FrameBuffer int    `json:"frame_buffer" yaml:"frame_buffer"` // frame channel capacity
	DialTimeout string `json:"dial_timeout" yaml:"dial_timeout"` // e.g. "5s"
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.WrapInvalid(fmt.Errorf("empty address"),
			"tcp-transport", "Validate", "address validation")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return errors.WrapInvalid(fmt.Errorf("address %q: %w", c.Address, err),
			"tcp-transport", "Validate", "address validation")
	}
	if c.DialTimeout != "" {
		if _, err := time.ParseDuration(c.DialTimeout); err != nil {
			return errors.WrapInvalid(fmt.Errorf("dial timeout %q: %w", c.DialTimeout, err),
				"tcp-transport", "Validate", "timeout validation")
		}
	}
	return nil
}

func (c *Config) dialTimeout() time.Duration {
	if c.DialTimeout == "" {
		return 5 * time.Second
	}
	d, _ := time.ParseDuration(c.DialTimeout)
	return d
}

// Deps holds runtime dependencies for the TCP adapter.
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	OnDown          transport.DownCallback
}

// Transport implements a dialing TCP frame source.
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
	conn      net.Conn

	framesReceived atomic.Int64
	bytesReceived  atomic.Int64
	framesDropped  atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Value // time.Time

	metrics *Metrics
}

var _ transport.Adapter = (*Transport)(nil)

// New creates a TCP transport adapter.
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
	logger = logger.With("component", "tcp-transport", "address", cfg.Address)

	t := &Transport{
		name:        name,
		config:      cfg,
		logger:      logger,
		onDown:      deps.OnDown,
		frames:      make(chan daq.RawFrame, cfg.FrameBuffer),
		retryConfig: retry.Reconnect(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, cfg.Address),
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
		name = "tcp-" + t.config.Address
	}
	return component.Metadata{
		Name:        name,
		Type:        "transport",
		Description: fmt.Sprintf("TCP frame source dialing %s", t.config.Address),
		Version:     "1.0.0",
	}
}

// InputPorts returns the gateway connection port definition.
func (t *Transport) InputPorts() []component.Port {
	host, portStr, _ := net.SplitHostPort(t.config.Address)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return []component.Port{
		{
			Name:        "tcp_stream",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("TCP stream from %s", t.config.Address),
			Config: component.NetworkPort{
				Protocol: "tcp",
				Host:     host,
				Port:     port,
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
			"address":      {Type: "string", Description: "Gateway address (host:port)"},
			"frame_buffer": {Type: "int", Description: "Frame channel capacity", Default: transport.DefaultFrameBuffer},
			"dial_timeout": {Type: "string", Description: "Dial timeout", Default: "5s"},
		},
		Required: []string{"address"},
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

// Start dials the gateway (with retry) and begins the read loop.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil // already running, idempotent
	}

	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})

	if err := retry.Do(ctx, t.retryConfig, t.dial); err != nil {
		return errors.WrapTransient(err, "tcp-transport", "Start", "gateway dial")
	}

	t.running.Store(true)
	t.startTime = time.Now()

	go func() {
		defer close(t.done)
		t.readLoop(ctx)
	}()

	return nil
}

func (t *Transport) dial() error {
	conn, err := net.DialTimeout("tcp", t.config.Address, t.config.dialTimeout())
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.config.Address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	t.conn = conn
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
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.mu.Unlock()

	select {
	case <-t.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"tcp-transport", "Stop", "graceful shutdown")
	}

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	close(t.frames)
	return nil
}

// readLoop reads length-delimited frames until shutdown.
func (t *Transport) readLoop(ctx context.Context) {
	for t.running.Load() {
		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}

		reader := bufio.NewReaderSize(conn, 64*1024)
		err := t.readFrames(ctx, conn, reader)
		if err == nil {
			return // clean shutdown
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
			t.metrics.streamErrors.Inc()
		}
		t.logger.Warn("stream error, reconnecting", "error", err)

		if !t.reconnect(ctx) {
			return
		}
	}
}

// readFrames consumes frames from one connection. Returns nil on clean
// shutdown, otherwise the stream error that needs a reconnect.
func (t *Transport) readFrames(ctx context.Context, conn net.Conn, reader *bufio.Reader) error {
	header := make([]byte, 4)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.shutdown:
			return nil
		default:
		}

		// Deadline so shutdown is observed on a silent stream.
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		if n, err := io.ReadFull(reader, header); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() && n == 0 {
				continue
			}
			// A timeout mid-header loses stream position; resync by
			// reconnecting like any other stream error.
			return fmt.Errorf("read frame header: %w", err)
		}

		length := binary.BigEndian.Uint32(header)
		if length == 0 || length > MaxFrameSize {
			return fmt.Errorf("%w: frame length %d", errors.ErrMalformedFrame, length)
		}

		payload := make([]byte, length)
		// The payload follows immediately; allow a generous deadline
		// relative to the polling interval.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := io.ReadFull(reader, payload); err != nil {
			return fmt.Errorf("read frame payload: %w", err)
		}
		captured := time.Now()

		t.framesReceived.Add(1)
		t.bytesReceived.Add(int64(len(payload)) + 4)
		t.lastActivity.Store(captured)
		if t.metrics != nil {
			t.metrics.framesReceived.Inc()
			t.metrics.bytesReceived.Add(float64(len(payload)) + 4)
		}

		frame := daq.RawFrame{
			Transport: t.name,
			Address:   t.config.Address,
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

// reconnect redials after a stream error. Returns false when the retry
// budget is exhausted.
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
		return t.dial()
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

	t.logger.Info("gateway redialed after stream error")
	if t.metrics != nil {
		t.metrics.reconnects.Inc()
	}
	return true
}
