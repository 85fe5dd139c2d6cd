// Package mqtt provides a transport adapter for wireless sensors that
// publish measurement frames through an MQTT broker. Each received
// message becomes one raw frame addressed by its topic, so one broker
// session can feed many channels.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/daqstreams/component"
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/transport"
)

// TransportName is the factory name for this adapter.
const TransportName = "mqtt"

// Config holds configuration for the MQTT transport adapter.
type Config struct {
	Broker      string   `json:"broker" yaml:"broker"`     // e.g. tcp://broker:1883
	ClientID    string   `json:"client_id" yaml:"client_id"`
	Username    string   `json:"username" yaml:"username"`
	Password    string   `json:"password" yaml:"password"`
	Topics      []string `json:"topics" yaml:"topics"` // subscription filters
	QoS         int      `json:"qos" yaml:"qos"`
	FrameBuffer int      `json:"frame_buffer" yaml:"frame_buffer"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.WrapInvalid(fmt.Errorf("empty broker URL"),
			"mqtt-transport", "Validate", "broker validation")
	}
	if len(c.Topics) == 0 {
		return errors.WrapInvalid(fmt.Errorf("no topics configured"),
			"mqtt-transport", "Validate", "topic validation")
	}
	for _, topic := range c.Topics {
		if strings.TrimSpace(topic) == "" {
			return errors.WrapInvalid(fmt.Errorf("empty topic filter"),
				"mqtt-transport", "Validate", "topic validation")
		}
	}
	if c.QoS < 0 || c.QoS > 2 {
		return errors.WrapInvalid(fmt.Errorf("invalid QoS %d", c.QoS),
			"mqtt-transport", "Validate", "qos validation")
	}
	return nil
}

// Deps holds runtime dependencies for the MQTT adapter.
type Deps struct {
	Name            string
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	OnDown          transport.DownCallback
}

// Transport implements an MQTT subscriber frame source. Reconnection is
// delegated to the paho client's auto-reconnect with a connection-lost
// hook for logging and metrics.
type Transport struct {
	name   string
	config Config
	logger *slog.Logger
	onDown transport.DownCallback

	frames chan daq.RawFrame
	client pahomqtt.Client

	running   atomic.Bool
	stopOnce  sync.Once
	startTime time.Time
	mu        sync.RWMutex

	framesReceived atomic.Int64
	bytesReceived  atomic.Int64
	framesDropped  atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Value // time.Time

	metrics *Metrics
}

var _ transport.Adapter = (*Transport)(nil)

// New creates an MQTT transport adapter.
func New(deps Deps) *Transport {
	cfg := deps.Config
	if cfg.FrameBuffer == 0 {
		cfg.FrameBuffer = transport.DefaultFrameBuffer
	}

	name := deps.Name
	if name == "" {
		name = TransportName
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "daqstreams-" + name
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt-transport", "broker", cfg.Broker)

	t := &Transport{
		name:    name,
		config:  cfg,
		logger:  logger,
		onDown:  deps.OnDown,
		frames:  make(chan daq.RawFrame, cfg.FrameBuffer),
		metrics: newMetrics(deps.MetricsRegistry, cfg.Broker),
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
		name = "mqtt-" + t.config.Broker
	}
	return component.Metadata{
		Name:        name,
		Type:        "transport",
		Description: fmt.Sprintf("MQTT frame source on %s (%s)", t.config.Broker, strings.Join(t.config.Topics, ",")),
		Version:     "1.0.0",
	}
}

// InputPorts returns the broker session port definition.
func (t *Transport) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "broker_session",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("MQTT session to %s", t.config.Broker),
			Config: component.NetworkPort{
				Protocol: "mqtt",
				Host:     t.config.Broker,
				Port:     0,
			},
		},
	}
}

// OutputPorts returns nothing; frames flow through the in-process channel.
func (t *Transport) OutputPorts() []component.Port { return nil }

// ConfigSchema returns the configuration schema.
func (t *Transport) ConfigSchema() component.ConfigSchema {
	zero, two := 0, 2
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"broker":       {Type: "string", Description: "Broker URL, e.g. tcp://broker:1883"},
			"client_id":    {Type: "string", Description: "MQTT client identifier"},
			"username":     {Type: "string", Description: "Broker username"},
			"password":     {Type: "string", Description: "Broker password"},
			"topics":       {Type: "array", Description: "Topic filters to subscribe"},
			"qos":          {Type: "int", Description: "Subscription QoS", Default: 0, Minimum: &zero, Maximum: &two},
			"frame_buffer": {Type: "int", Description: "Frame channel capacity", Default: transport.DefaultFrameBuffer},
		},
		Required: []string{"broker", "topics"},
	}
}

// Health returns the current health status.
func (t *Transport) Health() component.HealthStatus {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	connected := client != nil && client.IsConnected()
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

// Initialize validates the configuration but connects nothing.
func (t *Transport) Initialize() error {
	return t.config.Validate()
}

// Start connects to the broker and subscribes the configured topics.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil // already running, idempotent
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(t.config.Broker)
	opts.SetClientID(t.config.ClientID)
	if t.config.Username != "" {
		opts.SetUsername(t.config.Username)
	}
	if t.config.Password != "" {
		opts.SetPassword(t.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.errorCount.Add(1)
		if t.metrics != nil {
			t.metrics.connectionLost.Inc()
		}
		t.logger.Warn("broker connection lost, auto-reconnect engaged", "error", err)
	})
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		// Resubscribe on every (re)connect since sessions are clean.
		if err := t.subscribe(client); err != nil {
			t.logger.Error("resubscribe failed", "error", err)
		}
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.WrapTransient(fmt.Errorf("connect to %s timed out", t.config.Broker),
			"mqtt-transport", "Start", "broker connect")
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "mqtt-transport", "Start", "broker connect")
	}

	t.client = client
	t.running.Store(true)
	t.startTime = time.Now()

	// Respect caller cancellation for the adapter's lifetime.
	go func() {
		<-ctx.Done()
		if t.running.Load() {
			_ = t.Stop(time.Second)
		}
	}()

	return nil
}

func (t *Transport) subscribe(client pahomqtt.Client) error {
	for _, topic := range t.config.Topics {
		token := client.Subscribe(topic, byte(t.config.QoS), t.onMessage)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
	}
	return nil
}

func (t *Transport) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	captured := time.Now()
	payload := msg.Payload()

	t.framesReceived.Add(1)
	t.bytesReceived.Add(int64(len(payload)))
	t.lastActivity.Store(captured)
	if t.metrics != nil {
		t.metrics.framesReceived.Inc()
		t.metrics.bytesReceived.Add(float64(len(payload)))
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	frame := daq.RawFrame{
		Transport: t.name,
		Address:   msg.Topic(),
		Payload:   data,
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

// Stop disconnects from the broker and closes the frame channel. Safe to
// call more than once; later calls are no-ops.
func (t *Transport) Stop(timeout time.Duration) error {
	// Collectors are released even when the adapter never started, so a
	// rebuilt adapter for the same endpoint can register its own.
	defer t.metrics.unregister()

	if !t.running.Load() {
		return nil
	}

	t.stopOnce.Do(func() {
		t.running.Store(false)

		t.mu.Lock()
		client := t.client
		t.client = nil
		t.mu.Unlock()

		if client != nil {
			quiesce := uint(timeout / time.Millisecond)
			if quiesce == 0 {
				quiesce = 250
			}
			// Disconnect flushes in-flight handlers, so no message
			// callback can race the channel close below.
			client.Disconnect(quiesce)
		}

		close(t.frames)
	})
	return nil
}
