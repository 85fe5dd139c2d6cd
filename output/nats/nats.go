// Package nats forwards pipeline results to JetStream for downstream
// consumers. It is a result bus subscriber; the acquisition core never
// references it.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/daqstreams/component"
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/natsclient"
	"github.com/c360/daqstreams/resultbus"
)

// Client is the JetStream surface the forwarder needs. *natsclient.Client
// implements it.
type Client interface {
	Connect(ctx context.Context) error
	EnsureStream(ctx context.Context, name string, subjects []string) error
	Publish(ctx context.Context, subject string, data []byte) error
	IsHealthy() bool
	Close() error
}

var _ Client = (*natsclient.Client)(nil)

// Config holds configuration for the JetStream forwarder.
type Config struct {
	URL           string `json:"url" yaml:"url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"` // default "daq"
	Stream        string `json:"stream" yaml:"stream"`                 // default "DAQ_RESULTS"
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(fmt.Errorf("empty NATS url"),
			"nats-output", "Validate", "url validation")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SubjectPrefix == "" {
		out.SubjectPrefix = "daq"
	}
	if out.Stream == "" {
		out.Stream = "DAQ_RESULTS"
	}
	return out
}

// Deps holds runtime dependencies for the forwarder.
type Deps struct {
	Name            string
	Config          Config
	Bus             *resultbus.Bus
	Client          Client // nil builds one from Config.URL
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Output subscribes to the result bus and publishes every result to a
// JetStream subject derived from channel and kind.
type Output struct {
	name   string
	config Config
	bus    *resultbus.Bus
	client Client
	logger *slog.Logger

	sub         *resultbus.Subscription
	shutdown    chan struct{}
	done        chan struct{}
	running     atomic.Bool
	startTime   time.Time
	lifecycleMu sync.Mutex

	published    atomic.Int64
	publishBytes atomic.Int64
	failures     atomic.Int64
	lastActivity atomic.Value // time.Time

	metrics *outputMetrics
}

var _ component.LifecycleComponent = (*Output)(nil)

// New creates a JetStream forwarder.
func New(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil result bus"),
			"nats-output", "New", "dependency validation")
	}

	cfg := deps.Config.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := deps.Name
	if name == "" {
		name = "nats-output"
	}

	o := &Output{
		name:      name,
		config:    cfg,
		bus:       deps.Bus,
		client:    deps.Client,
		logger:    logger.With("component", "nats-output"),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		startTime: time.Now(),
		metrics:   newOutputMetrics(deps.MetricsRegistry, "nats"),
	}
	o.lastActivity.Store(time.Time{})
	return o, nil
}

// Initialize builds the NATS client when none was injected.
func (o *Output) Initialize() error {
	if o.client != nil {
		return nil
	}
	client, err := natsclient.NewClient(o.config.URL,
		natsclient.WithName(o.name),
		natsclient.WithLogger(o.logger))
	if err != nil {
		return err
	}
	o.client = client
	return nil
}

// Start connects, ensures the stream and begins forwarding.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running.CompareAndSwap(false, true) {
		return nil
	}
	if o.client == nil {
		o.running.Store(false)
		return errors.WrapInvalid(fmt.Errorf("not initialized"),
			"nats-output", "Start", "lifecycle check")
	}

	if err := o.client.Connect(ctx); err != nil {
		o.running.Store(false)
		return err
	}
	if err := o.client.EnsureStream(ctx, o.config.Stream,
		[]string{o.config.SubjectPrefix + ".>"}); err != nil {
		o.running.Store(false)
		return err
	}

	sub, err := o.bus.Subscribe(daq.Wildcard)
	if err != nil {
		o.running.Store(false)
		return errors.Wrap(err, "nats-output", "Start", "subscribe result bus")
	}
	o.sub = sub

	go o.forward(ctx)
	o.logger.Info("nats output started",
		"stream", o.config.Stream,
		"prefix", o.config.SubjectPrefix)
	return nil
}

// Stop unsubscribes and closes the connection.
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running.CompareAndSwap(true, false) {
		return nil
	}

	close(o.shutdown)
	o.bus.Unsubscribe(o.sub.ID())
	select {
	case <-o.done:
	case <-time.After(timeout):
	}
	return o.client.Close()
}

func (o *Output) forward(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-o.shutdown:
			return
		case r, ok := <-o.sub.Results():
			if !ok {
				return
			}
			o.publish(ctx, r)
		}
	}
}

func (o *Output) publish(ctx context.Context, r daq.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		o.failures.Add(1)
		o.metrics.incFailure(string(r.Kind))
		o.logger.Warn("result marshal failed", "kind", string(r.Kind), "error", err)
		return
	}

	subject := o.subject(r)
	if err := o.client.Publish(ctx, subject, data); err != nil {
		o.failures.Add(1)
		o.metrics.incFailure(string(r.Kind))
		o.logger.Warn("publish failed", "subject", subject, "error", err)
		return
	}

	o.published.Add(1)
	o.publishBytes.Add(int64(len(data)))
	o.lastActivity.Store(time.Now())
	o.metrics.incPublished(string(r.Kind), len(data))
}

// subject maps a result onto prefix.results.<channel>.<kind>, with
// channel ids sanitized for the NATS subject grammar.
func (o *Output) subject(r daq.Result) string {
	return o.config.SubjectPrefix + ".results." + sanitizeToken(string(r.ChannelID)) + "." + string(r.Kind)
}

func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
