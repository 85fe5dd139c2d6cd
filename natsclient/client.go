// Package natsclient wraps the NATS connection and JetStream handle used
// by the result forwarders.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/pkg/retry"
)

// ConnectionStatus is the client's view of the NATS link.
type ConnectionStatus int32

const (
	// StatusDisconnected means no connection has been established or it
	// was closed.
	StatusDisconnected ConnectionStatus = iota
	// StatusConnected means the link is up.
	StatusConnected
	// StatusReconnecting means the library is re-dialing after a drop.
	StatusReconnecting
)

// String returns the lowercase status name.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by publish operations before Connect.
var ErrNotConnected = stderrors.New("natsclient: not connected")

// Client manages one NATS connection and its JetStream context.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	onDisconnect func(error)
	onReconnect  func()

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	status atomic.Int32
	closed atomic.Bool
}

// NewClient creates a client. Call Connect before publishing.
func NewClient(url string, options ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty NATS url"),
			"natsclient", "NewClient", "config validation")
	}

	c := &Client{
		url:           url,
		name:          "daqstreams",
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "natsclient", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")
	return c, nil
}

// Connect dials the server and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(int32(StatusReconnecting))
			c.logger.Warn("nats disconnected", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.status.Store(int32(StatusConnected))
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(int32(StatusDisconnected))
		}),
	}

	var conn *nats.Conn
	err := retry.Do(ctx, retry.Reconnect(), func() error {
		var dialErr error
		conn, dialErr = nats.Connect(c.url, opts...)
		return dialErr
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Connect", "dial server")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "natsclient", "Connect", "initialize jetstream")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()
	c.status.Store(int32(StatusConnected))

	c.logger.Info("nats connected", "url", c.url)
	return nil
}

// EnsureStream creates or updates a JetStream stream covering the given
// subjects.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return ErrNotConnected
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "EnsureStream", "create stream")
	}
	return nil
}

// Publish sends a message through JetStream and waits for the ack.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return ErrNotConnected
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "natsclient", "Publish", "publish "+subject)
	}
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the link is up.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// URL returns the configured server URL.
func (c *Client) URL() string { return c.url }

// Close drains and closes the connection. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	c.status.Store(int32(StatusDisconnected))
	if conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()
	select {
	case err := <-done:
		if err != nil {
			conn.Close()
			return errors.Wrap(err, "natsclient", "Close", "drain connection")
		}
	case <-time.After(c.drainTimeout):
		conn.Close()
	}
	return nil
}
