// Package websocket serves pipeline results to visualization clients
// over WebSocket. Every connected client receives every result its
// subscription matches; slow clients lose messages rather than slowing
// the bus.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/daqstreams/component"
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/resultbus"
)

const (
	defaultPath     = "/results"
	clientSendDepth = 64
	writeTimeout    = 5 * time.Second
	pingInterval    = 30 * time.Second
)

// Config holds configuration for the WebSocket output.
type Config struct {
	Bind string `json:"bind" yaml:"bind"` // listen address, host:port
	Path string `json:"path" yaml:"path"` // HTTP path, default /results
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return errors.WrapInvalid(fmt.Errorf("empty bind address"),
			"websocket-output", "Validate", "bind validation")
	}
	if _, _, err := net.SplitHostPort(c.Bind); err != nil {
		return errors.WrapInvalid(fmt.Errorf("bind %q: %w", c.Bind, err),
			"websocket-output", "Validate", "bind validation")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Path == "" {
		out.Path = defaultPath
	}
	return out
}

// Deps holds runtime dependencies for the WebSocket output.
type Deps struct {
	Name            string
	Config          Config
	Bus             *resultbus.Bus
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// close signals the write pump. The send channel is never closed so
// concurrent broadcasts can never hit a closed channel.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Output is a WebSocket fan-out server fed by the result bus.
type Output struct {
	name   string
	config Config
	bus    *resultbus.Bus
	logger *slog.Logger

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	clients   map[*client]struct{}
	clientsMu sync.Mutex

	sub         *resultbus.Subscription
	shutdown    chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
	running     atomic.Bool
	startTime   time.Time
	lifecycleMu sync.Mutex

	sent         atomic.Int64
	sentBytes    atomic.Int64
	dropped      atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time

	metrics *wsMetrics
}

var _ component.LifecycleComponent = (*Output)(nil)

// New creates a WebSocket output server.
func New(deps Deps) (*Output, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil result bus"),
			"websocket-output", "New", "dependency validation")
	}

	cfg := deps.Config.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := deps.Name
	if name == "" {
		name = "websocket-output"
	}

	o := &Output{
		name:   name,
		config: cfg,
		bus:    deps.Bus,
		logger: logger.With("component", "websocket-output"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Visualization dashboards connect cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		startTime: time.Now(),
		metrics:   newWSMetrics(deps.MetricsRegistry),
	}
	o.lastActivity.Store(time.Time{})
	return o, nil
}

// Initialize prepares the HTTP server.
func (o *Output) Initialize() error {
	mux := http.NewServeMux()
	mux.HandleFunc(o.config.Path, o.handleWS)
	o.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Start binds the listener and begins broadcasting.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running.CompareAndSwap(false, true) {
		return nil
	}
	if o.server == nil {
		o.running.Store(false)
		return errors.WrapInvalid(fmt.Errorf("not initialized"),
			"websocket-output", "Start", "lifecycle check")
	}

	ln, err := net.Listen("tcp", o.config.Bind)
	if err != nil {
		o.running.Store(false)
		return errors.WrapTransient(err, "websocket-output", "Start", "bind listener")
	}
	o.listener = ln

	sub, err := o.bus.Subscribe(daq.Wildcard)
	if err != nil {
		ln.Close()
		o.running.Store(false)
		return errors.Wrap(err, "websocket-output", "Start", "subscribe result bus")
	}
	o.sub = sub

	go func() {
		if err := o.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			o.logger.Error("server stopped", "error", err)
		}
	}()
	go o.broadcast(ctx)

	o.logger.Info("websocket output started",
		"addr", ln.Addr().String(),
		"path", o.config.Path)
	return nil
}

// Stop closes the server and all client connections.
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

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := o.server.Shutdown(ctx)

	o.clientsMu.Lock()
	for c := range o.clients {
		c.close()
		c.conn.Close()
		delete(o.clients, c)
	}
	o.clientsMu.Unlock()

	// Pump goroutines exit once connections close and done channels fire.
	waited := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(timeout):
	}

	if err != nil {
		return errors.Wrap(err, "websocket-output", "Stop", "shutdown server")
	}
	return nil
}

// Addr returns the bound listener address, empty before Start.
func (o *Output) Addr() string {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()
	if o.listener == nil {
		return ""
	}
	return o.listener.Addr().String()
}

// ClientCount returns the number of connected clients.
func (o *Output) ClientCount() int {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()
	return len(o.clients)
}

func (o *Output) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.errorCount.Add(1)
		o.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientSendDepth),
		done: make(chan struct{}),
	}

	o.clientsMu.Lock()
	o.clients[c] = struct{}{}
	count := len(o.clients)
	o.clientsMu.Unlock()
	o.metrics.setClients(count)
	o.logger.Debug("client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	o.wg.Add(2)
	go o.writePump(c)
	go o.readPump(c)
}

func (o *Output) removeClient(c *client) {
	o.clientsMu.Lock()
	_, present := o.clients[c]
	delete(o.clients, c)
	count := len(o.clients)
	o.clientsMu.Unlock()

	if present {
		c.close()
		c.conn.Close()
		o.metrics.setClients(count)
	}
}

// writePump serializes all writes to one connection.
func (o *Output) writePump(c *client) {
	defer o.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				o.errorCount.Add(1)
				o.removeClient(c)
				return
			}
			o.sent.Add(1)
			o.sentBytes.Add(int64(len(msg)))
			o.lastActivity.Store(time.Now())
			o.metrics.incSent(len(msg))
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.removeClient(c)
				return
			}
		}
	}
}

// readPump drains client frames so close and pong frames are processed.
func (o *Output) readPump(c *client) {
	defer o.wg.Done()
	defer o.removeClient(c)

	c.conn.SetReadLimit(1024)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (o *Output) broadcast(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.shutdown:
			return
		case r, ok := <-o.sub.Results():
			if !ok {
				return
			}
			data, err := json.Marshal(r)
			if err != nil {
				o.errorCount.Add(1)
				continue
			}

			o.clientsMu.Lock()
			targets := make([]*client, 0, len(o.clients))
			for c := range o.clients {
				targets = append(targets, c)
			}
			o.clientsMu.Unlock()

			for _, c := range targets {
				select {
				case c.send <- data:
				default:
					o.dropped.Add(1)
					o.metrics.incDropped()
				}
			}
		}
	}
}
