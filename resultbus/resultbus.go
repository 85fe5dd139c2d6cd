// Package resultbus distributes pipeline results to in-process consumers.
//
// Delivery never blocks the publisher: each subscription has a bounded
// buffer and results beyond it are dropped newest-first and counted. The
// bus holds no consumer state other than the subscription channels; a
// slow or dead consumer only ever loses its own results.
package resultbus

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/metric"
)

// DefaultBufferSize is the per-subscription result buffer.
const DefaultBufferSize = 64

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("resultbus: bus closed")

// Subscription is one consumer's view of the bus. Receive from Results
// until it closes; calling Unsubscribe on the bus closes it.
type Subscription struct {
	id      string
	channel daq.ChannelID
	kinds   map[daq.ResultKind]struct{}
	results chan daq.Result
	dropped atomic.Uint64
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Dropped returns the number of results this subscriber lost to a full
// buffer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Results returns the delivery channel. It closes on Unsubscribe and on
// bus Close.
func (s *Subscription) Results() <-chan daq.Result { return s.results }

func (s *Subscription) matches(r daq.Result) bool {
	if s.channel != daq.Wildcard && s.channel != r.ChannelID {
		return false
	}
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[r.Kind]
	return ok
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscription buffer. Values below 1 keep
// the default.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n >= 1 {
			b.bufferSize = n
		}
	}
}

// WithMetrics enables Prometheus export of bus activity.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bus) {
		b.metrics = newBusMetrics(registry)
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bus fans results out to matching subscriptions.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	closed     bool
	bufferSize int
	logger     *slog.Logger
	metrics    *busMetrics
}

// New creates a result bus.
func New(options ...Option) *Bus {
	b := &Bus{
		subs:       make(map[string]*Subscription),
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}
	b.logger = b.logger.With("component", "resultbus")
	return b
}

// Subscribe registers a consumer for one channel (or daq.Wildcard for
// all) and an optional set of result kinds; no kinds means every kind.
func (b *Bus) Subscribe(channel daq.ChannelID, kinds ...daq.ResultKind) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		channel: channel,
		results: make(chan daq.Result, b.bufferSize),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[daq.ResultKind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.subs[sub.id] = sub
	b.metrics.setSubscribers(len(b.subs))
	b.logger.Debug("subscription added",
		"subscription_id", sub.id,
		"channel", string(channel),
		"kinds", len(kinds))
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel. Unknown ids
// are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.results)
	b.metrics.setSubscribers(len(b.subs))
}

// Publish delivers a result to every matching subscription. Never blocks;
// a full subscription buffer drops the result for that subscriber only.
func (b *Bus) Publish(r daq.Result) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.metrics.incPublished(string(r.Kind))
	for _, sub := range b.subs {
		if !sub.matches(r) {
			continue
		}
		select {
		case sub.results <- r:
			b.metrics.incDelivered(string(r.Kind))
		default:
			sub.dropped.Add(1)
			b.metrics.incDropped(string(r.Kind))
		}
	}
}

// Close shuts the bus down and closes every subscription channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.results)
	}
	b.metrics.setSubscribers(0)
}

// Subscribers returns the current subscription count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
