// Package health tracks per-channel availability.
//
// The monitor owns all HealthRecords exclusively; other components read
// snapshot copies only. Channels move between Active, Degraded and
// Disconnected on a fixed poll interval, and every transition is
// published on the result bus as a health event.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/metric"
	"github.com/c360/daqstreams/ring"
)

// Publisher receives health events. The result bus implements it.
type Publisher interface {
	Publish(daq.Result)
}

// Probe exposes one channel's observables to the monitor. Counter
// functions return cumulative values; the monitor differences them per
// poll window.
type Probe struct {
	ChannelID daq.ChannelID
	Ring      *ring.Buffer
	// Errors returns the channel's cumulative pipeline error count.
	Errors func() int64
	// Connected reports the transport link state. Nil means always
	// connected.
	Connected func() bool
}

// Config tunes the transition thresholds.
type Config struct {
	// PollInterval defaults to 1s.
	PollInterval time.Duration
	// DegradedDrops and DegradedErrors are per-poll-window thresholds;
	// both default to 1.
	DegradedDrops  int64
	DegradedErrors int64
	// StaleSampleAge defaults to 5s.
	StaleSampleAge time.Duration
	// RecoveryInterval is how long a degraded channel must stay clean
	// before returning to Active. Defaults to 10s.
	RecoveryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.DegradedDrops <= 0 {
		c.DegradedDrops = 1
	}
	if c.DegradedErrors <= 0 {
		c.DegradedErrors = 1
	}
	if c.StaleSampleAge <= 0 {
		c.StaleSampleAge = 5 * time.Second
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 10 * time.Second
	}
	return c
}

// Deps carries the monitor's dependencies.
type Deps struct {
	Probes          []Probe
	Bus             Publisher
	Config          Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

type record struct {
	probe daq.ChannelID
	ring  *ring.Buffer
	errfn func() int64
	conn  func() bool

	state          daq.ChannelState
	since          time.Time
	baseDrops      int64
	baseErrors     int64
	cleanSince     time.Time
	disconnectedAt time.Time
	started        time.Time
	drops          int64
	errors         int64
	lastAge        time.Duration
	occupancy      float64
}

// Monitor polls channel probes and maintains the health records.
type Monitor struct {
	mu      sync.RWMutex
	records map[daq.ChannelID]*record
	order   []daq.ChannelID

	cfg      Config
	bus      Publisher
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	logger   *slog.Logger
	metrics  *healthMetrics
}

// New creates a monitor. Call Start to begin polling.
func New(deps Deps) (*Monitor, error) {
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil result bus"),
			"health", "New", "dependency validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newHealthMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		records:  make(map[daq.ChannelID]*record, len(deps.Probes)),
		cfg:      deps.Config.withDefaults(),
		bus:      deps.Bus,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.With("component", "health"),
		metrics:  metrics,
	}

	now := time.Now()
	for _, p := range deps.Probes {
		if p.ChannelID == "" || p.Ring == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("probe missing channel id or ring"),
				"health", "New", "probe validation")
		}
		if _, dup := m.records[p.ChannelID]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate probe %q", p.ChannelID),
				"health", "New", "probe validation")
		}
		m.records[p.ChannelID] = &record{
			probe:      p.ChannelID,
			ring:       p.Ring,
			errfn:      p.Errors,
			conn:       p.Connected,
			state:      daq.StateActive,
			since:      now,
			cleanSince: now,
			started:    now,
		}
		m.order = append(m.order, p.ChannelID)
		m.metrics.setState(string(p.ChannelID), daq.StateActive)
	}

	return m, nil
}

// Start launches the poll loop.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	go m.run(ctx)
	m.logger.Info("health monitor started",
		"channels", len(m.order),
		"poll", m.cfg.PollInterval.String())
	return nil
}

// Stop halts polling.
func (m *Monitor) Stop(timeout time.Duration) error {
	// Collectors are released even when the monitor never started, so a
	// rebuilt monitor can register its own.
	defer m.metrics.unregister()

	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	close(m.shutdown)
	select {
	case <-m.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("poll loop still running"),
			"health", "Stop", "wait for poll loop")
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.poll(time.Now())
		}
	}
}

// poll advances every channel's state machine once.
func (m *Monitor) poll(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		r := m.records[id]

		stats := r.ring.Stats().Snapshot()
		r.drops = stats.Drops
		r.occupancy = r.ring.Occupancy()
		if r.errfn != nil {
			r.errors = r.errfn()
		}

		lastPush := r.ring.LastPush()
		if lastPush.IsZero() {
			r.lastAge = now.Sub(r.started)
		} else {
			r.lastAge = now.Sub(lastPush)
		}

		newDrops := r.drops - r.baseDrops
		newErrors := r.errors - r.baseErrors
		r.baseDrops = r.drops
		r.baseErrors = r.errors
		if newDrops > 0 || newErrors > 0 {
			r.cleanSince = now
		}

		stale := r.lastAge > m.cfg.StaleSampleAge

		switch r.state {
		case daq.StateActive:
			switch {
			case newDrops >= m.cfg.DegradedDrops:
				m.transition(r, daq.StateDegraded, now,
					fmt.Sprintf("%d samples dropped in poll window", newDrops))
			case newErrors >= m.cfg.DegradedErrors:
				m.transition(r, daq.StateDegraded, now,
					fmt.Sprintf("%d pipeline errors in poll window", newErrors))
			case stale:
				m.transition(r, daq.StateDegraded, now,
					fmt.Sprintf("no samples for %s", r.lastAge.Round(time.Millisecond)))
			}
		case daq.StateDegraded:
			switch {
			case stale:
				r.disconnectedAt = now
				m.transition(r, daq.StateDisconnected, now,
					fmt.Sprintf("no samples for %s", r.lastAge.Round(time.Millisecond)))
			case !stale && now.Sub(r.cleanSince) >= m.cfg.RecoveryInterval:
				m.transition(r, daq.StateActive, now, "clean for recovery interval")
			}
		case daq.StateDisconnected:
			connected := r.conn == nil || r.conn()
			// Recovery needs the link back up and at least one sample
			// accepted after the disconnect.
			if connected && !lastPush.IsZero() && lastPush.After(r.disconnectedAt) {
				m.transition(r, daq.StateActive, now, "reconnected with fresh samples")
			}
		}
	}
}

// transition is called with the monitor lock held.
func (m *Monitor) transition(r *record, to daq.ChannelState, now time.Time, reason string) {
	from := r.state
	r.state = to
	r.since = now

	m.logger.Info("channel state changed",
		"channel", string(r.probe),
		"from", from.String(),
		"to", to.String(),
		"reason", reason)
	m.metrics.setState(string(r.probe), to)
	m.metrics.incTransition(string(r.probe), from.String(), to.String())

	m.bus.Publish(daq.Result{
		ChannelID: r.probe,
		Kind:      daq.KindHealthEvent,
		Payload: daq.HealthEvent{
			From:   from,
			To:     to,
			Reason: reason,
		},
		Timestamp: now,
	})
}

// Record returns a copy of one channel's health record.
func (m *Monitor) Record(id daq.ChannelID) (daq.HealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return daq.HealthRecord{}, false
	}
	return r.snapshot(), true
}

// Records returns copies of all health records in probe order.
func (m *Monitor) Records() []daq.HealthRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]daq.HealthRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].snapshot())
	}
	return out
}

// Aggregate returns the worst state across all channels. No channels
// means Active.
func (m *Monitor) Aggregate() daq.ChannelState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	worst := daq.StateActive
	for _, r := range m.records {
		if r.state < worst {
			worst = r.state
		}
	}
	return worst
}

func (r *record) snapshot() daq.HealthRecord {
	return daq.HealthRecord{
		ChannelID:       r.probe,
		State:           r.state,
		BufferOccupancy: r.occupancy,
		DroppedSamples:  r.drops,
		LastSampleAge:   r.lastAge,
		ErrorCount:      r.errors,
	}
}
