// Package scheduler assembles windows from the channel rings and runs
// them through their pipelines on a bounded worker pool.
//
// Each channel moves through Idle, WindowReady and Dispatched states. At
// most one window per channel is in flight at a time and pending windows
// queue FIFO up to a small bound, so results for one channel always
// follow window order. Cross-channel ordering is not defined.
package scheduler

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
	"github.com/c360/daqstreams/pipeline"
	"github.com/c360/daqstreams/pkg/worker"
	"github.com/c360/daqstreams/ring"
)

// Publisher receives pipeline results. The result bus implements it.
type Publisher interface {
	Publish(daq.Result)
}

// State is a channel's position in the dispatch cycle. There is no
// distinct completed state: when a window finishes, the channel returns
// directly to StateIdle (or StateWindowReady when more windows are
// already queued).
type State int32

const (
	// StateIdle means no full window is buffered.
	StateIdle State = iota
	// StateWindowReady means at least one window is queued for dispatch.
	StateWindowReady
	// StateDispatched means a window is in flight on the worker pool.
	StateDispatched
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWindowReady:
		return "window_ready"
	case StateDispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// ChannelSpec binds one channel's ring and pipeline to the scheduler.
type ChannelSpec struct {
	ID         daq.ChannelID
	Ring       *ring.Buffer
	Pipeline   *pipeline.Pipeline
	WindowSize int
	Overlap    int
}

// Deps carries the scheduler's dependencies.
type Deps struct {
	Channels []ChannelSpec
	Bus      Publisher
	// Workers defaults to the CPU count, MaxPending to 2 windows per
	// channel, PollInterval to 10ms.
	Workers         int
	MaxPending      int
	PollInterval    time.Duration
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

const (
	defaultMaxPending   = 2
	defaultPollInterval = 10 * time.Millisecond
)

type channelRunner struct {
	spec     ChannelSpec
	pending  []daq.Window
	inflight bool
	closed   bool
	state    atomic.Int32
	errors   atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
}

func (r *channelRunner) setState(s State) { r.state.Store(int32(s)) }

type task struct {
	runner *channelRunner
	window daq.Window
}

// Scheduler owns the per-channel dispatch state machines.
type Scheduler struct {
	mu       sync.Mutex
	channels map[daq.ChannelID]*channelRunner
	order    []daq.ChannelID

	pool        *worker.Pool[task]
	bus         Publisher
	poll        time.Duration
	maxPending  int
	kick        chan struct{}
	completions chan daq.ChannelID
	shutdown    chan struct{}
	done        chan struct{}
	running     atomic.Bool
	logger      *slog.Logger
	metrics     *schedulerMetrics
}

// New creates a scheduler. Call Start to begin dispatching.
func New(deps Deps) (*Scheduler, error) {
	if deps.Bus == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil result bus"),
			"scheduler", "New", "dependency validation")
	}
	if len(deps.Channels) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no channels"),
			"scheduler", "New", "dependency validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxPending := deps.MaxPending
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	poll := deps.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	metrics, err := newSchedulerMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		channels:    make(map[daq.ChannelID]*channelRunner, len(deps.Channels)),
		bus:         deps.Bus,
		poll:        poll,
		maxPending:  maxPending,
		kick:        make(chan struct{}, 1),
		completions: make(chan daq.ChannelID, len(deps.Channels)),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.With("component", "scheduler"),
		metrics:     metrics,
	}

	for _, spec := range deps.Channels {
		if spec.Ring == nil || spec.Pipeline == nil {
			return nil, errors.WrapInvalid(fmt.Errorf("channel %q missing ring or pipeline", spec.ID),
				"scheduler", "New", "channel validation")
		}
		if _, dup := s.channels[spec.ID]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate channel %q", spec.ID),
				"scheduler", "New", "channel validation")
		}
		s.channels[spec.ID] = &channelRunner{spec: spec}
		s.order = append(s.order, spec.ID)
	}

	s.pool = worker.New(deps.Workers, len(deps.Channels), s.process,
		worker.WithMetrics[task](deps.MetricsRegistry, "scheduler"))

	return s, nil
}

// Notify wakes the dispatch loop. Safe to call from any goroutine and
// never blocks; wire it to each ring's push signal.
func (s *Scheduler) Notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start launches the worker pool and the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	for _, r := range s.channels {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	s.mu.Unlock()

	if err := s.pool.Start(ctx); err != nil {
		s.running.Store(false)
		return errors.Wrap(err, "scheduler", "Start", "start worker pool")
	}

	go s.run(ctx)
	s.logger.Info("scheduler started", "channels", len(s.order), "poll", s.poll.String())
	return nil
}

// Stop halts dispatching and drains the worker pool.
func (s *Scheduler) Stop(timeout time.Duration) error {
	// Collectors are released even when the scheduler never started, so
	// a rebuilt scheduler can register its own.
	defer s.metrics.unregister()

	if !s.running.CompareAndSwap(true, false) {
		return s.pool.Stop(timeout)
	}

	close(s.shutdown)
	select {
	case <-s.done:
	case <-time.After(timeout):
	}

	if err := s.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "scheduler", "Stop", "stop worker pool")
	}
	return nil
}

// CloseChannel cancels a channel's queued and in-flight windows. The
// in-flight pipeline aborts at its next stage boundary; the channel
// dispatches nothing afterwards.
func (s *Scheduler) CloseChannel(id daq.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.channels[id]
	if !ok || r.closed {
		return
	}
	r.closed = true
	r.pending = nil
	r.setState(StateIdle)
	if r.cancel != nil {
		r.cancel()
	}
	s.logger.Info("channel closed", "channel", string(id))
}

// ChannelState reports a channel's dispatch state.
func (s *Scheduler) ChannelState(id daq.ChannelID) (State, bool) {
	s.mu.Lock()
	r, ok := s.channels[id]
	s.mu.Unlock()
	if !ok {
		return StateIdle, false
	}
	return State(r.state.Load()), true
}

// ChannelErrors reports a channel's cumulative pipeline error count.
func (s *Scheduler) ChannelErrors(id daq.ChannelID) int64 {
	s.mu.Lock()
	r, ok := s.channels[id]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return r.errors.Load()
}

// PoolStats exposes the worker pool counters.
func (s *Scheduler) PoolStats() worker.Stats {
	return s.pool.Stats()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-s.kick:
		case <-ticker.C:
		case id := <-s.completions:
			s.complete(id)
		}
		s.pump()
	}
}

func (s *Scheduler) complete(id daq.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.channels[id]; ok {
		r.inflight = false
	}
}

// pump advances every channel's state machine: refill the pending queue
// from the ring up to the pending bound, then dispatch when the channel
// has no window in flight. Samples beyond the bound stay in the ring,
// where the ring's own overflow policy governs any loss.
func (s *Scheduler) pump() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		r := s.channels[id]
		if r.closed {
			continue
		}

		for len(r.pending) < s.maxPending {
			w, ok := r.spec.Ring.PopWindow(r.spec.WindowSize, r.spec.Overlap)
			if !ok {
				break
			}
			r.pending = append(r.pending, w)
		}

		if !r.inflight && len(r.pending) > 0 {
			w := r.pending[0]
			if err := s.pool.Submit(task{runner: r, window: w}); err != nil {
				// Queue full; the window stays pending for the next pass.
				s.metrics.incSubmitRetry(string(id))
			} else {
				r.pending = r.pending[1:]
				r.inflight = true
				s.metrics.incDispatch(string(id))
			}
		}

		switch {
		case r.inflight:
			r.setState(StateDispatched)
		case len(r.pending) > 0:
			r.setState(StateWindowReady)
		default:
			r.setState(StateIdle)
		}
	}
}

// process runs one window through its channel's pipeline and publishes
// the results. It executes on a worker goroutine; per-channel ordering
// holds because the run loop never has two windows of one channel in
// flight.
func (s *Scheduler) process(_ context.Context, t task) error {
	defer func() {
		s.completions <- t.runner.spec.ID
		s.Notify()
	}()

	started := time.Now()
	results, err := t.runner.spec.Pipeline.Process(t.runner.ctx, t.window)
	s.metrics.observeRun(string(t.runner.spec.ID), time.Since(started))
	for _, res := range results {
		if failure, ok := res.Payload.(daq.StageFailure); ok {
			s.metrics.incStageError(string(res.ChannelID), failure.Stage)
		}
		s.bus.Publish(res)
	}
	if err != nil {
		t.runner.errors.Add(1)
		s.metrics.incComplete(string(t.runner.spec.ID), "error")
		return err
	}
	s.metrics.incComplete(string(t.runner.spec.ID), "success")
	return nil
}
