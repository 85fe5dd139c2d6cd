package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/pipeline"
	"github.com/c360/daqstreams/ring"
)

// captureBus collects published results.
type captureBus struct {
	mu      sync.Mutex
	results []daq.Result
}

func (b *captureBus) Publish(r daq.Result) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
}

func (b *captureBus) snapshot() []daq.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]daq.Result, len(b.results))
	copy(out, b.results)
	return out
}

// tagStage emits one result per window so tests can observe dispatch order.
type tagStage struct{}

func (tagStage) Name() string { return "tag" }
func (tagStage) Reset()       {}

func (tagStage) Process(_ context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	return w, &daq.Result{
		ChannelID: w.ChannelID,
		WindowID:  w.WindowID,
		Kind:      daq.KindFilteredSeries,
		Payload:   daq.FilteredSeries{Values: w.Values(), Filter: "tag"},
		Timestamp: time.Now(),
	}, nil
}

// gateStage blocks each window until released or the context is canceled.
type gateStage struct {
	release chan struct{}
}

func (g *gateStage) Name() string { return "gate" }
func (g *gateStage) Reset()       {}

func (g *gateStage) Process(ctx context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	select {
	case <-ctx.Done():
		return w, nil, ctx.Err()
	case <-g.release:
		return w, nil, nil
	}
}

func fillWindows(t *testing.T, buf *ring.Buffer, startSeq uint64, count int) uint64 {
	t.Helper()
	for i := 0; i < count; i++ {
		seq := startSeq + uint64(i)
		require.True(t, buf.Push(daq.Sample{ChannelID: "ch", Value: float64(seq), Seq: seq}))
	}
	return startSeq + uint64(count)
}

func newTestScheduler(t *testing.T, stages []pipeline.Stage, deps Deps) (*Scheduler, *captureBus, *ring.Buffer) {
	t.Helper()

	buf, err := ring.New("ch", 64, ring.WithRate(100))
	require.NoError(t, err)

	deps.Bus = &captureBus{}
	deps.PollInterval = 2 * time.Millisecond
	deps.Channels = []ChannelSpec{{
		ID:         "ch",
		Ring:       buf,
		Pipeline:   pipeline.New("ch", stages, nil),
		WindowSize: 4,
		Overlap:    0,
	}}

	s, err := New(deps)
	require.NoError(t, err)
	return s, deps.Bus.(*captureBus), buf
}

func TestSchedulerProcessesWindowsInOrder(t *testing.T) {
	s, bus, buf := newTestScheduler(t, []pipeline.Stage{tagStage{}}, Deps{Workers: 4})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(time.Second)

	// Five full windows of four samples.
	fillWindows(t, buf, 1, 20)
	s.Notify()

	require.Eventually(t, func() bool {
		return len(bus.snapshot()) == 5
	}, 2*time.Second, 5*time.Millisecond)

	results := bus.snapshot()
	for i, r := range results {
		assert.Equal(t, uint64(i), r.WindowID)
		assert.Equal(t, daq.ChannelID("ch"), r.ChannelID)
		assert.Equal(t, daq.KindFilteredSeries, r.Kind)
	}
}

func TestSchedulerPendingBoundLeavesSamplesInRing(t *testing.T) {
	gate := &gateStage{release: make(chan struct{})}
	s, bus, buf := newTestScheduler(t, []pipeline.Stage{gate}, Deps{Workers: 1, MaxPending: 2})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(time.Second)

	// First window dispatches and blocks on the gate.
	fillWindows(t, buf, 1, 4)
	s.Notify()
	require.Eventually(t, func() bool {
		st, _ := s.ChannelState("ch")
		return st == StateDispatched
	}, 2*time.Second, 2*time.Millisecond)

	// Six more windows arrive while the first is stuck. The scheduler
	// pops only up to the pending bound; the rest stay in the ring.
	fillWindows(t, buf, 5, 24)
	require.Eventually(t, func() bool {
		return buf.Size() == 16
	}, 2*time.Second, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 16, buf.Size(), "samples past the bound stay buffered")

	close(gate.release)

	// Once the worker unblocks, every window drains: nothing was dropped.
	require.Eventually(t, func() bool {
		return s.PoolStats().Processed == 7
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 0, buf.Size())

	// The gate emits no results, so completion is checked via pool
	// counters and state.
	assert.Empty(t, bus.snapshot())
	st, _ := s.ChannelState("ch")
	assert.Equal(t, StateIdle, st)
}

func TestSchedulerCloseChannelCancelsInflight(t *testing.T) {
	gate := &gateStage{release: make(chan struct{})}
	defer close(gate.release)

	s, bus, buf := newTestScheduler(t, []pipeline.Stage{gate}, Deps{Workers: 1})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(time.Second)

	fillWindows(t, buf, 1, 4)
	s.Notify()
	require.Eventually(t, func() bool {
		st, _ := s.ChannelState("ch")
		return st == StateDispatched
	}, 2*time.Second, 2*time.Millisecond)

	s.CloseChannel("ch")

	// The in-flight window aborts at the stage boundary and reports a
	// stage error.
	require.Eventually(t, func() bool {
		return s.PoolStats().Failed == 1
	}, 2*time.Second, 2*time.Millisecond)

	results := bus.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, daq.KindStageError, results[0].Kind)

	// New samples no longer dispatch on the closed channel.
	fillWindows(t, buf, 5, 8)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), s.PoolStats().Processed)
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t, []pipeline.Stage{tagStage{}}, Deps{})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(time.Second))
	require.NoError(t, s.Stop(time.Second))
}

func TestSchedulerNewValidation(t *testing.T) {
	bus := &captureBus{}

	_, err := New(Deps{Bus: nil})
	require.Error(t, err)

	_, err = New(Deps{Bus: bus})
	require.Error(t, err, "no channels")

	buf, err := ring.New("ch", 8)
	require.NoError(t, err)

	_, err = New(Deps{Bus: bus, Channels: []ChannelSpec{
		{ID: "ch", Ring: buf, Pipeline: nil, WindowSize: 4},
	}})
	require.Error(t, err, "missing pipeline")

	p := pipeline.New("ch", nil, nil)
	_, err = New(Deps{Bus: bus, Channels: []ChannelSpec{
		{ID: "ch", Ring: buf, Pipeline: p, WindowSize: 4},
		{ID: "ch", Ring: buf, Pipeline: p, WindowSize: 4},
	}})
	require.Error(t, err, "duplicate channel")
}
