// Package engine assembles the acquisition pipeline from a validated
// configuration: transport adapters feeding the demuxer, per-channel
// ring buffers and pipelines, the scheduler, the health monitor and the
// result outputs. The engine owns startup order, shutdown order and the
// quiescent snapshot swap behind Reload.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/daqstreams/component"
	"github.com/c360/daqstreams/config"
	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/demux"
	"github.com/c360/daqstreams/errors"
	"github.com/c360/daqstreams/health"
	"github.com/c360/daqstreams/metric"
	natsout "github.com/c360/daqstreams/output/nats"
	wsout "github.com/c360/daqstreams/output/websocket"
	"github.com/c360/daqstreams/pipeline"
	"github.com/c360/daqstreams/resultbus"
	"github.com/c360/daqstreams/ring"
	"github.com/c360/daqstreams/scheduler"
	"github.com/c360/daqstreams/transport"
)

// Deps holds the engine's external dependencies.
type Deps struct {
	Config          *config.Config
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Engine wires and runs the full acquisition pipeline. Outputs and the
// result bus live for the engine's lifetime; the acquisition units are
// rebuilt on every Reload.
type Engine struct {
	store    *config.Store
	bus      *resultbus.Bus
	outputs  []component.LifecycleComponent
	registry *metric.MetricsRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	acq     *acquisition
	running atomic.Bool
	reloads atomic.Int64

	metrics *engineMetrics
}

// New validates the configuration and builds the engine. Nothing runs
// until Start.
func New(deps Deps) (*Engine, error) {
	if deps.Config == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil config"),
			"engine", "New", "dependency validation")
	}

	snap, err := deps.Config.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "engine", "New", "validate config")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	e := &Engine{
		store:    config.NewStore(snap),
		bus:      resultbus.New(resultbus.WithMetrics(deps.MetricsRegistry), resultbus.WithLogger(logger)),
		registry: deps.MetricsRegistry,
		logger:   logger,
		metrics:  newEngineMetrics(deps.MetricsRegistry),
	}

	if err := e.buildOutputs(deps.Config.Outputs); err != nil {
		return nil, err
	}

	acq, err := buildAcquisition(snap, deps.Config.Health, e.bus, e.registry, logger)
	if err != nil {
		return nil, err
	}
	e.acq = acq

	return e, nil
}

func (e *Engine) buildOutputs(cfg config.OutputsConfig) error {
	if cfg.NATS != nil {
		out, err := natsout.New(natsout.Deps{
			Config: natsout.Config{
				URL:           cfg.NATS.URL,
				SubjectPrefix: cfg.NATS.SubjectPrefix,
				Stream:        cfg.NATS.Stream,
			},
			Bus:             e.bus,
			MetricsRegistry: e.registry,
			Logger:          e.logger,
		})
		if err != nil {
			return errors.Wrap(err, "engine", "buildOutputs", "build nats output")
		}
		e.outputs = append(e.outputs, out)
	}
	if cfg.WebSocket != nil {
		out, err := wsout.New(wsout.Deps{
			Config: wsout.Config{
				Bind: cfg.WebSocket.Bind,
				Path: cfg.WebSocket.Path,
			},
			Bus:             e.bus,
			MetricsRegistry: e.registry,
			Logger:          e.logger,
		})
		if err != nil {
			return errors.Wrap(err, "engine", "buildOutputs", "build websocket output")
		}
		e.outputs = append(e.outputs, out)
	}
	return nil
}

// Start brings the pipeline up. Outputs first so no result is produced
// before its consumers exist, then the monitor and scheduler, adapters
// last so data starts flowing into a fully assembled pipeline.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.CompareAndSwap(false, true) {
		return nil
	}

	for _, out := range e.outputs {
		if err := out.Initialize(); err != nil {
			e.running.Store(false)
			return errors.Wrap(err, "engine", "Start", "initialize output")
		}
		if err := out.Start(ctx); err != nil {
			e.running.Store(false)
			return errors.Wrap(err, "engine", "Start", "start output")
		}
	}

	if err := e.acq.start(ctx); err != nil {
		e.running.Store(false)
		return err
	}

	snap := e.store.Load()
	e.logger.Info("engine started",
		"config_version", snap.Version(),
		"channels", len(snap.Channels()),
		"transports", len(snap.Transports()),
		"outputs", len(e.outputs))
	e.metrics.setRunning(true)
	return nil
}

// Stop tears the pipeline down in reverse order and closes the result
// bus. The engine cannot be restarted after Stop.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.CompareAndSwap(true, false) {
		return nil
	}

	var firstErr error
	if err := e.acq.stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	for i := len(e.outputs) - 1; i >= 0; i-- {
		if err := e.outputs[i].Stop(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.bus.Close()

	e.logger.Info("engine stopped")
	e.metrics.setRunning(false)
	return firstErr
}

// Reload validates the new configuration, drains the old acquisition
// units behind a quiescence barrier and builds fresh ones against the new
// snapshot: the old units are fully stopped, and their collectors
// released, before any replacement registers on the registry, so no
// window is ever processed under two different channel tables and no
// metric registration collides. Outputs and the result bus stay up across
// the swap. On validation failure the old units keep running untouched.
func (e *Engine) Reload(cfg *config.Config, timeout time.Duration) error {
	if cfg == nil {
		return errors.WrapInvalid(fmt.Errorf("nil config"),
			"engine", "Reload", "dependency validation")
	}

	snap, err := cfg.Validate()
	if err != nil {
		return errors.Wrap(err, "engine", "Reload", "validate config")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.acq
	e.store.Swap(snap, func() {
		if stopErr := old.stop(timeout); stopErr != nil {
			e.logger.Warn("drain of old units reported error", "error", stopErr)
		}
	})

	next, err := buildAcquisition(snap, cfg.Health, e.bus, e.registry, e.logger)
	if err != nil {
		return errors.Wrap(err, "engine", "Reload", "build acquisition units")
	}
	e.acq = next

	if e.running.Load() {
		if err := next.start(context.Background()); err != nil {
			return errors.Wrap(err, "engine", "Reload", "start new acquisition units")
		}
	}

	e.reloads.Add(1)
	e.metrics.incReload()
	e.logger.Info("configuration reloaded",
		"config_version", snap.Version(),
		"channels", len(snap.Channels()))
	return nil
}

// Snapshot returns the active configuration snapshot.
func (e *Engine) Snapshot() *config.Snapshot { return e.store.Load() }

// Bus returns the result bus for additional subscribers.
func (e *Engine) Bus() *resultbus.Bus { return e.bus }

// Health returns the current per-channel health records.
func (e *Engine) Health() []daq.HealthRecord {
	e.mu.Lock()
	acq := e.acq
	e.mu.Unlock()
	return acq.monitor.Records()
}

// Aggregate returns the worst channel state across the system.
func (e *Engine) Aggregate() daq.ChannelState {
	e.mu.Lock()
	acq := e.acq
	e.mu.Unlock()
	return acq.monitor.Aggregate()
}

// Adapter returns a transport adapter by declared name, for diagnostics.
func (e *Engine) Adapter(name string) (transport.Adapter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.acq.adapters[name]
	return a, ok
}

// Components returns the instance names of the active transport
// components, sorted.
func (e *Engine) Components() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acq.components.Instances()
}

// Reloads returns how many configuration reloads have been applied.
func (e *Engine) Reloads() int64 { return e.reloads.Load() }

// linkState tracks one transport's connectivity for the health probes.
// Adapters report down only after their reconnect budget is exhausted.
type linkState struct {
	up atomic.Bool
}

// acquisition bundles the units rebuilt on every snapshot swap.
type acquisition struct {
	rings      map[daq.ChannelID]*ring.Buffer
	dmx        *demux.Demux
	adapters   map[string]transport.Adapter
	links      map[string]*linkState
	components *component.Registry
	sched      *scheduler.Scheduler
	monitor    *health.Monitor
	logger     *slog.Logger

	pumps sync.WaitGroup
}

// wake forwards ring push signals to the scheduler. The scheduler field
// is assigned during build, before any adapter can push.
func (a *acquisition) wake() {
	if a.sched != nil {
		a.sched.Notify()
	}
}

func buildAcquisition(
	snap *config.Snapshot,
	healthCfg config.HealthConfig,
	bus *resultbus.Bus,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*acquisition, error) {
	a := &acquisition{
		rings:    make(map[daq.ChannelID]*ring.Buffer),
		adapters: make(map[string]transport.Adapter),
		links:    make(map[string]*linkState),
		logger:   logger,
	}

	stageRegistry := pipeline.DefaultRegistry()
	specs := make([]scheduler.ChannelSpec, 0, len(snap.Channels()))
	for _, ch := range snap.Channels() {
		buf, err := ring.New(ch.ChannelID, ch.RingCapacity,
			ring.WithPolicy(ringPolicy(ch.Policy())),
			ring.WithRate(ch.SampleRate),
			ring.WithMetrics(registry),
			ring.WithSignal(a.wake),
		)
		if err != nil {
			return nil, errors.Wrap(err, "engine", "buildAcquisition", "build ring buffer")
		}
		a.rings[ch.ChannelID] = buf

		pipe, err := pipeline.Build(ch.ChannelID, stageRegistry, ch.Stages, logger)
		if err != nil {
			return nil, errors.Wrap(err, "engine", "buildAcquisition", "build pipeline")
		}

		specs = append(specs, scheduler.ChannelSpec{
			ID:         ch.ChannelID,
			Ring:       buf,
			Pipeline:   pipe,
			WindowSize: ch.WindowSize,
			Overlap:    ch.WindowOverlap,
		})
	}

	dmx, err := demux.New(demux.Deps{
		Snapshot:        snap,
		Rings:           a.rings,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "engine", "buildAcquisition", "build demux")
	}
	a.dmx = dmx

	sched, err := scheduler.New(scheduler.Deps{
		Channels:        specs,
		Bus:             bus,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "engine", "buildAcquisition", "build scheduler")
	}
	a.sched = sched

	comps := component.NewRegistry()
	for _, tc := range snap.Transports() {
		link := &linkState{}
		link.up.Store(true)
		a.links[tc.Name] = link

		onDown := func(name string, downErr error) {
			link.up.Store(false)
			logger.Error("transport down", "transport", name, "error", downErr)
		}
		if err := registerTransport(comps, tc, onDown); err != nil {
			return nil, err
		}
		adapter, err := createAdapter(comps, tc, registry, logger)
		if err != nil {
			return nil, err
		}
		a.adapters[tc.Name] = adapter
	}
	a.components = comps

	hc, err := parseHealthConfig(healthCfg)
	if err != nil {
		return nil, err
	}
	probes := make([]health.Probe, 0, len(snap.Channels()))
	for _, ch := range snap.Channels() {
		id := ch.ChannelID
		link := a.links[ch.Transport]
		probes = append(probes, health.Probe{
			ChannelID: id,
			Ring:      a.rings[id],
			Errors:    func() int64 { return sched.ChannelErrors(id) },
			Connected: func() bool { return link.up.Load() },
		})
	}
	monitor, err := health.New(health.Deps{
		Probes:          probes,
		Bus:             bus,
		Config:          hc,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "engine", "buildAcquisition", "build health monitor")
	}
	a.monitor = monitor

	return a, nil
}

func (a *acquisition) start(ctx context.Context) error {
	if err := a.monitor.Start(ctx); err != nil {
		return errors.Wrap(err, "engine", "start", "start health monitor")
	}
	if err := a.sched.Start(ctx); err != nil {
		return errors.Wrap(err, "engine", "start", "start scheduler")
	}

	// Pumps drain each adapter's frame channel into the demuxer and exit
	// when the adapter closes it on Stop.
	for name, adapter := range a.adapters {
		frames := adapter.Frames()
		a.pumps.Add(1)
		go func(n string, ch <-chan daq.RawFrame) {
			defer a.pumps.Done()
			a.dmx.Consume(ch)
			a.logger.Debug("frame pump exited", "transport", n)
		}(name, frames)
	}

	for name, adapter := range a.adapters {
		if err := adapter.Initialize(); err != nil {
			return errors.Wrap(err, "engine", "start", "initialize transport "+name)
		}
		if err := adapter.Start(ctx); err != nil {
			return errors.Wrap(err, "engine", "start", "start transport "+name)
		}
	}
	return nil
}

// stop tears down in reverse: adapters first so the frame channels close
// and the pumps drain, then the scheduler finishes in-flight windows,
// then the monitor.
func (a *acquisition) stop(timeout time.Duration) error {
	var firstErr error
	for name, adapter := range a.adapters {
		if err := adapter.Stop(timeout); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "engine", "stop", "stop transport "+name)
		}
	}

	drained := make(chan struct{})
	go func() {
		a.pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(timeout):
		if firstErr == nil {
			firstErr = errors.WrapTransient(fmt.Errorf("frame pumps still running after %s", timeout),
				"engine", "stop", "drain frame pumps")
		}
	}

	if err := a.sched.Stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.monitor.Stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}

	// Closing the rings and demuxer releases their registered collectors,
	// so a rebuilt acquisition can register fresh ones on the same
	// registry without colliding.
	for _, buf := range a.rings {
		buf.Close()
	}
	a.dmx.Close()
	return firstErr
}

func ringPolicy(name string) ring.Policy {
	if name == config.PolicyOverwriteOldest {
		return ring.OverwriteOldest
	}
	return ring.RejectNewest
}

func parseHealthConfig(hc config.HealthConfig) (health.Config, error) {
	out := health.Config{
		DegradedDrops:  hc.DegradedDrops,
		DegradedErrors: hc.DegradedErrors,
	}
	var err error
	if out.PollInterval, err = parseDuration(hc.PollInterval, "health.poll_interval"); err != nil {
		return out, err
	}
	if out.StaleSampleAge, err = parseDuration(hc.StaleSampleAge, "health.stale_sample_age"); err != nil {
		return out, err
	}
	if out.RecoveryInterval, err = parseDuration(hc.RecoveryInterval, "health.recovery_interval"); err != nil {
		return out, err
	}
	return out, nil
}

// parseDuration treats the empty string as unset, leaving the monitor's
// defaults in force.
func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WrapInvalid(fmt.Errorf("%s: %w", field, err),
			"engine", "parseDuration", "parse duration")
	}
	return d, nil
}
