package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
)

// Stage transforms one window of samples. Process returns the (possibly
// transformed) window, an optional Result to publish, and an error when
// the window cannot be processed. Stages keep per-channel state between
// windows; Reset discards that state, for example after a stage failure
// or a transport reconnect.
//
// A stage must not mutate the input window's sample slice; use
// Window.WithValues to produce a transformed copy.
type Stage interface {
	Name() string
	Process(ctx context.Context, w daq.Window) (daq.Window, *daq.Result, error)
	Reset()
}

// Factory builds a stage from its configuration parameters. Parameters
// arrive as decoded YAML/JSON values, so numbers may be int or float64.
type Factory func(params map[string]any) (Stage, error)

// Registry maps stage type names to factories. Built-in stages register
// through DefaultRegistry; plugin hosts may add their own, which behave
// identically to built-ins.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with all built-in stage types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// Registration of built-ins cannot fail: names are distinct literals.
	_ = r.Register(StageResample, newResampler)
	_ = r.Register(StageFilter, newFilter)
	_ = r.Register(StageKalman, newKalman)
	_ = r.Register(StageSpectral, newSpectral)
	_ = r.Register(StageAnomaly, newAnomaly)
	return r
}

// Built-in stage type names.
const (
	StageResample = "resample"
	StageFilter   = "filter"
	StageKalman   = "kalman"
	StageSpectral = "spectral"
	StageAnomaly  = "anomaly"
)

// Register adds a factory under the given type name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errors.WrapInvalid(fmt.Errorf("empty name or nil factory"),
			"pipeline", "Register", "validate stage registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("stage type %q already registered", name),
			"pipeline", "Register", "register stage factory")
	}
	r.factories[name] = factory
	return nil
}

// Unregister removes a stage type. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, name)
}

// New builds a stage of the given type.
func (r *Registry) New(name string, params map[string]any) (Stage, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownStage, name),
			"pipeline", "New", "look up stage factory")
	}

	stage, err := factory(params)
	if err != nil {
		return nil, errors.WrapInvalid(err, "pipeline", "New",
			fmt.Sprintf("build %q stage", name))
	}
	return stage, nil
}

// Types returns the registered stage type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
