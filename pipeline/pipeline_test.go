package pipeline

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
)

func makeWindow(rate float64, values ...float64) daq.Window {
	samples := make([]daq.Sample, len(values))
	for i, v := range values {
		samples[i] = daq.Sample{
			ChannelID: "test.ch",
			Timestamp: int64(i) * int64(1e9/rate),
			Value:     v,
			Seq:       uint64(i + 1),
		}
	}
	return daq.Window{ChannelID: "test.ch", WindowID: 7, Samples: samples, Rate: rate}
}

// recordingStage tracks calls so fold order and reset behavior can be
// asserted.
type recordingStage struct {
	name    string
	calls   *[]string
	fail    error
	resets  int
	emitRes bool
	nanOut  bool
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) Process(_ context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	*s.calls = append(*s.calls, s.name)
	if s.fail != nil {
		return daq.Window{}, nil, s.fail
	}
	if s.nanOut {
		vals := w.Values()
		vals[0] = math.NaN()
		out, _ := w.WithValues(vals)
		return out, nil, nil
	}
	if s.emitRes {
		return w, &daq.Result{ChannelID: w.ChannelID, WindowID: w.WindowID, Kind: daq.KindFilteredSeries}, nil
	}
	return w, nil, nil
}

func (s *recordingStage) Reset() { s.resets++ }

func TestPipeline_FoldOrder(t *testing.T) {
	var calls []string
	p := New("test.ch", []Stage{
		&recordingStage{name: "first", calls: &calls, emitRes: true},
		&recordingStage{name: "second", calls: &calls},
		&recordingStage{name: "third", calls: &calls, emitRes: true},
	}, nil)

	results, err := p.Process(context.Background(), makeWindow(100, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.Len(t, results, 2)
}

func TestPipeline_StageErrorAbortsWindow(t *testing.T) {
	var calls []string
	failing := &recordingStage{name: "broken", calls: &calls, fail: fmt.Errorf("boom")}
	after := &recordingStage{name: "after", calls: &calls}
	before := &recordingStage{name: "before", calls: &calls}

	p := New("test.ch", []Stage{before, failing, after}, nil)

	results, err := p.Process(context.Background(), makeWindow(100, 1, 2, 3))
	require.Error(t, err)

	assert.Equal(t, []string{"before", "broken"}, calls, "stages after the failure must not run")
	assert.Equal(t, 1, failing.resets, "only the failing stage resets")
	assert.Equal(t, 0, before.resets)
	assert.Equal(t, 0, after.resets)

	require.NotEmpty(t, results)
	last := results[len(results)-1]
	assert.Equal(t, daq.KindStageError, last.Kind)
	failure, ok := last.Payload.(daq.StageFailure)
	require.True(t, ok)
	assert.Equal(t, "broken", failure.Stage)
	assert.Equal(t, uint64(7), last.WindowID)
}

func TestPipeline_NonFiniteOutputAborts(t *testing.T) {
	var calls []string
	bad := &recordingStage{name: "nan_producer", calls: &calls, nanOut: true}
	p := New("test.ch", []Stage{bad}, nil)

	_, err := p.Process(context.Background(), makeWindow(100, 1, 2, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNonFiniteOutput)
	assert.Equal(t, 1, bad.resets)
}

func TestPipeline_ContextCancellation(t *testing.T) {
	var calls []string
	p := New("test.ch", []Stage{&recordingStage{name: "s", calls: &calls}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, makeWindow(100, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestPipeline_Reset(t *testing.T) {
	var calls []string
	a := &recordingStage{name: "a", calls: &calls}
	b := &recordingStage{name: "b", calls: &calls}
	p := New("test.ch", []Stage{a, b}, nil)

	p.Reset()
	assert.Equal(t, 1, a.resets)
	assert.Equal(t, 1, b.resets)
}

func TestRegistry_BuiltinsRegistered(t *testing.T) {
	r := DefaultRegistry()
	assert.ElementsMatch(t,
		[]string{StageAnomaly, StageFilter, StageKalman, StageResample, StageSpectral},
		r.Types())
}

func TestRegistry_UnknownStage(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.New("nonexistent", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownStage)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	factory := func(map[string]any) (Stage, error) {
		return &recordingStage{name: "custom", calls: &[]string{}}, nil
	}

	require.NoError(t, r.Register("custom", factory))
	assert.Error(t, r.Register("custom", factory), "duplicate registration rejected")

	stage, err := r.New("custom", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", stage.Name())

	r.Unregister("custom")
	_, err = r.New("custom", nil)
	assert.Error(t, err)
}

func TestBuild_ChainFromSpecs(t *testing.T) {
	p, err := Build("test.ch", DefaultRegistry(), []StageSpec{
		{Type: StageFilter, Params: map[string]any{"cutoff_hz": 50.0}},
		{Type: StageSpectral, Params: nil},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}

func TestValidateStages(t *testing.T) {
	good := []StageSpec{
		{Type: StageFilter, Params: map[string]any{"cutoff_hz": 50.0, "order": 4}},
		{Type: StageSpectral},
	}
	assert.NoError(t, ValidateStages(nil, good, 1000, 1024))

	assert.Error(t, ValidateStages(nil, good, 1000, 1000),
		"spectral window must be a power of two")

	aboveNyquist := []StageSpec{
		{Type: StageFilter, Params: map[string]any{"cutoff_hz": 600.0}},
	}
	assert.Error(t, ValidateStages(nil, aboveNyquist, 1000, 1024),
		"filter design is checked at the channel's rate")

	unknown := []StageSpec{{Type: "mystery"}}
	assert.Error(t, ValidateStages(nil, unknown, 1000, 1024))
}

func TestBuild_BadSpecFails(t *testing.T) {
	_, err := Build("test.ch", DefaultRegistry(), []StageSpec{
		{Type: "missing", Params: nil},
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
