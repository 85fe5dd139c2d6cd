package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
)

func sineWindow(rate, freq, amp float64, n int) daq.Window {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return makeWindow(rate, vals...)
}

func constantWindow(rate, level float64, n int) daq.Window {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = level
	}
	return makeWindow(rate, vals...)
}

func TestFilter_LowpassPassesDC(t *testing.T) {
	stage, err := newFilter(map[string]any{
		"design": "butterworth", "response": "lowpass",
		"cutoff_hz": 100.0, "order": 4,
	})
	require.NoError(t, err)

	out, res, err := stage.Process(context.Background(), constantWindow(1000, 1.0, 2048))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, daq.KindFilteredSeries, res.Kind)

	assert.InDelta(t, 1.0, out.Samples[out.Len()-1].Value, 0.01,
		"lowpass must pass a constant level at unity gain")
}

func TestFilter_LowpassAttenuatesHighFrequency(t *testing.T) {
	stage, err := newFilter(map[string]any{
		"design": "butterworth", "response": "lowpass",
		"cutoff_hz": 50.0, "order": 4,
	})
	require.NoError(t, err)

	// 400 Hz tone, three octaves above the 50 Hz cutoff.
	out, _, err := stage.Process(context.Background(), sineWindow(1000, 400, 1.0, 2048))
	require.NoError(t, err)

	var peak float64
	for _, s := range out.Samples[1024:] {
		if a := math.Abs(s.Value); a > peak {
			peak = a
		}
	}
	assert.Less(t, peak, 0.01, "tone far above cutoff must be strongly attenuated")
}

func TestFilter_HighpassRejectsDC(t *testing.T) {
	stage, err := newFilter(map[string]any{
		"design": "butterworth", "response": "highpass",
		"cutoff_hz": 100.0, "order": 2,
	})
	require.NoError(t, err)

	out, _, err := stage.Process(context.Background(), constantWindow(1000, 5.0, 2048))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Samples[out.Len()-1].Value, 0.01,
		"highpass must reject a constant level")
}

func TestFilter_ChebyshevLowpassPassesDC(t *testing.T) {
	stage, err := newFilter(map[string]any{
		"design": "chebyshev1", "response": "lowpass",
		"cutoff_hz": 100.0, "order": 4, "ripple_db": 1.0,
	})
	require.NoError(t, err)

	out, _, err := stage.Process(context.Background(), constantWindow(1000, 1.0, 4096))
	require.NoError(t, err)
	// Each section is normalized to unity DC gain.
	assert.InDelta(t, 1.0, out.Samples[out.Len()-1].Value, 0.02)
}

func TestFilter_StatePersistsAcrossWindows(t *testing.T) {
	stage, err := newFilter(map[string]any{"cutoff_hz": 10.0, "order": 2})
	require.NoError(t, err)

	// Warm the filter up on a level, then feed the same level again.
	// With persistent state the second window starts already settled.
	_, _, err = stage.Process(context.Background(), constantWindow(1000, 1.0, 2048))
	require.NoError(t, err)

	out, _, err := stage.Process(context.Background(), constantWindow(1000, 1.0, 64))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Samples[0].Value, 0.01,
		"settled state must carry across window boundaries")

	stage.Reset()
	out, _, err = stage.Process(context.Background(), constantWindow(1000, 1.0, 4))
	require.NoError(t, err)
	assert.Less(t, out.Samples[0].Value, 0.5,
		"after Reset the filter starts cold again")
}

func TestFilter_CutoffAboveNyquistRejected(t *testing.T) {
	stage, err := newFilter(map[string]any{"cutoff_hz": 600.0})
	require.NoError(t, err)

	_, _, err = stage.Process(context.Background(), constantWindow(1000, 1.0, 64))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFilter_ConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing cutoff", map[string]any{}},
		{"negative cutoff", map[string]any{"cutoff_hz": -5.0}},
		{"odd order", map[string]any{"cutoff_hz": 10.0, "order": 3}},
		{"order too high", map[string]any{"cutoff_hz": 10.0, "order": 10}},
		{"unknown design", map[string]any{"cutoff_hz": 10.0, "design": "elliptic"}},
		{"unknown response", map[string]any{"cutoff_hz": 10.0, "response": "bandstop"}},
		{"bad ripple", map[string]any{"cutoff_hz": 10.0, "design": "chebyshev1", "ripple_db": -1.0}},
		{"cutoff wrong type", map[string]any{"cutoff_hz": "fast"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFilter(tt.params)
			assert.Error(t, err)
		})
	}
}

func TestBiquad_StabilityTriangle(t *testing.T) {
	stable := biquad{a1: -1.1429, a2: 0.4128}
	assert.True(t, stable.stable())

	unstable := biquad{a1: 0, a2: 1.5}
	assert.False(t, unstable.stable())

	edge := biquad{a1: 2.0, a2: 1.0}
	assert.False(t, edge.stable())
}

func TestFilter_DesignedSectionsAreStable(t *testing.T) {
	for _, design := range []string{"butterworth", "chebyshev1"} {
		for _, response := range []string{"lowpass", "highpass"} {
			for _, order := range []int{2, 4, 6, 8} {
				stage, err := newFilter(map[string]any{
					"design": design, "response": response,
					"cutoff_hz": 120.0, "order": order,
				})
				require.NoError(t, err)

				f := stage.(*iirFilter)
				sections, err := f.designSections(1000)
				require.NoError(t, err, "%s/%s order %d", design, response, order)
				for i, sec := range sections {
					assert.True(t, sec.stable(),
						"%s/%s order %d section %d must be stable", design, response, order, i)
				}
			}
		}
	}
}
