package daq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowValues(t *testing.T) {
	w := Window{
		ChannelID: "ch-1",
		WindowID:  3,
		Rate:      1000,
		Samples: []Sample{
			{ChannelID: "ch-1", Seq: 10, Value: 1.5},
			{ChannelID: "ch-1", Seq: 11, Value: -2.5},
		},
	}

	vals := w.Values()
	assert.Equal(t, []float64{1.5, -2.5}, vals)

	// Mutating the copy must not touch the window
	vals[0] = 99
	assert.Equal(t, 1.5, w.Samples[0].Value)
}

func TestWindowWithValues(t *testing.T) {
	w := Window{
		ChannelID: "ch-1",
		WindowID:  7,
		Rate:      500,
		Samples: []Sample{
			{Seq: 1, Value: 1, Timestamp: 100},
			{Seq: 2, Value: 2, Timestamp: 200},
		},
	}

	out, err := w.WithValues([]float64{10, 20})
	require.NoError(t, err)

	assert.Equal(t, w.ChannelID, out.ChannelID)
	assert.Equal(t, w.WindowID, out.WindowID)
	assert.Equal(t, 10.0, out.Samples[0].Value)
	assert.Equal(t, uint64(1), out.Samples[0].Seq, "metadata carries over")
	assert.Equal(t, int64(200), out.Samples[1].Timestamp)

	// Original untouched
	assert.Equal(t, 1.0, w.Samples[0].Value)

	_, err = w.WithValues([]float64{1})
	assert.Error(t, err, "length mismatch is rejected")
}

func TestChannelStateString(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown", ChannelState(42).String())
}

func TestCalibrationApply(t *testing.T) {
	c := Calibration{Scale: 2.0, Offset: -1.0}
	assert.Equal(t, 9.0, c.Apply(5.0))

	ident := DefaultCalibration()
	assert.Equal(t, 3.25, ident.Apply(3.25))
}
