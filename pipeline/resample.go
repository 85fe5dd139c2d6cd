package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/c360/daqstreams/daq"
)

// resampler converts a window to a target sample rate by linear
// interpolation. The conversion is deterministic: the same input window
// always yields the same output. Stateless between windows.
type resampler struct {
	targetRate float64
}

func newResampler(params map[string]any) (Stage, error) {
	rate, err := paramFloat(params, "target_rate", 0)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("parameter %q: must be a positive rate in Hz", "target_rate")
	}
	return &resampler{targetRate: rate}, nil
}

func (r *resampler) Name() string { return StageResample }

func (r *resampler) Process(_ context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	if w.Len() == 0 || w.Rate <= 0 || w.Rate == r.targetRate {
		return w, nil, nil
	}

	ratio := w.Rate / r.targetRate
	outLen := int(math.Floor(float64(w.Len()-1)/ratio)) + 1
	if outLen < 1 {
		outLen = 1
	}

	samples := make([]daq.Sample, outLen)
	for j := 0; j < outLen; j++ {
		pos := float64(j) * ratio
		i := int(pos)
		if i >= w.Len()-1 {
			samples[j] = w.Samples[w.Len()-1]
			samples[j].Seq = w.Samples[0].Seq + uint64(j)
			continue
		}
		frac := pos - float64(i)
		a, b := w.Samples[i], w.Samples[i+1]
		samples[j] = daq.Sample{
			ChannelID: w.ChannelID,
			Timestamp: a.Timestamp + int64(frac*float64(b.Timestamp-a.Timestamp)),
			Value:     a.Value + frac*(b.Value-a.Value),
			Seq:       w.Samples[0].Seq + uint64(j),
		}
	}

	return daq.Window{
		ChannelID: w.ChannelID,
		WindowID:  w.WindowID,
		Samples:   samples,
		Rate:      r.targetRate,
	}, nil, nil
}

func (r *resampler) Reset() {}
