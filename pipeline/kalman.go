package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/daqstreams/daq"
)

// kalman is a scalar Kalman estimator tracking a slowly varying level
// through measurement noise. State persists across windows.
type kalman struct {
	processVar float64 // q
	measureVar float64 // r

	x      float64 // estimate
	p      float64 // estimate covariance
	primed bool
}

func newKalman(params map[string]any) (Stage, error) {
	q, err := paramFloat(params, "process_variance", 1e-5)
	if err != nil {
		return nil, err
	}
	r, err := paramFloat(params, "measurement_variance", 1e-2)
	if err != nil {
		return nil, err
	}
	if q <= 0 || r <= 0 {
		return nil, fmt.Errorf("parameters %q and %q must be positive", "process_variance", "measurement_variance")
	}
	return &kalman{processVar: q, measureVar: r}, nil
}

func (k *kalman) Name() string { return StageKalman }

func (k *kalman) Process(_ context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	if w.Len() == 0 {
		return w, nil, nil
	}

	vals := w.Values()
	for i, z := range vals {
		if !k.primed {
			k.x = z
			k.p = k.measureVar
			k.primed = true
			continue
		}
		k.p += k.processVar
		gain := k.p / (k.p + k.measureVar)
		k.x += gain * (z - k.x)
		k.p *= 1 - gain
		vals[i] = k.x
	}

	out, err := w.WithValues(vals)
	if err != nil {
		return daq.Window{}, nil, err
	}

	res := &daq.Result{
		ChannelID: w.ChannelID,
		WindowID:  w.WindowID,
		Kind:      daq.KindFilteredSeries,
		Payload: daq.FilteredSeries{
			Values: vals,
			Filter: StageKalman,
		},
		Timestamp: time.Now(),
	}
	return out, res, nil
}

func (k *kalman) Reset() {
	k.x, k.p = 0, 0
	k.primed = false
}
