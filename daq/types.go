// Package daq defines the core data model of the acquisition pipeline:
// raw frames, samples, windows, results, and channel descriptors.
package daq

import (
	"fmt"
	"time"
)

// ChannelID uniquely identifies one logical sensor channel for the lifetime
// of a configuration.
type ChannelID string

// Wildcard matches every channel in subscription filters.
const Wildcard ChannelID = "*"

// RawFrame is one unit of bytes produced by a transport adapter, stamped at
// the earliest possible capture point to bound timestamp jitter.
type RawFrame struct {
	Transport string    // adapter instance name, e.g. "udp-5100"
	Address   string    // transport-local source address (port, topic, device)
	Payload   []byte    // raw sensor bytes, encoding is transport-specific
	Captured  time.Time // hardware timestamp when available, else arrival time
}

// Sample is the canonical measurement unit. Immutable once produced; owned
// by the ring buffer until consumed.
type Sample struct {
	ChannelID ChannelID
	Timestamp int64 // monotonic, nanoseconds
	Value     float64
	Seq       uint64 // strictly increasing per channel
}

// Window is an ordered, fixed-size slice of samples for one channel. A
// window never spans a channel boundary and is consumed exactly once by the
// channel's pipeline.
type Window struct {
	ChannelID ChannelID
	WindowID  uint64 // strictly increasing per channel
	Samples   []Sample
	Rate      float64 // sampling rate the samples were acquired at, Hz
}

// Len returns the number of samples in the window.
func (w Window) Len() int { return len(w.Samples) }

// Values copies the sample values into a fresh float64 slice. Stages that
// transform values work on copies; the window's samples stay immutable.
func (w Window) Values() []float64 {
	vals := make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		vals[i] = s.Value
	}
	return vals
}

// WithValues returns a copy of the window with the given values replacing
// the sample values. Timestamps and sequence numbers carry over; the value
// slice must have the same length.
func (w Window) WithValues(vals []float64) (Window, error) {
	if len(vals) != len(w.Samples) {
		return Window{}, fmt.Errorf("value count %d does not match window length %d", len(vals), len(w.Samples))
	}
	out := Window{
		ChannelID: w.ChannelID,
		WindowID:  w.WindowID,
		Samples:   make([]Sample, len(w.Samples)),
		Rate:      w.Rate,
	}
	copy(out.Samples, w.Samples)
	for i := range out.Samples {
		out.Samples[i].Value = vals[i]
	}
	return out, nil
}

// ResultKind discriminates the payload union of a Result.
type ResultKind string

// Result kinds published on the result bus.
const (
	KindSpectrum       ResultKind = "spectrum"
	KindFilteredSeries ResultKind = "filtered_series"
	KindAnomalyEvent   ResultKind = "anomaly_event"
	KindStageError     ResultKind = "stage_error"
	KindHealthEvent    ResultKind = "health_event"
)

// Result is the unit published on the result bus after a pipeline run.
// Results for one channel follow window order; there is no cross-channel
// ordering guarantee.
type Result struct {
	ChannelID ChannelID  `json:"channel_id"`
	WindowID  uint64     `json:"window_id"`
	Kind      ResultKind `json:"kind"`
	Payload   any        `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

// Spectrum is the payload of a KindSpectrum result.
type Spectrum struct {
	BinHz      float64   `json:"bin_hz"`      // frequency resolution = rate / window size
	Magnitudes []float64 `json:"magnitudes"`  // one per bin up to Nyquist
	WindowFunc string    `json:"window_func"` // window function applied before the FFT
}

// FilteredSeries is the payload of a KindFilteredSeries result.
type FilteredSeries struct {
	Values []float64 `json:"values"`
	Filter string    `json:"filter"` // stage name that produced the series
}

// AnomalyEvent is the payload of a KindAnomalyEvent result.
type AnomalyEvent struct {
	Method    string  `json:"method"`
	Score     float64 `json:"score"`     // deviation in units of sigma
	Threshold float64 `json:"threshold"` // configured sensitivity
	SampleSeq uint64  `json:"sample_seq"`
	Value     float64 `json:"value"`
}

// StageFailure is the payload of a KindStageError result. The failure
// aborted one window for one channel; other channels are unaffected.
type StageFailure struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// ChannelState describes a channel's availability as observed by the
// health monitor.
type ChannelState int

const (
	// StateDisconnected means the transport gave up reconnecting; no data.
	StateDisconnected ChannelState = iota
	// StateDegraded means the channel is losing samples or erroring above
	// threshold but still producing.
	StateDegraded
	// StateActive means the channel is producing cleanly.
	StateActive
)

// String returns the lowercase state name.
func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDegraded:
		return "degraded"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// HealthEvent is the payload of a KindHealthEvent result, emitted on every
// channel state transition.
type HealthEvent struct {
	From   ChannelState `json:"from"`
	To     ChannelState `json:"to"`
	Reason string       `json:"reason"`
}

// Calibration converts raw transport values into engineering units.
type Calibration struct {
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

// Apply maps a raw value through the calibration. The zero value of
// Calibration is not the identity; use DefaultCalibration for that.
func (c Calibration) Apply(raw float64) float64 {
	return raw*c.Scale + c.Offset
}

// DefaultCalibration returns the identity calibration.
func DefaultCalibration() Calibration {
	return Calibration{Scale: 1.0, Offset: 0.0}
}

// HealthRecord is the per-channel health snapshot owned by the health
// monitor. Other components read copies only.
type HealthRecord struct {
	ChannelID       ChannelID     `json:"channel_id"`
	State           ChannelState  `json:"state"`
	BufferOccupancy float64       `json:"buffer_occupancy"` // 0..1
	DroppedSamples  int64         `json:"dropped_samples"`
	LastSampleAge   time.Duration `json:"last_sample_age"`
	ErrorCount      int64         `json:"error_count"`
}
