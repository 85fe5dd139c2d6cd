package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/c360/daqstreams/daq"
)

// Detector scores individual samples for anomaly detection. Implementations
// keep rolling state; Observe returns the score for the sample and whether
// it crossed the detector's threshold.
type Detector interface {
	Method() string
	Observe(value float64) (score float64, anomalous bool)
	Reset()
}

// DetectorFactory builds a detector from stage parameters.
type DetectorFactory func(params map[string]any) (Detector, error)

var (
	detectorMu        sync.RWMutex
	detectorFactories = map[string]DetectorFactory{
		"zscore": newZScoreDetector,
	}
)

// RegisterDetector adds an anomaly detection method usable via the
// anomaly stage's "method" parameter. Registered methods are treated
// identically to the built-in z-score detector.
func RegisterDetector(method string, factory DetectorFactory) error {
	if method == "" || factory == nil {
		return fmt.Errorf("empty method or nil factory")
	}

	detectorMu.Lock()
	defer detectorMu.Unlock()

	if _, exists := detectorFactories[method]; exists {
		return fmt.Errorf("detector method %q already registered", method)
	}
	detectorFactories[method] = factory
	return nil
}

// anomaly flags samples whose detector score crosses the threshold. One
// result is emitted per window carrying the strongest exceedance.
type anomaly struct {
	detector  Detector
	threshold float64
}

func newAnomaly(params map[string]any) (Stage, error) {
	method, err := paramString(params, "method", "zscore")
	if err != nil {
		return nil, err
	}

	detectorMu.RLock()
	factory, ok := detectorFactories[method]
	detectorMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("parameter %q: unknown detection method %q", "method", method)
	}

	detector, err := factory(params)
	if err != nil {
		return nil, err
	}

	threshold, err := paramFloat(params, "threshold", 3.0)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("parameter %q: must be positive", "threshold")
	}

	return &anomaly{detector: detector, threshold: threshold}, nil
}

func (a *anomaly) Name() string { return StageAnomaly }

func (a *anomaly) Process(_ context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	var (
		best    daq.Sample
		bestAbs float64
		score   float64
		found   bool
	)

	for _, s := range w.Samples {
		sc, anomalous := a.detector.Observe(s.Value)
		if !anomalous {
			continue
		}
		if abs := math.Abs(sc); abs > bestAbs {
			best, bestAbs, score = s, abs, sc
			found = true
		}
	}

	if !found {
		return w, nil, nil
	}

	res := &daq.Result{
		ChannelID: w.ChannelID,
		WindowID:  w.WindowID,
		Kind:      daq.KindAnomalyEvent,
		Payload: daq.AnomalyEvent{
			Method:    a.detector.Method(),
			Score:     score,
			Threshold: a.threshold,
			SampleSeq: best.Seq,
			Value:     best.Value,
		},
		Timestamp: time.Now(),
	}
	return w, res, nil
}

func (a *anomaly) Reset() {
	a.detector.Reset()
}

// zscoreDetector keeps a rolling mean and variance (Welford's algorithm)
// and scores each sample in units of standard deviation. It reports no
// anomalies until the warmup count is reached.
type zscoreDetector struct {
	threshold float64
	warmup    int

	count int
	mean  float64
	m2    float64
}

func newZScoreDetector(params map[string]any) (Detector, error) {
	threshold, err := paramFloat(params, "threshold", 3.0)
	if err != nil {
		return nil, err
	}
	warmup, err := paramInt(params, "warmup", 64)
	if err != nil {
		return nil, err
	}
	if warmup < 2 {
		return nil, fmt.Errorf("parameter %q: need at least 2 samples", "warmup")
	}
	return &zscoreDetector{threshold: threshold, warmup: warmup}, nil
}

func (d *zscoreDetector) Method() string { return "zscore" }

func (d *zscoreDetector) Observe(value float64) (float64, bool) {
	var score float64
	if d.count >= d.warmup {
		variance := d.m2 / float64(d.count-1)
		if std := math.Sqrt(variance); std > 0 {
			score = (value - d.mean) / std
		}
	}

	// The observed value joins the rolling statistics regardless of its
	// score, so a sustained level shift stops alarming once absorbed.
	d.count++
	delta := value - d.mean
	d.mean += delta / float64(d.count)
	d.m2 += delta * (value - d.mean)

	return score, math.Abs(score) >= d.threshold
}

func (d *zscoreDetector) Reset() {
	d.count = 0
	d.mean = 0
	d.m2 = 0
}
