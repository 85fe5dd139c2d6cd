package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
)

// Window functions for spectral analysis.
const (
	windowHann    = "hann"
	windowHamming = "hamming"
	windowRect    = "rect"
)

// spectral computes a magnitude spectrum per window and emits it as a
// result. The window passes through unchanged so later stages see the
// time-domain samples.
type spectral struct {
	windowFunc string

	// cached per window length
	coeffs []float64
}

func newSpectral(params map[string]any) (Stage, error) {
	fn, err := paramString(params, "window", windowHann)
	if err != nil {
		return nil, err
	}
	switch fn {
	case windowHann, windowHamming, windowRect:
	default:
		return nil, fmt.Errorf("parameter %q: unknown window function %q", "window", fn)
	}
	return &spectral{windowFunc: fn}, nil
}

func (s *spectral) Name() string { return StageSpectral }

func (s *spectral) Process(_ context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	n := w.Len()
	if n == 0 {
		return w, nil, nil
	}
	if n&(n-1) != 0 {
		return daq.Window{}, nil, errors.WrapInvalid(
			fmt.Errorf("window length %d is not a power of two", n),
			"pipeline", "Process", "compute spectrum")
	}

	if len(s.coeffs) != n {
		s.coeffs = windowCoefficients(s.windowFunc, n)
	}

	re := make([]float64, n)
	im := make([]float64, n)
	for i, sample := range w.Samples {
		re[i] = sample.Value * s.coeffs[i]
	}

	fft(re, im)

	// One-sided magnitude spectrum up to and including Nyquist, scaled
	// by the coherent gain of the window function.
	gain := 0.0
	for _, c := range s.coeffs {
		gain += c
	}
	mags := make([]float64, n/2+1)
	for i := range mags {
		scale := 2.0
		if i == 0 || i == n/2 {
			scale = 1.0
		}
		mags[i] = scale * math.Hypot(re[i], im[i]) / gain
	}

	res := &daq.Result{
		ChannelID: w.ChannelID,
		WindowID:  w.WindowID,
		Kind:      daq.KindSpectrum,
		Payload: daq.Spectrum{
			BinHz:      w.Rate / float64(n),
			Magnitudes: mags,
			WindowFunc: s.windowFunc,
		},
		Timestamp: time.Now(),
	}
	return w, res, nil
}

func (s *spectral) Reset() {}

func windowCoefficients(fn string, n int) []float64 {
	coeffs := make([]float64, n)
	for i := range coeffs {
		switch fn {
		case windowHann:
			coeffs[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		case windowHamming:
			coeffs[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		default:
			coeffs[i] = 1
		}
	}
	return coeffs
}

// fft computes an in-place iterative radix-2 Cooley-Tukey transform.
// len(re) == len(im) and must be a power of two.
func fft(re, im []float64) {
	n := len(re)
	if n < 2 {
		return
	}

	// Bit-reversal permutation.
	shift := 64 - uint(bits.Len(uint(n-1)))
	for i := 0; i < n; i++ {
		j := int(bits.Reverse64(uint64(i)) >> shift)
		if j > i {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				angle := step * float64(k)
				wr, wi := math.Cos(angle), math.Sin(angle)

				i1 := start + k
				i2 := i1 + half
				tr := wr*re[i2] - wi*im[i2]
				ti := wr*im[i2] + wi*re[i2]
				re[i2] = re[i1] - tr
				im[i2] = im[i1] - ti
				re[i1] += tr
				im[i1] += ti
			}
		}
	}
}
