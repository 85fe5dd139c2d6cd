package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/c360/daqstreams/daq"
	"github.com/c360/daqstreams/errors"
)

// Filter designs supported by the filter stage.
const (
	designButterworth = "butterworth"
	designChebyshev   = "chebyshev1"
)

// Filter responses.
const (
	responseLowpass  = "lowpass"
	responseHighpass = "highpass"
)

// biquad is one second-order IIR section in direct form II transposed.
// Coefficients are normalized (a0 == 1).
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64 // delay state
}

func (s *biquad) process(x float64) float64 {
	y := s.b0*x + s.z1
	s.z1 = s.b1*x - s.a1*y + s.z2
	s.z2 = s.b2*x - s.a2*y
	return y
}

func (s *biquad) reset() {
	s.z1, s.z2 = 0, 0
}

// stable checks the coefficient stability triangle: |a2| < 1 and
// |a1| < 1 + a2 place both poles strictly inside the unit circle.
func (s *biquad) stable() bool {
	return math.Abs(s.a2) < 1 && math.Abs(s.a1) < 1+s.a2
}

// iirFilter runs a cascade of biquad sections over each window and emits
// the filtered series as a result. Section state persists across windows
// so the filter behaves as one continuous stream filter.
type iirFilter struct {
	design   string
	response string
	cutoff   float64 // Hz
	order    int
	rippleDB float64 // chebyshev passband ripple
	sections []biquad
	rate     float64 // rate the sections were designed for
}

func newFilter(params map[string]any) (Stage, error) {
	design, err := paramString(params, "design", designButterworth)
	if err != nil {
		return nil, err
	}
	response, err := paramString(params, "response", responseLowpass)
	if err != nil {
		return nil, err
	}
	cutoff, err := paramFloat(params, "cutoff_hz", 0)
	if err != nil {
		return nil, err
	}
	order, err := paramInt(params, "order", 2)
	if err != nil {
		return nil, err
	}
	ripple, err := paramFloat(params, "ripple_db", 1.0)
	if err != nil {
		return nil, err
	}

	if design != designButterworth && design != designChebyshev {
		return nil, fmt.Errorf("parameter %q: unknown design %q", "design", design)
	}
	if response != responseLowpass && response != responseHighpass {
		return nil, fmt.Errorf("parameter %q: unknown response %q", "response", response)
	}
	if cutoff <= 0 {
		return nil, fmt.Errorf("parameter %q: must be a positive frequency in Hz", "cutoff_hz")
	}
	if order < 2 || order > 8 || order%2 != 0 {
		return nil, fmt.Errorf("parameter %q: order must be even, between 2 and 8", "order")
	}
	if ripple <= 0 || ripple > 6 {
		return nil, fmt.Errorf("parameter %q: ripple must be in (0, 6] dB", "ripple_db")
	}

	return &iirFilter{
		design:   design,
		response: response,
		cutoff:   cutoff,
		order:    order,
		rippleDB: ripple,
	}, nil
}

func (f *iirFilter) Name() string { return StageFilter }

func (f *iirFilter) Process(_ context.Context, w daq.Window) (daq.Window, *daq.Result, error) {
	if w.Len() == 0 {
		return w, nil, nil
	}

	if f.sections == nil || f.rate != w.Rate {
		sections, err := f.designSections(w.Rate)
		if err != nil {
			return daq.Window{}, nil, err
		}
		f.sections = sections
		f.rate = w.Rate
	}

	vals := w.Values()
	for i, v := range vals {
		for s := range f.sections {
			v = f.sections[s].process(v)
		}
		vals[i] = v
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
			Filter: f.design + "_" + f.response,
		},
		Timestamp: time.Now(),
	}
	return out, res, nil
}

func (f *iirFilter) Reset() {
	for i := range f.sections {
		f.sections[i].reset()
	}
}

// designSections builds the biquad cascade for the given sample rate via
// analog prototype poles and the bilinear transform, then validates
// stability of every section.
func (f *iirFilter) designSections(rate float64) ([]biquad, error) {
	if rate <= 0 || f.cutoff >= rate/2 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("cutoff %.4g Hz not below nyquist of %.4g Hz rate", f.cutoff, rate),
			"pipeline", "Process", "design filter sections")
	}

	// Prewarped analog cutoff for the bilinear transform.
	warp := math.Tan(math.Pi * f.cutoff / rate)

	n := f.order
	sections := make([]biquad, 0, n/2)
	for k := 0; k < n/2; k++ {
		theta := math.Pi * float64(2*k+1) / float64(2*n)

		// Normalized analog prototype pole pair.
		var sigma, omega float64
		if f.isChebyshev() {
			eps := math.Sqrt(math.Pow(10, f.rippleDB/10) - 1)
			mu := math.Asinh(1/eps) / float64(n)
			sigma = -math.Sinh(mu) * math.Sin(theta)
			omega = math.Cosh(mu) * math.Cos(theta)
		} else {
			sigma = -math.Sin(theta)
			omega = math.Cos(theta)
		}

		if f.response == responseHighpass {
			// Lowpass-to-highpass transform: p -> 1/p.
			mag2 := sigma*sigma + omega*omega
			sigma, omega = sigma/mag2, -omega/mag2
		}

		// Scale to the prewarped cutoff. Pole pair gives the analog
		// denominator s^2 + a1s + a0.
		sigma *= warp
		omega *= warp
		a1 := -2 * sigma
		a0 := sigma*sigma + omega*omega

		sec := bilinear(a1, a0, f.response)
		if !sec.stable() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: section %d pole outside unit circle", errors.ErrUnstableFilter, k),
				"pipeline", "Process", "validate filter stability")
		}
		sections = append(sections, sec)
	}

	return sections, nil
}

func (f *iirFilter) isChebyshev() bool {
	return f.design == designChebyshev
}

// bilinear maps the analog section a0/(s^2+a1*s+a0) (lowpass, zeros at
// infinity) or s^2/(s^2+a1*s+a0) (highpass, zeros at DC) to a digital
// biquad with s = (1-z^-1)/(1+z^-1). Lowpass sections are normalized to
// unity DC gain, highpass to unity Nyquist gain.
func bilinear(a1, a0 float64, response string) biquad {
	d0 := 1 + a1 + a0
	d1 := -2 + 2*a0
	d2 := 1 - a1 + a0

	var b0, b1, b2 float64
	if response == responseHighpass {
		b0, b1, b2 = 1, -2, 1
	} else {
		b0, b1, b2 = a0, 2*a0, a0
	}

	return biquad{
		b0: b0 / d0,
		b1: b1 / d0,
		b2: b2 / d0,
		a1: d1 / d0,
		a2: d2 / d0,
	}
}
