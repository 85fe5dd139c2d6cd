// Package pipeline implements per-channel processing chains over sample
// windows.
//
// A Pipeline is an ordered list of stages executed left to right. Each
// stage receives the previous stage's output window, may transform it,
// and may emit a Result (a spectrum, a filtered series, an anomaly
// event). A stage error or a NaN/Inf output aborts only the current
// window: the failing stage is reset, a StageError result is emitted,
// and the next window proceeds normally.
//
// Built-in stages:
//
//   - resample: linear-interpolation rate conversion
//   - filter:   Butterworth / Chebyshev-I biquad cascades with
//     construction-time stability validation
//   - kalman:   scalar Kalman level estimator
//   - spectral: windowed radix-2 FFT magnitude spectrum
//   - anomaly:  rolling z-score detector (pluggable via RegisterDetector)
//
// External stages register through Registry.Register and are treated
// identically to built-ins.
package pipeline
