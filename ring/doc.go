// Package ring implements fixed-capacity per-channel sample buffers with
// windowed extraction.
//
// Each acquisition channel owns one Buffer. The demuxer pushes samples on
// the transport adapter goroutine; the scheduler pops fixed-size windows
// with configurable overlap on its own goroutine. Push never blocks: when
// the buffer is full the configured Policy decides whether the incoming
// sample or the oldest buffered sample is dropped, and every drop is
// counted in the buffer's Statistics (and, when enabled, exported as
// Prometheus metrics).
//
// Ordering guarantees: samples come out in the order they went in, window
// IDs strictly increase per channel, and a sample whose sequence number
// does not advance past the previous accepted one is rejected.
package ring
