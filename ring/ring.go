// Package ring provides the per-channel sample ring buffer sitting between
// the demuxer (single producer) and the scheduler (single consumer).
package ring

import (
	"sync"
	"time"

	"github.com/c360/daqstreams/daq"
)

// Policy defines how Push behaves when the buffer is full.
type Policy int

const (
	// RejectNewest drops the incoming sample, preserving causal order of
	// what is already buffered. This is the default.
	RejectNewest Policy = iota
	// OverwriteOldest evicts the oldest sample to make room.
	OverwriteOldest
)

// String returns a human-readable policy name.
func (p Policy) String() string {
	switch p {
	case RejectNewest:
		return "reject_newest"
	case OverwriteOldest:
		return "overwrite_oldest"
	default:
		return "unknown"
	}
}

// Buffer is a fixed-capacity circular buffer of samples for one channel.
// Capacity is fixed at creation and never resized while active. Push runs
// on the adapter goroutine and never blocks; PopWindow runs on the
// scheduler goroutine. All operations are safe for that single-producer/
// single-consumer pairing (and, via the mutex, for any other caller).
type Buffer struct {
	mu       sync.Mutex
	items    []daq.Sample
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position

	policy     Policy
	rate       float64
	signal     func()
	stats      *Statistics
	metrics    *ringMetrics // optional Prometheus export
	lastSeq    uint64
	haveSeq    bool
	nextWindow uint64
	lastPush   time.Time
	closed     bool
}

// New creates a ring buffer for one channel. Capacity must be positive;
// values below 1 are clamped.
func New(channelID daq.ChannelID, capacity int, options ...Option) (*Buffer, error) {
	if capacity <= 0 {
		capacity = 1
	}

	opts := applyOptions(options...)

	var metrics *ringMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, string(channelID))
		if err != nil {
			return nil, err
		}
	}

	return &Buffer{
		items:    make([]daq.Sample, capacity),
		capacity: capacity,
		policy:   opts.policy,
		rate:     opts.rate,
		signal:   opts.signal,
		stats:    NewStatistics(),
		metrics:  metrics,
	}, nil
}

// Push adds a sample. It never blocks. Returns false when the sample was
// dropped: buffer full under RejectNewest, sequence regression, or buffer
// closed. Every drop is counted; nothing is discarded silently.
func (b *Buffer) Push(s daq.Sample) bool {
	if !b.push(s) {
		return false
	}
	// Signal with the buffer unlocked so the consumer may call back in.
	if b.signal != nil {
		b.signal()
	}
	return true
}

func (b *Buffer) push(s daq.Sample) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	// Per-channel sequence numbers strictly increase. A regression means
	// the producer restarted or frames arrived reordered; either way the
	// sample cannot be placed without breaking window ordering.
	if b.haveSeq && s.Seq <= b.lastSeq {
		b.stats.Drop()
		if b.metrics != nil {
			b.metrics.recordDrop("sequence")
		}
		return false
	}

	if b.size == b.capacity {
		switch b.policy {
		case OverwriteOldest:
			b.tail = (b.tail + 1) % b.capacity
			b.size--
			b.stats.Overflow()
			b.stats.Drop()
			if b.metrics != nil {
				b.metrics.recordDrop("overflow")
			}
		default: // RejectNewest
			b.stats.Overflow()
			b.stats.Drop()
			if b.metrics != nil {
				b.metrics.recordDrop("overflow")
			}
			return false
		}
	}

	b.items[b.head] = s
	b.head = (b.head + 1) % b.capacity
	b.size++
	b.lastSeq = s.Seq
	b.haveSeq = true
	b.lastPush = time.Now()

	b.stats.Write()
	b.stats.UpdateSize(int64(b.size))
	if b.metrics != nil {
		b.metrics.recordWrite(b.size, b.capacity)
	}

	return true
}

// PopWindow extracts the next window of the given size, retaining overlap
// samples for the following window. Non-blocking: returns false when fewer
// than size samples are buffered. Window IDs strictly increase.
//
// With overlap o, consecutive windows share their trailing o samples, so
// the read position advances by size-o per window.
func (b *Buffer) PopWindow(size, overlap int) (daq.Window, bool) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return daq.Window{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.size < size {
		return daq.Window{}, false
	}

	samples := make([]daq.Sample, size)
	for i := 0; i < size; i++ {
		samples[i] = b.items[(b.tail+i)%b.capacity]
	}

	advance := size - overlap
	b.tail = (b.tail + advance) % b.capacity
	b.size -= advance

	w := daq.Window{
		ChannelID: samples[0].ChannelID,
		WindowID:  b.nextWindow,
		Samples:   samples,
		Rate:      b.rate,
	}
	b.nextWindow++

	b.stats.ReadN(int64(advance))
	b.stats.UpdateSize(int64(b.size))
	if b.metrics != nil {
		b.metrics.recordRead(b.size, b.capacity)
	}

	return w, true
}

// Size returns the current number of buffered samples.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the fixed buffer capacity.
func (b *Buffer) Capacity() int {
	return b.capacity // immutable, no lock needed
}

// Occupancy returns the fill ratio in [0,1] for health reporting.
func (b *Buffer) Occupancy() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return float64(b.size) / float64(b.capacity)
}

// LastPush returns the wall-clock time of the most recent accepted sample,
// zero if none was ever accepted.
func (b *Buffer) LastPush() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPush
}

// Stats returns the always-on statistics for this buffer.
func (b *Buffer) Stats() *Statistics {
	return b.stats
}

// Clear drops all buffered samples but keeps sequence and window counters,
// so ordering invariants survive a transport reconnect.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = 0
	b.tail = 0
	b.size = 0
	b.stats.UpdateSize(0)
	if b.metrics != nil {
		b.metrics.updateSize(0, b.capacity)
	}
}

// Close marks the buffer closed; subsequent pushes are dropped and pops
// return nothing. Closing also releases the buffer's registered metrics
// so a replacement buffer for the same channel can register its own.
// Used when a channel is removed or its configuration is swapped.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.metrics != nil {
		b.metrics.unregister()
	}
}
