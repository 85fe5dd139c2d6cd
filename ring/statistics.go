package ring

import "sync/atomic"

// Statistics tracks buffer activity with atomic counters. Always on;
// the cost is a handful of atomic adds per operation.
type Statistics struct {
	writes      atomic.Int64
	reads       atomic.Int64
	drops       atomic.Int64
	overflows   atomic.Int64
	currentSize atomic.Int64
	peakSize    atomic.Int64
}

// NewStatistics creates a zeroed statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records one accepted sample.
func (s *Statistics) Write() {
	s.writes.Add(1)
}

// ReadN records n samples consumed by a window pop.
func (s *Statistics) ReadN(n int64) {
	s.reads.Add(n)
}

// Drop records one dropped sample, whatever the cause.
func (s *Statistics) Drop() {
	s.drops.Add(1)
}

// Overflow records one full-buffer event.
func (s *Statistics) Overflow() {
	s.overflows.Add(1)
}

// UpdateSize records the current occupancy and tracks the peak.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)
	for {
		peak := s.peakSize.Load()
		if size <= peak || s.peakSize.CompareAndSwap(peak, size) {
			return
		}
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Writes      int64
	Reads       int64
	Drops       int64
	Overflows   int64
	CurrentSize int64
	PeakSize    int64
}

// Snapshot returns a consistent-enough copy for reporting. Counters are
// read individually; exactness across fields is not guaranteed.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Writes:      s.writes.Load(),
		Reads:       s.reads.Load(),
		Drops:       s.drops.Load(),
		Overflows:   s.overflows.Load(),
		CurrentSize: s.currentSize.Load(),
		PeakSize:    s.peakSize.Load(),
	}
}

// Drops returns the lifetime drop count.
func (s *Statistics) Drops() int64 {
	return s.drops.Load()
}

// Writes returns the lifetime accepted-sample count.
func (s *Statistics) Writes() int64 {
	return s.writes.Load()
}
