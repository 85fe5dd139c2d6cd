// Package worker provides a bounded generic worker pool with non-blocking
// submission. A full queue rejects work instead of blocking the producer.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned by Submit when the work queue is at capacity.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrNotStarted is returned by Submit before Start has run.
	ErrNotStarted = errors.New("worker: pool not started")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker: pool stopped")
	// ErrStopTimeout is returned by Stop when workers do not drain in time.
	ErrStopTimeout = errors.New("worker: stop timed out")
)

// Pool processes work items of type T on a fixed set of goroutines.
type Pool[T any] struct {
	workers int
	queue   chan T
	process func(context.Context, T) error

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *poolMetrics
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// New creates a pool. Zero workers defaults to the CPU count; zero
// queueSize defaults to four slots per worker.
func New[T any](workers, queueSize int, process func(context.Context, T) error, options ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	if process == nil {
		panic("worker: nil process function")
	}

	p := &Pool[T]{
		workers: workers,
		queue:   make(chan T, queueSize),
		process: process,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Submit enqueues one work item without blocking. The lock is held
// across the send so Stop cannot close the queue mid-submit.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- work:
		p.submitted.Add(1)
		p.metrics.recordSubmit(len(p.queue))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.recordDrop()
		return ErrQueueFull
	}
}

// Start launches the workers. The context cancels in-flight processing.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("worker: pool already started")
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Stop closes the queue and waits for workers to drain it. Collectors
// are released even when the pool never started, so a rebuilt pool under
// the same name can register its own.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	defer p.metrics.unregister()

	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}
			start := time.Now()
			err := p.process(ctx, work)
			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}
			p.metrics.recordDone(err, time.Since(start), len(p.queue))
		}
	}
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}
