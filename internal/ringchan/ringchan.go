// Package ringchan provides a bounded hand-off queue with overwrite-oldest semantics.
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer that never blocks producers:
// when the buffer is full, the oldest element is discarded.
//
// A binding callback hands raw batches to a session worker through a
// RingChannel so the delivering goroutine is never held up by processing.
//
//	rc := ringchan.New[device.RawBatch](128)
//	rc.Send(batch)          // producer, never blocks
//	batch := <-rc.C()       // consumer
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C are not counted as processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was discarded.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}

		// A concurrent producer may refill the freed slot; loop until v fits.
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// MarkProcessed records that a value read through C was handled
func (rc *RingChannel[T]) MarkProcessed() {
	atomic.AddInt64(&rc.metrics.Processed, 1)
}

// Drain discards all buffered elements and returns how many were dropped
func (rc *RingChannel[T]) Drain() int {
	n := 0
	for {
		select {
		case <-rc.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Metrics returns a snapshot of the counters
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
	}
}

// Metrics are lock-free counters for a RingChannel
type Metrics struct {
	Written     int64
	Overwritten int64
	Processed   int64
}
