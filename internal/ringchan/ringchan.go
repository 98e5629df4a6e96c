// Package ringchan provides a bounded channel with overwrite-oldest semantics,
// used as the last-value-wins hand-off between producers that must never block
// and consumers that only care about the freshest values.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel wraps a buffered channel. Producers never block: when the buffer
// is full the oldest element is discarded to make room. With capacity 1 a
// consumer always receives the most recent value, never a queue of stale ones.
//
//	rc := ringchan.New[int](1)
//	rc.Send(1)
//	rc.Send(2)
//	v := <-rc.C() // 2
type RingChannel[T any] struct {
	ch      chan T
	closeMu sync.RWMutex
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity. Panics if capacity <= 0.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C bypass the Received metric.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered values if needed.
// Returns true if anything was discarded. Sending on a closed RingChannel is a no-op.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.closeMu.RLock()
	defer rc.closeMu.RUnlock()
	if rc.closed {
		return false
	}

	dropped := false
	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}

		// Full: make room. A concurrent reader may have drained it already.
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room. Returns false when full or closed.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.closeMu.RLock()
	defer rc.closeMu.RUnlock()
	if rc.closed {
		return false
	}

	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return true
	default:
		return false
	}
}

// TryReceive returns a buffered value without blocking.
func (rc *RingChannel[T]) TryReceive() (T, bool) {
	select {
	case v, ok := <-rc.ch:
		if ok {
			atomic.AddInt64(&rc.metrics.Received, 1)
		}
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered values.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Close closes the receive side. Safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.closeMu.Lock()
	defer rc.closeMu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Received:    atomic.LoadInt64(&rc.metrics.Received),
	}
}

// Metrics counts RingChannel traffic. Updated atomically.
type Metrics struct {
	Written     int64
	Overwritten int64
	Received    int64 // only via TryReceive
}
