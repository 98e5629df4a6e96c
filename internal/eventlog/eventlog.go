// Package eventlog keeps a bounded, in-memory history of human-readable status
// messages for observability. It never gates behavior.
package eventlog

import "sync"

// DefaultCapacity is the number of messages retained before the oldest is evicted.
const DefaultCapacity = 100

// Log is a fixed-capacity FIFO of status strings. When full, appending evicts
// the oldest entry. All methods are safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []string // ring storage, len == capacity once full
	start   int      // index of the oldest entry
	count   int
}

// New creates an event log holding at most capacity entries.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{entries: make([]string, capacity)}
}

// Append records msg, evicting the oldest entry if the log is full.
// Returns true when an entry was evicted.
func (l *Log) Append(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := len(l.entries)
	if l.count < capacity {
		l.entries[(l.start+l.count)%capacity] = msg
		l.count++
		return false
	}

	l.entries[l.start] = msg
	l.start = (l.start + 1) % capacity
	return true
}

// Snapshot returns a copy of all retained entries, oldest first.
func (l *Log) Snapshot() []string {
	return l.Tail(-1)
}

// Tail returns a copy of the newest n entries, oldest first.
// A negative n returns everything.
func (l *Log) Tail(n int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 || n > l.count {
		n = l.count
	}

	out := make([]string, n)
	capacity := len(l.entries)
	first := l.start + l.count - n
	for i := 0; i < n; i++ {
		out[i] = l.entries[(first+i)%capacity]
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Cap returns the maximum number of retained entries.
func (l *Log) Cap() int {
	return len(l.entries)
}
