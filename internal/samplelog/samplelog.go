// Package samplelog persists accepted samples to a flat, append-only CSV file.
//
// Append never blocks the ingestion path: entries go into a bounded
// overwrite-oldest ring and a writer goroutine drains it to the sink.
// When the ring overflows the oldest unwritten entries are dropped and
// counted. When a write fails the batch is dropped, counted and logged,
// and the log keeps accepting entries.
package samplelog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/eegstream/internal/sample"
)

const (
	// DefaultFileName is the log file name inside the temp directory.
	DefaultFileName = "EEGDataLog.txt"

	// DefaultBufferSize is the ring capacity between Append and the writer.
	DefaultBufferSize uint32 = 4096

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

// Lifecycle states.
const (
	stateNotRunning uint32 = iota
	stateRunning
	stateStopping
	stateClosed
)

// DefaultPath returns $TMPDIR/EEGDataLog.txt.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFileName)
}

// Metrics counts log traffic. Dropped covers ring overflow, Errors covers
// entries lost to failed writes.
type Metrics struct {
	Appended int64
	Written  int64
	Dropped  int64
	Errors   int64
}

// Log is an asynchronous append-only sample log. All methods are thread-safe.
type Log struct {
	path   string
	sink   io.Writer
	closer io.Closer
	logger *logrus.Logger

	buffer mpmc.RichOverlappedRingBuffer[sample.Sample]
	notify chan struct{}
	flush  chan chan struct{}
	stop   chan struct{}
	done   chan struct{}
	state  uint32

	appended atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
	errors   atomic.Int64
}

// Open opens (creating if needed) the log file at path for appending.
// Existing entries are preserved.
func Open(path string, bufferSize uint32, logger *logrus.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample log %s: %w", path, err)
	}

	l, err := New(f, bufferSize, logger)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	l.path = path
	l.closer = f
	return l, nil
}

// New creates a log writing to w. The caller keeps ownership of w.
func New(w io.Writer, bufferSize uint32, logger *logrus.Logger) (*Log, error) {
	if w == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxBufferSize)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Log{
		sink:   w,
		logger: logger,
		buffer: mpmc.NewOverlappedRingBuffer[sample.Sample](bufferSize),
		notify: make(chan struct{}, 1),
		flush:  make(chan chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  stateNotRunning,
	}, nil
}

// Path returns the file path, or "" for a log created with New.
func (l *Log) Path() string {
	return l.path
}

// Start launches the writer goroutine. A log can be started once.
func (l *Log) Start() error {
	if !atomic.CompareAndSwapUint32(&l.state, stateNotRunning, stateRunning) {
		switch atomic.LoadUint32(&l.state) {
		case stateRunning:
			return fmt.Errorf("sample log is already running")
		case stateStopping:
			return fmt.Errorf("sample log is stopping")
		default:
			return fmt.Errorf("sample log is closed")
		}
	}

	go func() {
		defer close(l.done)
		for {
			select {
			case <-l.stop:
				l.drain()
				return
			case <-l.notify:
				l.drain()
			case ack := <-l.flush:
				l.drain()
				close(ack)
			}
		}
	}()
	return nil
}

// Append queues s for writing. It never blocks. Appends after Stop are counted as dropped.
func (l *Log) Append(s sample.Sample) {
	l.appended.Add(1)
	if atomic.LoadUint32(&l.state) == stateClosed {
		l.dropped.Add(1)
		return
	}

	overwrites, err := l.buffer.EnqueueM(s)
	if err != nil {
		l.dropped.Add(1)
		l.logger.WithField("error", err).Warn("Sample log buffer rejected entry")
		return
	}
	if overwrites > 0 {
		l.dropped.Add(int64(overwrites))
	}

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Flush waits until everything appended so far has been handed to the sink.
// It returns immediately if the writer is not running.
func (l *Log) Flush() {
	if atomic.LoadUint32(&l.state) != stateRunning {
		return
	}
	ack := make(chan struct{})
	select {
	case l.flush <- ack:
		<-ack
	case <-l.done:
	}
}

// Stop drains pending entries, stops the writer and closes the file.
// Calling Stop more than once is a no-op.
func (l *Log) Stop() error {
	switch {
	case atomic.CompareAndSwapUint32(&l.state, stateRunning, stateStopping):
		close(l.stop)
		<-l.done
	case atomic.CompareAndSwapUint32(&l.state, stateNotRunning, stateStopping):
		l.drain()
	default:
		return nil
	}
	atomic.StoreUint32(&l.state, stateClosed)

	if l.closer != nil {
		if err := l.closer.Close(); err != nil {
			return fmt.Errorf("failed to close sample log: %w", err)
		}
	}
	return nil
}

// Metrics returns a snapshot of the counters.
func (l *Log) Metrics() Metrics {
	return Metrics{
		Appended: l.appended.Load(),
		Written:  l.written.Load(),
		Dropped:  l.dropped.Load(),
		Errors:   l.errors.Load(),
	}
}

// drain writes everything currently buffered as one batch.
func (l *Log) drain() {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	n := 0

	for !l.buffer.IsEmpty() {
		s, err := l.buffer.Dequeue()
		if err != nil {
			break
		}
		_ = w.Write(encode(s))
		n++
	}
	if n == 0 {
		return
	}
	w.Flush()

	if _, err := l.sink.Write(buf.Bytes()); err != nil {
		l.errors.Add(int64(n))
		l.logger.WithFields(logrus.Fields{
			"path":    l.path,
			"entries": n,
			"error":   err,
		}).Error("Failed to write sample log entries, dropping them")
		return
	}
	l.written.Add(int64(n))
}

func encode(s sample.Sample) []string {
	return []string{
		s.Timestamp.Format(time.RFC3339Nano),
		strconv.FormatFloat(s.Value, 'g', -1, 64),
	}
}
