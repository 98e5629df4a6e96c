// Package ptymirror exposes accepted samples on a pseudo-terminal so that
// serial-plotter style tools can attach to the stream as if it were a device.
//
// Every sample becomes one "value\n" line on the slave side. Writes never
// block the caller: lines go to a byte ring and a background loop copies them
// to the PTY master. When the ring cannot hold a whole line, the line is
// dropped and counted. Anything the consumer types into the slave is drained
// and discarded.
package ptymirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/eegstream/internal/groutine"
	"github.com/srg/eegstream/internal/sample"
)

const (
	DefaultBufferSize  = 16 * 1024
	DefaultPollTimeout = 50 * time.Millisecond
)

// Options configures a Mirror. Zero values use the defaults above.
type Options struct {
	BufferSize  int
	PollTimeout time.Duration
	// Symlink, when set, is created pointing at the slave device and removed on Close.
	Symlink string
	Logger  *logrus.Logger
}

// Stats are cumulative counters.
type Stats struct {
	Queued       int
	Capacity     int
	LinesWritten uint64
	LinesDropped uint64
	BytesWritten uint64
	BytesIgnored uint64
}

// Mirror owns a PTY master/slave pair.
type Mirror struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	ttyName     string
	symlink     string
	pollTimeout int

	mu  sync.Mutex
	buf *ringbuffer.RingBuffer

	cancel context.CancelFunc
	group  *groutine.Group
	closed atomic.Bool

	linesWritten atomic.Uint64
	linesDropped atomic.Uint64
	bytesWritten atomic.Uint64
	bytesIgnored atomic.Uint64
}

// Open creates the PTY pair, optionally links it and starts the copy loops.
func Open(opts Options) (*Mirror, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	m := &Mirror{
		logger:      logger,
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		buf:         ringbuffer.New(opts.BufferSize),
	}

	if opts.Symlink != "" {
		if err := replaceSymlink(m.ttyName, opts.Symlink); err != nil {
			_ = master.Close()
			_ = slave.Close()
			return nil, err
		}
		m.symlink = opts.Symlink
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.group = groutine.NewGroup(ctx, "ptymirror")
	m.group.Go("write-loop", m.writeLoop)
	m.group.Go("drain-loop", m.drainLoop)

	logger.WithFields(logrus.Fields{
		"tty":     m.ttyName,
		"symlink": m.symlink,
	}).Info("Sample mirror ready")
	return m, nil
}

// TTYName is the slave device path, e.g. /dev/pts/5.
func (m *Mirror) TTYName() string { return m.ttyName }

// Symlink is the link created in Open, or "".
func (m *Mirror) Symlink() string { return m.symlink }

// WriteSample queues one "value\n" line. It returns false if the line was dropped.
func (m *Mirror) WriteSample(s sample.Sample) bool {
	line := strconv.AppendFloat(nil, s.Value, 'g', -1, 64)
	line = append(line, '\n')
	n, err := m.Write(line)
	return err == nil && n == len(line)
}

// Write queues p as a unit: either all of p is queued or none of it is.
func (m *Mirror) Write(p []byte) (int, error) {
	if m.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buf.Free() < len(p) {
		if m.linesDropped.Add(1) == 1 {
			m.logger.WithField("tty", m.ttyName).Warn("Mirror buffer full, dropping lines (is a reader attached?)")
		}
		return 0, nil
	}
	n, err := m.buf.Write(p)
	if err != nil {
		return n, fmt.Errorf("mirror queue: %w", err)
	}
	m.linesWritten.Add(1)
	return n, nil
}

func (m *Mirror) writeLoop(ctx context.Context) {
	master := m.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	chunk := make([]byte, 4096)

	for ctx.Err() == nil {
		m.mu.Lock()
		n, _ := m.buf.TryRead(chunk)
		m.mu.Unlock()

		if n == 0 {
			// Nothing queued; sleep at most one poll interval.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(m.pollTimeout) * time.Millisecond):
			}
			continue
		}

		for off := 0; off < n; {
			written, err := master.Write(chunk[off:n])
			if written > 0 {
				off += written
				m.bytesWritten.Add(uint64(written))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, m.pollTimeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
					m.logger.WithError(perr).Debug("Mirror poll failed")
				}
				if ctx.Err() != nil {
					return
				}
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				m.logger.WithError(err).Warn("Mirror write loop stopped")
				return
			}
		}
	}
}

func (m *Mirror) drainLoop(ctx context.Context) {
	master := m.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 1024)

	for ctx.Err() == nil {
		ready, err := unix.Poll(pollFd, m.pollTimeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			m.logger.WithError(err).Debug("Mirror poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			m.bytesIgnored.Add(uint64(n))
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
			case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF), errors.Is(err, syscall.EIO):
				return
			default:
				m.logger.WithError(err).Warn("Mirror drain loop stopped")
				return
			}
		}
	}
}

// Stats returns the current counters.
func (m *Mirror) Stats() Stats {
	m.mu.Lock()
	queued := m.buf.Length()
	m.mu.Unlock()
	return Stats{
		Queued:       queued,
		Capacity:     m.buf.Capacity(),
		LinesWritten: m.linesWritten.Load(),
		LinesDropped: m.linesDropped.Load(),
		BytesWritten: m.bytesWritten.Load(),
		BytesIgnored: m.bytesIgnored.Load(),
	}
}

// Close stops the loops, closes both ends and removes the symlink.
func (m *Mirror) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()
	m.group.Wait()

	var errs []error
	if err := m.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty master: %w", err))
	}
	if err := m.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pty slave: %w", err))
	}
	if m.symlink != "" {
		if err := os.Remove(m.symlink); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove symlink: %w", err))
		}
	}
	return errors.Join(errs...)
}

func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set PTY %s to raw mode: %w", slave.Name(), err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set PTY master nonblocking: %w", err)
	}
	return master, slave, nil
}

func replaceSymlink(target, link string) error {
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("refusing to replace %s: not a symlink", link)
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to remove stale symlink %s: %w", link, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", link, target, err)
	}
	return nil
}
