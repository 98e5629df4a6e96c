package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/groutine"
	"github.com/srg/eegstream/internal/sample"
)

// DefaultEventQueueSize bounds the runner's inbound event queue.
const DefaultEventQueueSize = 1024

// Observer receives everything the session surfaces. Calls are made from the
// runner goroutine, one at a time, in event order, and must not block.
type Observer interface {
	OnState(from, to ConnectionState)
	OnRecord(msg string, fault bool)
	OnSample(s sample.Sample)
}

// Options tune the runner. The zero value is valid.
type Options struct {
	// ConnectTimeout bounds one connection attempt. Zero waits until the
	// transport gives up or the session stops.
	ConnectTimeout time.Duration

	// QueueSize overrides DefaultEventQueueSize.
	QueueSize int
}

// stopper is the part of *time.Timer the runner needs.
type stopper interface {
	Stop() bool
}

// Session runs a Machine against a live transport. All machine steps and
// effect executions happen on the goroutine that called Run. Blocking
// transport calls run on helper goroutines that post their results back.
type Session struct {
	transport device.Transport
	observer  Observer
	logger    *logrus.Logger
	opts      Options

	events  chan Event
	machine Machine
	state   atomic.Int32
	ctx     context.Context
	done    chan struct{}
	group   *groutine.Group

	afterFunc func(time.Duration, func()) stopper
	timers    map[TimerKind]stopper

	scanCancel context.CancelFunc

	link       device.Link
	linkGen    uint64
	connectGen uint64
}

// New creates a session. It does nothing until Run is called.
func New(cfg Config, transport device.Transport, observer Observer, logger *logrus.Logger, opts Options) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultEventQueueSize
	}

	s := &Session{
		transport: transport,
		observer:  observer,
		logger:    logger,
		opts:      opts,
		events:    make(chan Event, opts.QueueSize),
		done:      make(chan struct{}),
		machine:   NewMachine(cfg),
		timers:    make(map[TimerKind]stopper),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
	s.state.Store(int32(Idle))
	return s
}

// State returns the current connection state. Safe from any goroutine.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Post queues an event for the runner. It blocks only while the queue is
// full and returns false if the session has stopped.
func (s *Session) Post(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Run powers the machine on and processes events until ctx is done.
// On return the scan is stopped, timers are cancelled and the link is closed.
// Run must be called at most once.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	s.group = groutine.NewGroup(ctx, "session")

	s.step(PoweredOn{})

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Session) shutdown() {
	close(s.done)
	s.stopTimers()
	if s.scanCancel != nil {
		s.scanCancel()
		s.scanCancel = nil
	}
	s.closeLink()
	s.group.Wait()
	s.logger.Debug("Session stopped")
}

// Runner-internal results. They carry the generation of the link or dial
// they belong to so results from a previous link are dropped.
type (
	connectResult struct {
		gen  uint64
		link device.Link
		err  error
	}
	linkScoped struct {
		gen uint64
		ev  Event
	}
)

func (connectResult) isEvent() {}
func (linkScoped) isEvent()    {}

func (s *Session) dispatch(ev Event) {
	switch e := ev.(type) {
	case connectResult:
		s.onConnectResult(e)
	case linkScoped:
		if e.gen != s.linkGen || s.link == nil {
			s.logger.WithField("event", e.ev).Debug("Dropping event from stale link")
			return
		}
		s.step(e.ev)
	default:
		s.step(ev)
	}
}

func (s *Session) onConnectResult(r connectResult) {
	if r.gen != s.connectGen {
		if r.link != nil {
			s.logger.WithField("address", r.link.Address()).Debug("Discarding superseded connection")
			s.group.Go("close-stale", func(context.Context) { _ = r.link.Close() })
		}
		return
	}
	if r.err != nil {
		s.step(ConnectFailed{Err: r.err})
		return
	}

	// A previous link may still be held if LinkLost has not been processed yet.
	s.closeLink()
	s.link = r.link
	s.linkGen++
	gen := s.linkGen
	link := r.link

	s.group.Go("link-monitor", func(ctx context.Context) {
		select {
		case <-link.Disconnected():
			s.Post(linkScoped{gen: gen, ev: LinkLost{Err: device.ErrNotConnected}})
		case <-ctx.Done():
		}
	})

	before := s.machine.State()
	s.step(LinkUp{Address: link.Address()})
	if s.machine.State() == before {
		// The machine no longer wanted this link.
		s.closeLink()
	}
}

func (s *Session) step(ev Event) {
	next, effects := s.machine.Step(ev)
	s.machine = next
	for _, eff := range effects {
		s.execute(eff)
	}
}

func (s *Session) execute(eff Effect) {
	switch e := eff.(type) {
	case StateChanged:
		s.state.Store(int32(e.To))
		s.logger.WithFields(logrus.Fields{
			"from": e.From.String(),
			"to":   e.To.String(),
		}).Debug("Connection state changed")
		s.observer.OnState(e.From, e.To)

	case Record:
		entry := s.logger.WithField("state", s.machine.State().String())
		if e.Fault {
			entry.Warn(e.Message)
		} else {
			entry.Info(e.Message)
		}
		s.observer.OnRecord(e.Message, e.Fault)

	case EmitSample:
		s.observer.OnSample(e.Sample)

	case StartScan:
		s.startScan(e.Services)

	case StopScan:
		if s.scanCancel != nil {
			s.scanCancel()
			s.scanCancel = nil
		}

	case Connect:
		s.connect(e.Handle)

	case StartTimer:
		s.startTimer(e)

	case CancelTimers:
		s.stopTimers()

	case DiscoverServices:
		s.onLink("discover-services", func(l device.Link) Event {
			found, err := l.DiscoverServices(e.Services)
			return ServicesDiscovered{Services: found, Err: err}
		})

	case DiscoverCharacteristics:
		s.onLink("discover-characteristics", func(l device.Link) Event {
			found, err := l.DiscoverCharacteristics(e.Service, e.Characteristics)
			return CharacteristicsDiscovered{Service: e.Service, Characteristics: found, Err: err}
		})

	case Subscribe:
		gen := s.linkGen
		s.onLink("subscribe", func(l device.Link) Event {
			err := l.Subscribe(e.Service, e.Characteristic, func(payload []byte) {
				buf := append([]byte(nil), payload...)
				s.Post(linkScoped{gen: gen, ev: Notification{Payload: buf, At: time.Now()}})
			})
			// device.Link: a nil error means notifications are active.
			return SubscribeResult{Active: err == nil, Err: err}
		})

	case CloseLink:
		s.closeLink()

	default:
		s.logger.WithField("effect", eff).Warn("Unknown effect")
	}
}

func (s *Session) startScan(services []string) {
	if s.scanCancel != nil {
		s.scanCancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.scanCancel = cancel

	s.group.Go("scan", func(context.Context) {
		err := s.transport.Scan(ctx, services, func(adv device.Advertisement) {
			s.Post(Discovered{Advertisement: adv})
		})
		if err != nil && ctx.Err() == nil {
			s.Post(ScanFailed{Err: err})
		}
	})
}

func (s *Session) connect(h PeripheralHandle) {
	s.connectGen++
	gen := s.connectGen
	timeout := s.opts.ConnectTimeout

	s.group.Go("connect", func(ctx context.Context) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		link, err := s.transport.Connect(ctx, h.Address)
		if !s.Post(connectResult{gen: gen, link: link, err: err}) && link != nil {
			_ = link.Close()
		}
	})
}

func (s *Session) onLink(name string, call func(device.Link) Event) {
	if s.link == nil {
		s.logger.WithField("op", name).Warn("No link for requested operation")
		return
	}
	link, gen := s.link, s.linkGen
	s.group.Go(name, func(context.Context) {
		s.Post(linkScoped{gen: gen, ev: call(link)})
	})
}

func (s *Session) startTimer(e StartTimer) {
	if t, ok := s.timers[e.Kind]; ok {
		t.Stop()
	}
	s.timers[e.Kind] = s.afterFunc(e.Delay, func() {
		s.Post(TimerFired{Kind: e.Kind, Epoch: e.Epoch})
	})
}

func (s *Session) stopTimers() {
	for kind, t := range s.timers {
		t.Stop()
		delete(s.timers, kind)
	}
}

func (s *Session) closeLink() {
	if s.link == nil {
		return
	}
	link := s.link
	s.link = nil
	s.linkGen++

	s.group.Go("close-link", func(context.Context) {
		if err := link.Close(); err != nil {
			s.logger.WithField("error", err).Debug("Link close reported an error")
		}
	})
}
