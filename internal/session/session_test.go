package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/sample"
	"github.com/stretchr/testify/suite"
)

// fakeLink is a scripted device.Link.
type fakeLink struct {
	addr     string
	services []string
	chars    []string
	subErr   error

	mu          sync.Mutex
	serviceReqs [][]string
	charReqs    [][]string
	handler     func([]byte)

	disc      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeLink(addr string) *fakeLink {
	return &fakeLink{
		addr:     addr,
		services: []string{"180f", svcID},
		chars:    []string{charID},
		disc:     make(chan struct{}),
	}
}

func (l *fakeLink) Address() string { return l.addr }

func (l *fakeLink) DiscoverServices(ids []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serviceReqs = append(l.serviceReqs, ids)
	return l.services, nil
}

func (l *fakeLink) DiscoverCharacteristics(_ string, ids []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.charReqs = append(l.charReqs, ids)
	return l.chars, nil
}

func (l *fakeLink) Subscribe(_, _ string, handler func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subErr != nil {
		return l.subErr
	}
	l.handler = handler
	return nil
}

func (l *fakeLink) Disconnected() <-chan struct{} { return l.disc }

func (l *fakeLink) Close() error {
	l.closed.Store(true)
	l.drop()
	return nil
}

func (l *fakeLink) drop() {
	l.closeOnce.Do(func() { close(l.disc) })
}

func (l *fakeLink) notify(payload string) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	h([]byte(payload))
}

func (l *fakeLink) requests() (services, chars [][]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.serviceReqs...), append([][]string(nil), l.charReqs...)
}

// fakeTransport replays advertisements and hands out fakeLinks.
type fakeTransport struct {
	advs       []device.Advertisement
	connectErr error

	mu          sync.Mutex
	scans       int
	scanStopped bool
	connects    []string
	links       []*fakeLink
}

func (t *fakeTransport) Scan(ctx context.Context, _ []string, handler func(device.Advertisement)) error {
	t.mu.Lock()
	t.scans++
	t.mu.Unlock()

	for _, a := range t.advs {
		handler(a)
	}
	<-ctx.Done()

	t.mu.Lock()
	t.scanStopped = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Connect(_ context.Context, address string) (device.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects = append(t.connects, address)
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	l := newFakeLink(address)
	t.links = append(t.links, l)
	return l, nil
}

func (t *fakeTransport) setConnectErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connects)
}

func (t *fakeTransport) addresses() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.connects...)
}

func (t *fakeTransport) link(i int) *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.links) {
		return nil
	}
	return t.links[i]
}

// fakeClock captures scheduled timers so tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true) && !t.fired.Load()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped.Load() && !t.fired.Load() {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the callback even for a stopped timer, which models a timer
// that already fired when Stop was called.
func (t *fakeTimer) fire() {
	t.fired.Store(true)
	t.fn()
}

// recordingObserver collects everything the session surfaces.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []StateChanged
	records     []Record
	samples     []sample.Sample
}

func (o *recordingObserver) OnState(from, to ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, StateChanged{From: from, To: to})
}

func (o *recordingObserver) OnRecord(msg string, fault bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, Record{Message: msg, Fault: fault})
}

func (o *recordingObserver) OnSample(s sample.Sample) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, s)
}

func (o *recordingObserver) sampleValues() []float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]float64, 0, len(o.samples))
	for _, s := range o.samples {
		out = append(out, s.Value)
	}
	return out
}

func (o *recordingObserver) sawTransition(from, to ConnectionState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

func (o *recordingObserver) faultCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.records {
		if r.Fault {
			n++
		}
	}
	return n
}

func (o *recordingObserver) hasRecord(msg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.records {
		if r.Message == msg {
			return true
		}
	}
	return false
}

type SessionSuite struct {
	suite.Suite

	transport *fakeTransport
	clock     *fakeClock
	observer  *recordingObserver
	session   *Session

	cancel context.CancelFunc
	runErr chan error
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func (s *SessionSuite) SetupTest() {
	s.transport = &fakeTransport{
		advs: []device.Advertisement{
			{Name: "HeartRate", Address: "11:22:33:44:55:66", Services: []string{svcID}},
			eegAdvertisement,
		},
	}
	s.clock = &fakeClock{}
	s.observer = &recordingObserver{}
}

func (s *SessionSuite) start() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.session = New(DefaultConfig(), s.transport, s.observer, logger, Options{})
	s.session.afterFunc = s.clock.AfterFunc

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runErr = make(chan error, 1)
	go func() { s.runErr <- s.session.Run(ctx) }()
}

func (s *SessionSuite) TearDownTest() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case err := <-s.runErr:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(waitFor):
		s.Fail("session did not stop")
	}
	s.cancel = nil
}

func (s *SessionSuite) waitState(want ConnectionState) {
	s.Require().Eventually(func() bool { return s.session.State() == want },
		waitFor, tick, "want %s, have %s", want, s.session.State())
}

// waitTimer waits for exactly one pending timer with the given delay and returns it.
func (s *SessionSuite) waitTimer(delay time.Duration) *fakeTimer {
	var t *fakeTimer
	s.Require().Eventually(func() bool {
		p := s.clock.pending()
		if len(p) != 1 || p[0].delay != delay {
			return false
		}
		t = p[0]
		return true
	}, waitFor, tick)
	return t
}

func (s *SessionSuite) toStreaming() *fakeLink {
	s.start()
	s.waitState(DiscoveringServices)
	s.waitTimer(SettleDelay).fire()
	s.waitState(Streaming)
	l := s.transport.link(0)
	s.Require().NotNil(l)
	return l
}

func (s *SessionSuite) TestEndToEndNegotiation() {
	s.start()

	s.waitState(DiscoveringServices)
	s.Equal([]string{eegAdvertisement.Address}, s.transport.addresses(), "only the matching peripheral is dialled")
	s.Eventually(func() bool {
		s.transport.mu.Lock()
		defer s.transport.mu.Unlock()
		return s.transport.scanStopped
	}, waitFor, tick, "scan halted on first match")

	l := s.transport.link(0)
	services, _ := l.requests()
	s.Empty(services, "no discovery before the settle delay")

	s.waitTimer(SettleDelay).fire()
	s.waitState(Streaming)

	services, chars := l.requests()
	s.Equal([][]string{{svcID}}, services, "discovery limited to the expected service")
	s.Equal([][]string{{charID}}, chars)

	for _, st := range []ConnectionState{Scanning, Connecting, DiscoveringServices, DiscoveringCharacteristics, SubscribingNotifications, Streaming} {
		s.True(s.observer.hasAnyTransitionTo(st), st.String())
	}
}

func (s *SessionSuite) TestSamplesFlowAndMalformedAreDropped() {
	l := s.toStreaming()

	for _, p := range []string{"1.5", "N/A", "", "NaN", "2.5"} {
		l.notify(p)
	}

	s.Eventually(func() bool { return len(s.observer.sampleValues()) == 2 }, waitFor, tick)
	s.Equal([]float64{1.5, 2.5}, s.observer.sampleValues())
}

func (s *SessionSuite) TestDisconnectReconnectsSameHandle() {
	first := s.toStreaming()

	first.drop()
	s.waitState(Reconnecting)
	s.True(s.observer.sawTransition(Streaming, Disconnected))
	s.True(s.observer.sawTransition(Disconnected, Reconnecting))
	s.Equal(1, s.transport.connectCount(), "no reconnect before the back-off")

	s.waitTimer(ReconnectBackoff).fire()
	s.Eventually(func() bool { return s.transport.connectCount() == 2 }, waitFor, tick)
	s.Equal(eegAdvertisement.Address, s.transport.addresses()[1])
	s.waitState(DiscoveringServices)

	s.waitTimer(SettleDelay).fire()
	s.waitState(Streaming)

	second := s.transport.link(1)
	second.notify("3.0")
	s.Eventually(func() bool { return len(s.observer.sampleValues()) == 1 }, waitFor, tick)
}

func (s *SessionSuite) TestSecondDisconnectDuringBackoffReconnectsOnce() {
	first := s.toStreaming()

	first.drop()
	s.waitState(Reconnecting)
	stale := s.waitTimer(ReconnectBackoff)

	s.Require().True(s.session.Post(LinkLost{}))
	var fresh *fakeTimer
	s.Require().Eventually(func() bool {
		p := s.clock.pending()
		if len(p) != 1 || p[0] == stale {
			return false
		}
		fresh = p[0]
		return true
	}, waitFor, tick)
	s.Equal(ReconnectBackoff, fresh.delay)
	s.True(stale.stopped.Load(), "superseded timer is cancelled")

	// Even if the superseded timer had already fired, its epoch is stale.
	stale.fire()
	fresh.fire()

	s.Eventually(func() bool { return s.transport.connectCount() == 2 }, waitFor, tick)
	s.Never(func() bool { return s.transport.connectCount() > 2 }, 100*time.Millisecond, tick)
}

func (s *SessionSuite) TestStaleLinkEventsAreIgnored() {
	first := s.toStreaming()
	first.drop()
	s.waitState(Reconnecting)
	s.waitTimer(ReconnectBackoff).fire()
	s.waitState(DiscoveringServices)
	s.waitTimer(SettleDelay).fire()
	s.waitState(Streaming)

	// The first link's subscription handler may still run after it was replaced.
	first.notify("9.9")
	s.Never(func() bool { return len(s.observer.sampleValues()) > 0 }, 100*time.Millisecond, tick)
	s.Equal(Streaming, s.session.State())
}

func (s *SessionSuite) TestConnectFailureHalts() {
	s.transport.connectErr = errors.New("connection refused")
	s.start()

	s.Eventually(func() bool { return s.observer.hasRecord("Connection failed: connection refused") }, waitFor, tick)
	s.Equal(Connecting, s.session.State())
	s.Never(func() bool { return s.transport.connectCount() > 1 }, 100*time.Millisecond, tick)
}

func (s *SessionSuite) TestFailedReconnectDialKeepsRetrying() {
	first := s.toStreaming()
	s.transport.setConnectErr(context.DeadlineExceeded)

	first.drop()
	s.waitState(Reconnecting)

	for attempt := 2; attempt <= 4; attempt++ {
		faults := s.observer.faultCount()
		s.waitTimer(ReconnectBackoff).fire()
		s.Eventually(func() bool { return s.transport.connectCount() == attempt }, waitFor, tick)
		s.Eventually(func() bool { return s.observer.faultCount() > faults }, waitFor, tick)
		s.Equal(Reconnecting, s.session.State())
	}

	s.transport.setConnectErr(nil)
	s.waitTimer(ReconnectBackoff).fire()
	s.waitState(DiscoveringServices)
	s.waitTimer(SettleDelay).fire()
	s.waitState(Streaming)

	for _, addr := range s.transport.addresses() {
		s.Equal(eegAdvertisement.Address, addr, "reconnect always dials the known handle")
	}
}

func (s *SessionSuite) TestSubscribeFailureHalts() {
	s.start()
	s.waitState(DiscoveringServices)
	l := s.transport.link(0)
	l.mu.Lock()
	l.subErr = errors.New("cccd write failed")
	l.mu.Unlock()

	s.waitTimer(SettleDelay).fire()
	s.Eventually(func() bool { return s.observer.hasRecord("Subscribe failed: cccd write failed") }, waitFor, tick)
	s.Equal(SubscribingNotifications, s.session.State())
}

func (s *SessionSuite) TestStopClosesLink() {
	l := s.toStreaming()

	s.cancel()
	s.ErrorIs(<-s.runErr, context.Canceled)
	s.cancel = nil

	s.True(l.closed.Load())
	s.False(s.session.Post(PoweredOn{}), "posting after stop is rejected")
}

func (o *recordingObserver) hasAnyTransitionTo(st ConnectionState) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.transitions {
		if t.To == st {
			return true
		}
	}
	return false
}
