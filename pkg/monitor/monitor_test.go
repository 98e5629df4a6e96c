package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/eegstream/internal/bandpower"
	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/sample"
	"github.com/srg/eegstream/internal/samplelog"
	"github.com/srg/eegstream/internal/session"
	"github.com/srg/eegstream/internal/state"
	"github.com/srg/eegstream/internal/testutils"
	"github.com/srg/eegstream/pkg/config"
)

type mockTransport struct {
	mock.Mock
}

func (t *mockTransport) Scan(ctx context.Context, services []string, onAdv func(device.Advertisement)) error {
	args := t.Called(ctx, services, onAdv)
	return args.Error(0)
}

func (t *mockTransport) Connect(ctx context.Context, address string) (device.Link, error) {
	args := t.Called(ctx, address)
	link, _ := args.Get(0).(device.Link)
	return link, args.Error(1)
}

// streamLink accepts every discovery request and exposes the notification handler.
type streamLink struct {
	mu      sync.Mutex
	handler func([]byte)
	ready   chan struct{}
	disc    chan struct{}
	once    sync.Once
}

func newStreamLink() *streamLink {
	return &streamLink{ready: make(chan struct{}), disc: make(chan struct{})}
}

func (l *streamLink) Address() string { return "aa:bb:cc:dd:ee:ff" }

func (l *streamLink) DiscoverServices(ids []string) ([]string, error) { return ids, nil }

func (l *streamLink) DiscoverCharacteristics(_ string, ids []string) ([]string, error) {
	return ids, nil
}

func (l *streamLink) Subscribe(_, _ string, h func([]byte)) error {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
	close(l.ready)
	return nil
}

func (l *streamLink) Disconnected() <-chan struct{} { return l.disc }

func (l *streamLink) Close() error {
	l.once.Do(func() { close(l.disc) })
	return nil
}

func (l *streamLink) notify(payload string) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	h([]byte(payload))
}

type MonitorSuite struct {
	suite.Suite
	cfg    *config.Config
	logger *logrus.Logger
}

func (s *MonitorSuite) SetupTest() {
	s.cfg = config.DefaultConfig()
	s.cfg.SampleLog.Path = filepath.Join(s.T().TempDir(), samplelog.DefaultFileName)
	s.logger = testutils.NewTestLogger(s.T(), logrus.WarnLevel)
}

func (s *MonitorSuite) newMonitor() *Monitor {
	m, err := New(s.cfg, &mockTransport{}, s.logger)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = m.Close() })
	return m
}

func (s *MonitorSuite) feed(m *Monitor, values []float64) {
	for _, smp := range testutils.Samples(time.Now(), 256, values) {
		m.OnSample(smp)
	}
}

func (s *MonitorSuite) TestInitialView() {
	v := s.newMonitor().Store().Load()
	s.Equal(state.InitialSample, v.Sample)
	s.Equal("Idle", v.Connection)
	s.Equal(bandpower.Snapshot{}, v.Bands)
	s.Empty(v.Events)
}

func (s *MonitorSuite) TestSamplePublishedAndBandsAfterFullWindow() {
	m := s.newMonitor()

	values := testutils.Sine(10, 256, 1, bandpower.WindowSize)
	s.feed(m, values[:bandpower.WindowSize-1])

	v := m.Store().Load()
	s.NotNil(v.LastSample)
	s.Equal(bandpower.Snapshot{}, v.Bands, "bands must not change before the window fills")
	s.Zero(v.Windows)

	s.feed(m, values[bandpower.WindowSize-1:])

	v = m.Store().Load()
	s.Equal(uint64(1), v.Windows)
	s.Greater(v.Bands.Get(bandpower.Alpha), 0.0)
	s.InDelta(0, v.Bands.Get(bandpower.Delta), 1e-6)

	alphaPct, ok := v.Derive("alpha_pct")
	s.True(ok)
	s.InDelta(100, alphaPct, 1e-6)
}

func (s *MonitorSuite) TestSampleEntersWindow() {
	m := s.newMonitor()
	m.OnSample(sample.Sample{Timestamp: time.Now(), Value: 1})
	s.Equal(1, m.pipeline.Fill())
}

func (s *MonitorSuite) TestStateChangesPublished() {
	m := s.newMonitor()
	m.OnSample(sample.New(time.Now(), 3.5))

	m.OnState(session.Idle, session.Scanning)
	s.Equal("Scanning", m.Store().Load().Connection)
	s.Equal("3.5", m.Store().Load().Sample)

	m.OnState(session.Streaming, session.Disconnected)
	v := m.Store().Load()
	s.Equal("Disconnected", v.Connection)
	s.Equal(state.DisconnectedSample, v.Sample)
}

func (s *MonitorSuite) TestEventLogCappedAtHundred() {
	m := s.newMonitor()
	for i := 0; i < 150; i++ {
		m.OnRecord(fmt.Sprintf("event %d", i), false)
	}

	events := m.Store().Load().Events
	s.Len(events, 100)
	s.Equal("event 50", events[0])
	s.Equal("event 149", events[99])
}

func (s *MonitorSuite) TestBrokenDeriveScriptKeepsBands() {
	script := filepath.Join(s.T().TempDir(), "broken.lua")
	s.Require().NoError(os.WriteFile(script, []byte(`function derive(b) error("nope") end`), 0o644))
	s.cfg.Pipeline.DeriveScript = script

	m := s.newMonitor()
	s.feed(m, testutils.Sine(20, 256, 1, bandpower.WindowSize))

	v := m.Store().Load()
	s.Equal(uint64(1), v.Windows)
	s.Greater(v.Bands.Get(bandpower.Beta), 0.0)
	s.Empty(v.Derived)
}

func (s *MonitorSuite) TestInvalidConfig() {
	s.cfg.Pipeline.SampleRate = 0
	_, err := New(s.cfg, &mockTransport{}, s.logger)
	s.Error(err)

	s.cfg = config.DefaultConfig()
	s.cfg.Pipeline.DeriveScript = filepath.Join(s.T().TempDir(), "missing.lua")
	_, err = New(s.cfg, &mockTransport{}, s.logger)
	s.Error(err)
}

func (s *MonitorSuite) TestRunStreamsEndToEnd() {
	if testing.Short() {
		s.T().Skip("waits for the link settle delay")
	}

	link := newStreamLink()
	transport := &mockTransport{}
	transport.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			onAdv := args.Get(2).(func(device.Advertisement))
			onAdv(device.Advertisement{ID: "1", Name: "ESP32-EEG", Address: link.Address(), RSSI: -50})
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil)
	transport.On("Connect", mock.Anything, link.Address()).Return(link, nil)

	m, err := New(s.cfg, transport, s.logger)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-link.ready:
	case <-time.After(10 * time.Second):
		s.FailNow("session never subscribed")
	}

	s.Eventually(func() bool {
		return m.Store().Load().Connection == "Streaming"
	}, 5*time.Second, 10*time.Millisecond)

	for _, v := range testutils.Sine(10, 256, 1, bandpower.WindowSize) {
		link.notify(fmt.Sprintf("%g", v))
	}
	link.notify("garbage")

	s.Eventually(func() bool {
		return m.Store().Load().Windows == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		s.FailNow("Run did not return")
	}

	logged, err := samplelog.ReadFile(s.cfg.SampleLogPath())
	s.Require().NoError(err)
	s.Len(logged, bandpower.WindowSize)

	events := m.Store().Load().Events
	s.NotEmpty(events)
	transport.AssertCalled(s.T(), "Connect", mock.Anything, link.Address())
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}
