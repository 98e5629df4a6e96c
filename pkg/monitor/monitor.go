// Package monitor wires a session to its consumers: it is the session
// observer that feeds accepted samples into the band-power pipeline, the
// sample log and the PTY mirror, and publishes everything on a state Store.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	eegstream "github.com/srg/eegstream"
	"github.com/srg/eegstream/internal/bandpower"
	"github.com/srg/eegstream/internal/derive"
	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/eventlog"
	"github.com/srg/eegstream/internal/groutine"
	"github.com/srg/eegstream/internal/ptymirror"
	"github.com/srg/eegstream/internal/sample"
	"github.com/srg/eegstream/internal/samplelog"
	"github.com/srg/eegstream/internal/session"
	"github.com/srg/eegstream/internal/state"
	"github.com/srg/eegstream/internal/telemetry"
	"github.com/srg/eegstream/pkg/config"
)

// Monitor owns one sensor session and everything downstream of it.
type Monitor struct {
	cfg    *config.Config
	logger *logrus.Logger

	session  *session.Session
	store    *state.Store
	events   *eventlog.Log
	pipeline *bandpower.Pipeline
	engine   *derive.Engine
	log      *samplelog.Log
	mirror   *ptymirror.Mirror

	closeOnce sync.Once
	closeErr  error
}

// New builds the pipeline described by cfg on top of transport. Nothing runs
// until Run is called.
func New(cfg *config.Config, transport device.Transport, logger *logrus.Logger) (*Monitor, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pipeline, err := bandpower.NewPipeline(cfg.Pipeline.SampleRate)
	if err != nil {
		return nil, err
	}

	engine, err := LoadDeriveEngine(cfg.Pipeline.DeriveScript, logger)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		store:    state.NewStore(),
		events:   eventlog.New(eventlog.DefaultCapacity),
		pipeline: pipeline,
		engine:   engine,
	}

	if !cfg.SampleLog.Disabled {
		m.log, err = samplelog.Open(cfg.SampleLogPath(), cfg.SampleLog.BufferSize, logger)
		if err != nil {
			m.Close()
			return nil, err
		}
	}

	if cfg.Mirror.Enabled {
		m.mirror, err = ptymirror.Open(ptymirror.Options{
			BufferSize: cfg.Mirror.BufferSize,
			Symlink:    cfg.Mirror.Symlink,
			Logger:     logger,
		})
		if err != nil {
			m.Close()
			return nil, err
		}
	}

	m.session = session.New(session.Config{
		ServiceUUID:        cfg.Device.ServiceUUID,
		CharacteristicUUID: cfg.Device.CharacteristicUUID,
		NameFilter:         cfg.Device.NameFilter,
	}, transport, m, logger, session.Options{
		ConnectTimeout: cfg.Device.ConnectTimeout,
	})

	return m, nil
}

// LoadDeriveEngine loads path, or the embedded default script when path is empty.
func LoadDeriveEngine(path string, logger *logrus.Logger) (*derive.Engine, error) {
	if path == "" {
		return derive.New(eegstream.DefaultDeriveScript, "derive.lua", logger)
	}
	return derive.NewFromFile(path, logger)
}

// Store is the published state surface.
func (m *Monitor) Store() *state.Store { return m.store }

// Session returns the underlying connection runner.
func (m *Monitor) Session() *session.Session { return m.session }

// SampleLog returns the sample log, or nil when disabled.
func (m *Monitor) SampleLog() *samplelog.Log { return m.log }

// Mirror returns the PTY mirror, or nil when disabled.
func (m *Monitor) Mirror() *ptymirror.Mirror { return m.mirror }

// Run starts the sample log and optional telemetry, then drives the session
// until ctx ends. Resources are released before it returns.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.Close()

	if m.log != nil {
		if err := m.log.Start(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	group := groutine.NewGroup(ctx, "monitor")
	defer func() {
		cancel()
		group.Wait()
	}()

	if m.cfg.MQTT.Broker != "" {
		pub, err := telemetry.Dial(ctx, telemetry.Config{
			Broker:      m.cfg.MQTT.Broker,
			TopicPrefix: m.cfg.MQTT.TopicPrefix,
			ClientID:    m.cfg.MQTT.ClientID,
		}, m.logger)
		if err != nil {
			// Telemetry is optional; the sensor keeps streaming without it.
			m.logger.WithError(err).Warn("MQTT telemetry disabled")
			m.OnRecord(fmt.Sprintf("Telemetry unavailable: %v", err), true)
		} else {
			views, unwatch := m.store.Watch()
			group.Go("telemetry", func(ctx context.Context) {
				defer unwatch()
				defer pub.Close()
				if err := pub.Run(ctx, views); err != nil && !errors.Is(err, context.Canceled) {
					m.logger.WithError(err).Warn("Telemetry stopped")
				}
			})
		}
	}

	return m.session.Run(ctx)
}

// Close stops the sample log and releases the mirror and script engine.
// Safe to call more than once.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		if m.log != nil {
			if err := m.log.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if m.mirror != nil {
			if err := m.mirror.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if m.engine != nil {
			m.engine.Close()
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

// OnState implements session.Observer.
func (m *Monitor) OnState(from, to session.ConnectionState) {
	m.store.SetConnection(to.String())
	if to == session.Disconnected {
		m.store.MarkDisconnected()
	}
}

// OnRecord implements session.Observer.
func (m *Monitor) OnRecord(msg string, fault bool) {
	m.events.Append(msg)
	m.store.SetEvents(m.events.Snapshot())
}

// OnSample implements session.Observer.
func (m *Monitor) OnSample(s sample.Sample) {
	m.store.SetSample(s)
	if m.log != nil {
		m.log.Append(s)
	}
	if m.mirror != nil {
		m.mirror.WriteSample(s)
	}

	snap, err := m.pipeline.Ingest(s.Value)
	if err != nil {
		m.logger.WithError(err).WithField("value", s.Value).Debug("Sample rejected by pipeline")
		return
	}
	if snap == nil {
		return
	}

	derived := m.derive(*snap)
	m.store.SetBands(*snap, derived, m.pipeline.Windows())
}

func (m *Monitor) derive(snap bandpower.Snapshot) []state.Metric {
	metrics, err := m.engine.Derive(snap)
	if err != nil {
		m.logger.WithError(err).Warn("Derived metrics failed")
		return nil
	}
	return Metrics(metrics)
}

// Metrics converts derive output into the published ordered form.
func Metrics(om *derive.Metrics) []state.Metric {
	if om == nil {
		return nil
	}
	out := make([]state.Metric, 0, om.Len())
	for p := om.Oldest(); p != nil; p = p.Next() {
		out = append(out, state.Metric{Name: p.Key, Value: p.Value})
	}
	return out
}
