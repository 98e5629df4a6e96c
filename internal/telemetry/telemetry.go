// Package telemetry publishes band-power snapshots and connection state to an
// MQTT v5 broker.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/bands       one message per closed window (JSON, QoS 0)
//	<prefix>/connection  connection state name (retained, QoS 1)
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/eegstream/internal/bandpower"
	"github.com/srg/eegstream/internal/state"
)

const (
	DefaultTopicPrefix = "eegstream"
	DefaultKeepAlive   = 30 // seconds

	TopicBands      = "bands"
	TopicConnection = "connection"
)

// ErrRejected is returned when the broker refuses the connection.
var ErrRejected = errors.New("mqtt connection rejected")

// Config describes the broker and the topic layout.
type Config struct {
	Broker      string // host:port
	TopicPrefix string
	ClientID    string
	KeepAlive   uint16
}

// BandsMessage is the payload published on <prefix>/bands.
type BandsMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Window    uint64             `json:"window"`
	Bands     bandpower.Snapshot `json:"bands"`
	Relative  bandpower.Snapshot `json:"relative"`
	Derived   []state.Metric     `json:"derived,omitempty"`
}

// Publisher owns one MQTT connection.
type Publisher struct {
	cfg    Config
	client *paho.Client
	logger *logrus.Logger

	mu             sync.Mutex
	lastWindow     uint64
	lastConnection string
	closed         bool
}

// Dial connects to the broker and completes the MQTT handshake.
func Dial(ctx context.Context, cfg Config, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "eegstream-" + uuid.NewString()
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("failed to dial mqtt broker %s: %w", cfg.Broker, err)
	}

	p := &Publisher{cfg: cfg, logger: logger}
	p.client = paho.NewClient(paho.ClientConfig{
		ClientID: cfg.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			logger.WithError(err).Warn("MQTT client error")
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			logger.WithField("reason", d.ReasonCode).Warn("MQTT broker disconnected")
		},
	})

	connack, err := p.client.Connect(ctx, &paho.Connect{
		ClientID:   cfg.ClientID,
		KeepAlive:  cfg.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	if connack.ReasonCode != 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: reason code %d", ErrRejected, connack.ReasonCode)
	}

	logger.WithFields(logrus.Fields{
		"broker":    cfg.Broker,
		"client_id": cfg.ClientID,
		"prefix":    cfg.TopicPrefix,
	}).Info("MQTT telemetry connected")
	return p, nil
}

// Topic joins name onto the configured prefix.
func (p *Publisher) Topic(name string) string {
	return p.cfg.TopicPrefix + "/" + name
}

// PublishView publishes whatever changed since the previous call: a new band
// window and/or a new connection state.
func (p *Publisher) PublishView(ctx context.Context, v *state.View) error {
	p.mu.Lock()
	sendBands := v.Windows > 0 && v.Windows != p.lastWindow
	sendConn := v.Connection != p.lastConnection
	p.mu.Unlock()

	if sendConn {
		if err := p.publish(ctx, TopicConnection, []byte(v.Connection), 1, true); err != nil {
			return err
		}
		p.mu.Lock()
		p.lastConnection = v.Connection
		p.mu.Unlock()
	}

	if sendBands {
		payload, err := json.Marshal(BandsMessage{
			Timestamp: v.UpdatedAt.UTC(),
			Window:    v.Windows,
			Bands:     v.Bands,
			Relative:  v.Bands.Relative(),
			Derived:   v.Derived,
		})
		if err != nil {
			return fmt.Errorf("failed to encode bands: %w", err)
		}
		if err := p.publish(ctx, TopicBands, payload, 0, false); err != nil {
			return err
		}
		p.mu.Lock()
		p.lastWindow = v.Windows
		p.mu.Unlock()
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, name string, payload []byte, qos byte, retain bool) error {
	topic := p.Topic(name)
	_, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	p.logger.WithFields(logrus.Fields{
		"topic": topic,
		"bytes": len(payload),
	}).Trace("MQTT published")
	return nil
}

// Run publishes every view received from views until ctx ends or views closes.
// Publish failures are logged and do not stop the loop.
func (p *Publisher) Run(ctx context.Context, views <-chan *state.View) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if err := p.PublishView(ctx, v); err != nil {
				p.logger.WithError(err).Warn("Telemetry publish failed")
			}
		}
	}
}

// Close sends DISCONNECT. Safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
