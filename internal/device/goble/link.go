package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/groutine"
)

// link is a live go-ble client connection. Discovered GATT objects are cached
// by normalized UUID so later steps can refer to them by string.
type link struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	mu       sync.Mutex
	services map[string]*ble.Service
	chars    map[string]*ble.Characteristic // key: service + "/" + char

	disconnected chan struct{}
	closeOnce    sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

func newLink(address string, client ble.Client, logger *logrus.Logger) *link {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		address:      address,
		client:       client,
		logger:       logger,
		services:     make(map[string]*ble.Service),
		chars:        make(map[string]*ble.Characteristic),
		disconnected: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	if c, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(ctx, "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-c.Disconnected():
				l.logger.WithField("address", address).Warn("Peripheral reported disconnection")
				l.markDisconnected()
			case <-ctx.Done():
			}
		})
	} else {
		l.logger.Debug("Client does not support Disconnected() channel")
	}
	return l
}

func (l *link) Address() string { return l.address }

func (l *link) Disconnected() <-chan struct{} { return l.disconnected }

func (l *link) markDisconnected() {
	l.closeOnce.Do(func() {
		close(l.disconnected)
		l.cancel()
	})
}

func parseUUIDs(ids []string) ([]ble.UUID, error) {
	out := make([]ble.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := ble.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (l *link) DiscoverServices(ids []string) ([]string, error) {
	filter, err := parseUUIDs(ids)
	if err != nil {
		return nil, err
	}

	svcs, err := l.client.DiscoverServices(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", NormalizeError(err))
	}

	wanted := device.NormalizeUUIDs(ids)
	l.mu.Lock()
	defer l.mu.Unlock()

	found := make([]string, 0, len(svcs))
	for _, s := range svcs {
		uuid := device.NormalizeUUID(s.UUID.String())
		l.logger.WithField("service_uuid", uuid).Debug("Found service UUID")
		if len(wanted) > 0 && !contains(wanted, uuid) {
			continue
		}
		l.services[uuid] = s
		found = append(found, uuid)
	}
	return found, nil
}

func (l *link) DiscoverCharacteristics(service string, ids []string) ([]string, error) {
	svcUUID := device.NormalizeUUID(service)

	l.mu.Lock()
	svc, ok := l.services[svcUUID]
	l.mu.Unlock()
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}

	filter, err := parseUUIDs(ids)
	if err != nil {
		return nil, err
	}

	chars, err := l.client.DiscoverCharacteristics(filter, svc)
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", NormalizeError(err))
	}

	wanted := device.NormalizeUUIDs(ids)
	found := make([]string, 0, len(chars))
	for _, c := range chars {
		uuid := device.NormalizeUUID(c.UUID.String())
		if len(wanted) > 0 && !contains(wanted, uuid) {
			continue
		}

		// CCCD lookup; some stacks need it before Subscribe. Best effort.
		if _, derr := l.client.DiscoverDescriptors(nil, c); derr != nil {
			l.logger.WithFields(logrus.Fields{
				"char_uuid": uuid,
				"error":     derr,
			}).Warn("Failed to discover descriptors")
		}

		l.mu.Lock()
		l.chars[svcUUID+"/"+uuid] = c
		l.mu.Unlock()
		found = append(found, uuid)
	}
	return found, nil
}

func (l *link) Subscribe(service, characteristic string, handler func([]byte)) error {
	svcUUID := device.NormalizeUUID(service)
	charUUID := device.NormalizeUUID(characteristic)

	l.mu.Lock()
	c, ok := l.chars[svcUUID+"/"+charUUID]
	l.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}

	if err := l.client.Subscribe(c, false, func(data []byte) {
		handler(data)
	}); err != nil {
		l.logger.WithFields(logrus.Fields{
			"serviceUUID": svcUUID,
			"charUUID":    charUUID,
			"error":       err,
		}).Error("Failed to subscribe to characteristic notifications")
		return NormalizeError(err)
	}

	l.logger.WithFields(logrus.Fields{
		"serviceUUID": svcUUID,
		"charUUID":    charUUID,
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}

func (l *link) Close() error {
	select {
	case <-l.disconnected:
		return nil
	default:
	}

	err := l.client.CancelConnection()
	l.markDisconnected()
	if err != nil {
		l.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	l.logger.WithField("address", l.address).Info("BLE device disconnected successfully")
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ device.Link = (*link)(nil)
