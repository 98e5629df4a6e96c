package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/eegstream/internal/device"
)

// Transport implements device.Transport over a go-ble central device.
// The underlying ble.Device is created on first use through DeviceFactory.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble transport. A nil logger gets a default one.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	t.logger.Debug("BLE adapter initialized")
	return dev, nil
}

// Scan runs a passive scan, forwarding advertisements that list one of services.
// Returns nil when ctx is cancelled.
func (t *Transport) Scan(ctx context.Context, services []string, handler func(device.Advertisement)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	filter := device.NormalizeUUIDs(services)
	t.logger.WithField("services", filter).Info("Scanning for BLE peripherals...")

	err = dev.Scan(ctx, false, func(a ble.Advertisement) {
		adv := toAdvertisement(a)
		if !advertisesAny(adv, filter) {
			return
		}
		handler(adv)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded)) {
			return nil
		}
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

// Connect dials the peripheral at address.
func (t *Transport) Connect(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", address).Info("Connecting to BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	return newLink(address, client, t.logger), nil
}

var _ device.Transport = (*Transport)(nil)
