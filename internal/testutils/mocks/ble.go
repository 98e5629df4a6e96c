//go:build test

// Package mocks holds testify mocks for the go-ble interfaces used by the transport adapter.
// Each mock embeds the go-ble interface so only the methods the adapter calls need stubbing;
// calling anything else panics.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice mocks ble.Device (Scan, Dial).
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

// MockClient mocks ble.Client (discovery, subscription, disconnection).
type MockClient struct {
	ble.Client
	mock.Mock

	// DisconnectedCh is returned by Disconnected; close it to simulate link loss.
	DisconnectedCh chan struct{}
}

// NewMockClient creates a MockClient with an open DisconnectedCh.
func NewMockClient() *MockClient {
	return &MockClient{DisconnectedCh: make(chan struct{})}
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	s, _ := args.Get(0).([]*ble.Service)
	return s, args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	c, _ := args.Get(0).([]*ble.Characteristic)
	return c, args.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	d, _ := args.Get(0).([]*ble.Descriptor)
	return d, args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.DisconnectedCh
}

// MockAdvertisement mocks ble.Advertisement with fixed field values.
type MockAdvertisement struct {
	ble.Advertisement

	AdvName     string
	AdvAddress  string
	AdvRSSI     int
	AdvServices []ble.UUID
}

func (a *MockAdvertisement) LocalName() string        { return a.AdvName }
func (a *MockAdvertisement) Addr() ble.Addr           { return ble.NewAddr(a.AdvAddress) }
func (a *MockAdvertisement) RSSI() int                { return a.AdvRSSI }
func (a *MockAdvertisement) Services() []ble.UUID     { return a.AdvServices }
func (a *MockAdvertisement) Connectable() bool        { return true }
func (a *MockAdvertisement) ManufacturerData() []byte { return nil }
