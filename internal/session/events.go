package session

import (
	"time"

	"github.com/srg/eegstream/internal/device"
)

// Event is an input to Machine.Step. The set is closed.
type Event interface {
	isEvent()
}

// PoweredOn reports the adapter is ready.
type PoweredOn struct{}

// PoweredOff reports the adapter went away.
type PoweredOff struct{}

// Discovered carries one advertisement seen while scanning.
type Discovered struct {
	Advertisement device.Advertisement
}

// ScanFailed reports that the scan could not run.
type ScanFailed struct {
	Err error
}

// LinkUp reports the connection to Address is established.
type LinkUp struct {
	Address string
}

// ConnectFailed reports a failed connection attempt.
type ConnectFailed struct {
	Err error
}

// TimerFired reports a scheduled delay elapsed. Stale epochs are ignored.
type TimerFired struct {
	Kind  TimerKind
	Epoch uint64
}

// ServicesDiscovered carries the normalized services found on the link.
type ServicesDiscovered struct {
	Services []string
	Err      error
}

// CharacteristicsDiscovered carries the normalized characteristics found in Service.
type CharacteristicsDiscovered struct {
	Service         string
	Characteristics []string
	Err             error
}

// SubscribeResult reports whether notifications are active. Transports whose
// subscribe call cannot report an inactive subscription set Active to Err == nil.
type SubscribeResult struct {
	Active bool
	Err    error
}

// Notification carries one raw payload from the data characteristic.
type Notification struct {
	Payload []byte
	At      time.Time
}

// LinkLost reports the link dropped.
type LinkLost struct {
	Err error
}

func (PoweredOn) isEvent()                 {}
func (PoweredOff) isEvent()                {}
func (Discovered) isEvent()                {}
func (ScanFailed) isEvent()                {}
func (LinkUp) isEvent()                    {}
func (ConnectFailed) isEvent()             {}
func (TimerFired) isEvent()                {}
func (ServicesDiscovered) isEvent()        {}
func (CharacteristicsDiscovered) isEvent() {}
func (SubscribeResult) isEvent()           {}
func (Notification) isEvent()              {}
func (LinkLost) isEvent()                  {}
