package session

import (
	"time"

	"github.com/srg/eegstream/internal/sample"
)

// Effect is an output of Machine.Step, executed by the Session runner. The set is closed.
type Effect interface {
	isEffect()
}

// StateChanged is emitted for every state entered, including pass-through ones.
type StateChanged struct {
	From, To ConnectionState
}

// StartScan starts a passive scan filtered by Services.
type StartScan struct {
	Services []string
}

// StopScan stops the running scan.
type StopScan struct{}

// Connect dials the peripheral.
type Connect struct {
	Handle PeripheralHandle
}

// StartTimer schedules TimerFired{Kind, Epoch} after Delay, replacing any
// pending timer of the same kind.
type StartTimer struct {
	Kind  TimerKind
	Delay time.Duration
	Epoch uint64
}

// CancelTimers stops every pending timer.
type CancelTimers struct{}

// DiscoverServices asks the link for the listed services only.
type DiscoverServices struct {
	Services []string
}

// DiscoverCharacteristics asks the link for the listed characteristics of Service.
type DiscoverCharacteristics struct {
	Service         string
	Characteristics []string
}

// Subscribe enables notifications on Characteristic.
type Subscribe struct {
	Service        string
	Characteristic string
}

// EmitSample forwards a decoded sample downstream.
type EmitSample struct {
	Sample sample.Sample
}

// Record adds a human-readable line to the event log.
type Record struct {
	Message string
	Fault   bool
}

// CloseLink releases the current link.
type CloseLink struct{}

func (StateChanged) isEffect()            {}
func (StartScan) isEffect()               {}
func (StopScan) isEffect()                {}
func (Connect) isEffect()                 {}
func (StartTimer) isEffect()              {}
func (CancelTimers) isEffect()            {}
func (DiscoverServices) isEffect()        {}
func (DiscoverCharacteristics) isEffect() {}
func (Subscribe) isEffect()               {}
func (EmitSample) isEffect()              {}
func (Record) isEffect()                  {}
func (CloseLink) isEffect()               {}
