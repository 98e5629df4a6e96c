package session

import (
	"fmt"
	"time"
)

const (
	// SettleDelay is how long the session waits after link-up before asking
	// for services. Some peripherals do not answer discovery right away.
	SettleDelay = 2 * time.Second

	// ReconnectBackoff is the fixed wait between link loss and the reconnect attempt.
	ReconnectBackoff = 2 * time.Second
)

const (
	DefaultServiceUUID        = "12345678-1234-1234-1234-123456789abc"
	DefaultCharacteristicUUID = "abcd5678-ab12-cd34-ef56-abcdef123456"
	DefaultNameFilter         = "esp32"
)

// ConnectionState is the lifecycle phase of the single peripheral link.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Scanning
	Connecting
	DiscoveringServices
	DiscoveringCharacteristics
	SubscribingNotifications
	Streaming
	Disconnected
	Reconnecting
)

var stateNames = [...]string{
	Idle:                       "Idle",
	Scanning:                   "Scanning",
	Connecting:                 "Connecting",
	DiscoveringServices:        "DiscoveringServices",
	DiscoveringCharacteristics: "DiscoveringCharacteristics",
	SubscribingNotifications:   "SubscribingNotifications",
	Streaming:                  "Streaming",
	Disconnected:               "Disconnected",
	Reconnecting:               "Reconnecting",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
	return stateNames[s]
}

// Linked reports whether a live link exists in this state.
func (s ConnectionState) Linked() bool {
	switch s {
	case DiscoveringServices, DiscoveringCharacteristics, SubscribingNotifications, Streaming:
		return true
	default:
		return false
	}
}

// PeripheralHandle identifies the targeted peripheral.
type PeripheralHandle struct {
	ID      string
	Name    string
	Address string
	RSSI    int
}

func (h PeripheralHandle) String() string {
	if h.Name == "" {
		return h.Address
	}
	return fmt.Sprintf("%s (%s)", h.Name, h.Address)
}

// Target is either NoTarget or KnownTarget.
type Target interface {
	isTarget()
}

// NoTarget means no peripheral has been selected yet.
type NoTarget struct{}

// KnownTarget holds the peripheral selected by the first matching advertisement.
// It is kept across reconnects.
type KnownTarget struct {
	Handle PeripheralHandle
}

func (NoTarget) isTarget()    {}
func (KnownTarget) isTarget() {}

// TimerKind distinguishes the two scheduled delays.
type TimerKind int

const (
	SettleTimer TimerKind = iota
	ReconnectTimer
)

func (k TimerKind) String() string {
	switch k {
	case SettleTimer:
		return "settle"
	case ReconnectTimer:
		return "reconnect"
	default:
		return fmt.Sprintf("TimerKind(%d)", int(k))
	}
}
