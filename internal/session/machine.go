package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/sample"
)

// Config selects the peripheral and the data endpoint.
type Config struct {
	ServiceUUID        string
	CharacteristicUUID string
	NameFilter         string // case-insensitive substring of the advertised name
}

// DefaultConfig returns the EEG sensor identifiers.
func DefaultConfig() Config {
	return Config{
		ServiceUUID:        DefaultServiceUUID,
		CharacteristicUUID: DefaultCharacteristicUUID,
		NameFilter:         DefaultNameFilter,
	}
}

// Machine is the connection state machine. It is a value: Step returns the
// next machine and never mutates the receiver, so any sequence of events can
// be replayed without a transport.
type Machine struct {
	service string
	char    string
	filter  string

	state  ConnectionState
	target Target
	epoch  uint64
}

// NewMachine returns an Idle machine with no target.
func NewMachine(cfg Config) Machine {
	return Machine{
		service: device.NormalizeUUID(cfg.ServiceUUID),
		char:    device.NormalizeUUID(cfg.CharacteristicUUID),
		filter:  cfg.NameFilter,
		state:   Idle,
		target:  NoTarget{},
	}
}

func (m Machine) State() ConnectionState { return m.state }
func (m Machine) Target() Target         { return m.target }
func (m Machine) Epoch() uint64          { return m.epoch }

// Service returns the normalized service UUID the machine negotiates.
func (m Machine) Service() string { return m.service }

// Characteristic returns the normalized data characteristic UUID.
func (m Machine) Characteristic() string { return m.char }

// Step applies ev and returns the next machine with the effects to execute, in order.
// Events that do not apply to the current state return the machine unchanged and no effects.
func (m Machine) Step(ev Event) (Machine, []Effect) {
	switch e := ev.(type) {
	case PoweredOn:
		return m.onPoweredOn()
	case PoweredOff:
		return m.onPoweredOff()
	case Discovered:
		return m.onDiscovered(e)
	case ScanFailed:
		if m.state != Scanning {
			return m, nil
		}
		return m, []Effect{fault("Scan failed: %v", e.Err)}
	case LinkUp:
		return m.onLinkUp(e)
	case ConnectFailed:
		return m.onConnectFailed(e)
	case TimerFired:
		return m.onTimer(e)
	case ServicesDiscovered:
		return m.onServices(e)
	case CharacteristicsDiscovered:
		return m.onCharacteristics(e)
	case SubscribeResult:
		return m.onSubscribe(e)
	case Notification:
		return m.onNotification(e)
	case LinkLost:
		return m.onLinkLost(e)
	default:
		return m, nil
	}
}

func (m Machine) enter(to ConnectionState, effects []Effect) (Machine, []Effect) {
	from := m.state
	m.state = to
	return m, append(effects, StateChanged{From: from, To: to})
}

func (m Machine) armTimer(kind TimerKind, delay time.Duration) (Machine, Effect) {
	m.epoch++
	return m, StartTimer{Kind: kind, Delay: delay, Epoch: m.epoch}
}

func (m Machine) onPoweredOn() (Machine, []Effect) {
	if m.state != Idle {
		return m, nil
	}
	return m.startScan("Bluetooth powered on, scanning")
}

func (m Machine) startScan(msg string) (Machine, []Effect) {
	m, effects := m.enter(Scanning, []Effect{record("%s", msg)})
	return m, append(effects, StartScan{Services: []string{m.service}})
}

func (m Machine) onPoweredOff() (Machine, []Effect) {
	if m.state == Idle {
		return m, nil
	}

	// Invalidate whatever timer is pending.
	m.epoch++
	effects := []Effect{fault("Bluetooth powered off"), CancelTimers{}}
	if m.state == Scanning {
		effects = append(effects, StopScan{})
	}
	if m.state.Linked() {
		effects = append(effects, CloseLink{})
	}
	return m.enter(Idle, effects)
}

func (m Machine) onDiscovered(e Discovered) (Machine, []Effect) {
	if m.state != Scanning || !e.Advertisement.MatchesName(m.filter) {
		return m, nil
	}

	adv := e.Advertisement
	h := PeripheralHandle{ID: adv.ID, Name: adv.Name, Address: adv.Address, RSSI: adv.RSSI}
	m.target = KnownTarget{Handle: h}

	m, effects := m.enter(Connecting, []Effect{record("Found %s, connecting", h), StopScan{}})
	return m, append(effects, Connect{Handle: h})
}

func (m Machine) onLinkUp(e LinkUp) (Machine, []Effect) {
	if m.state != Connecting && m.state != Reconnecting {
		return m, nil
	}

	m, timer := m.armTimer(SettleTimer, SettleDelay)
	m, effects := m.enter(DiscoveringServices, []Effect{record("Connected to %s", e.Address)})
	return m, append(effects, timer)
}

// onConnectFailed halts a first connect. A reconnect dial that fails keeps
// the known handle and tries again after the back-off, without limit.
func (m Machine) onConnectFailed(e ConnectFailed) (Machine, []Effect) {
	switch m.state {
	case Connecting:
		return m, []Effect{fault("Connection failed: %v", e.Err)}
	case Reconnecting:
		kt, ok := m.target.(KnownTarget)
		if !ok {
			return m, []Effect{fault("Connection failed: %v", e.Err)}
		}
		m, timer := m.armTimer(ReconnectTimer, ReconnectBackoff)
		return m, []Effect{
			fault("Reconnect to %s failed: %v, retrying in %s", kt.Handle, e.Err, ReconnectBackoff),
			timer,
		}
	default:
		return m, nil
	}
}

func (m Machine) onTimer(e TimerFired) (Machine, []Effect) {
	if e.Epoch != m.epoch {
		return m, nil
	}

	switch {
	case e.Kind == SettleTimer && m.state == DiscoveringServices:
		return m, []Effect{
			record("Discovering services"),
			DiscoverServices{Services: []string{m.service}},
		}
	case e.Kind == ReconnectTimer && m.state == Reconnecting:
		kt, ok := m.target.(KnownTarget)
		if !ok {
			return m.startScan("No known peripheral, scanning")
		}
		return m, []Effect{
			record("Reconnecting to %s", kt.Handle),
			Connect{Handle: kt.Handle},
		}
	default:
		return m, nil
	}
}

func (m Machine) onServices(e ServicesDiscovered) (Machine, []Effect) {
	if m.state != DiscoveringServices {
		return m, nil
	}
	if e.Err != nil {
		return m, []Effect{fault("Service discovery failed: %v", e.Err)}
	}
	if !containsUUID(e.Services, m.service) {
		return m, []Effect{fault("Service %s not found", device.ShortenUUID(m.service))}
	}

	m, effects := m.enter(DiscoveringCharacteristics, []Effect{record("Found service %s", device.ShortenUUID(m.service))})
	return m, append(effects, DiscoverCharacteristics{Service: m.service, Characteristics: []string{m.char}})
}

func (m Machine) onCharacteristics(e CharacteristicsDiscovered) (Machine, []Effect) {
	if m.state != DiscoveringCharacteristics {
		return m, nil
	}
	if e.Err != nil {
		return m, []Effect{fault("Characteristic discovery failed: %v", e.Err)}
	}
	if !containsUUID(e.Characteristics, m.char) {
		return m, []Effect{fault("Characteristic %s not found", device.ShortenUUID(m.char))}
	}

	m, effects := m.enter(SubscribingNotifications, []Effect{record("Found characteristic %s, subscribing", device.ShortenUUID(m.char))})
	return m, append(effects, Subscribe{Service: m.service, Characteristic: m.char})
}

func (m Machine) onSubscribe(e SubscribeResult) (Machine, []Effect) {
	if m.state != SubscribingNotifications {
		return m, nil
	}
	if e.Err != nil {
		return m, []Effect{fault("Subscribe failed: %v", e.Err)}
	}
	if !e.Active {
		return m, []Effect{fault("Notifications not active")}
	}
	return m.enter(Streaming, []Effect{record("Streaming")})
}

func (m Machine) onNotification(e Notification) (Machine, []Effect) {
	if m.state != Streaming && m.state != SubscribingNotifications {
		return m, nil
	}

	s, err := sample.Decode(e.Payload, e.At)
	if err != nil {
		return m, []Effect{fault("Dropped payload: %v", err)}
	}
	return m, []Effect{EmitSample{Sample: s}}
}

func (m Machine) onLinkLost(e LinkLost) (Machine, []Effect) {
	var effects []Effect

	switch {
	case m.state.Linked():
		msg := "Disconnected"
		if e.Err != nil && !errors.Is(e.Err, device.ErrNotConnected) {
			msg = fmt.Sprintf("Disconnected: %v", e.Err)
		}
		m, effects = m.enter(Disconnected, []Effect{record("%s", msg), CloseLink{}})
	case m.state == Reconnecting:
		// Lost again during back-off or while dialing: re-arm below.
		effects = []Effect{record("Link lost again, restarting back-off")}
	default:
		return m, nil
	}

	kt, ok := m.target.(KnownTarget)
	if !ok {
		m, more := m.startScan("No known peripheral, scanning")
		return m, append(effects, more...)
	}

	m, timer := m.armTimer(ReconnectTimer, ReconnectBackoff)
	if m.state != Reconnecting {
		var more []Effect
		m, more = m.enter(Reconnecting, []Effect{record("Reconnecting to %s in %s", kt.Handle, ReconnectBackoff)})
		effects = append(effects, more...)
	}
	return m, append(effects, timer)
}

func containsUUID(list []string, want string) bool {
	for _, u := range list {
		if device.NormalizeUUID(u) == want {
			return true
		}
	}
	return false
}

func record(format string, args ...any) Record {
	return Record{Message: fmt.Sprintf(format, args...)}
}

func fault(format string, args ...any) Record {
	return Record{Message: fmt.Sprintf(format, args...), Fault: true}
}
