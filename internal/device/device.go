package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected ConnectionState = "not_connected"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// ErrNotConnected matches any ConnectionError in the NotConnected state.
var ErrNotConnected = &ConnectionError{State: NotConnected}

// Operation errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is a single observed advertising packet.
type Advertisement struct {
	ID       string // stable platform identifier; equals Address where the platform exposes one
	Name     string
	Address  string
	RSSI     int
	Services []string // normalized
}

// MatchesName reports whether the advertised name contains family, case-insensitively.
// An empty family matches nothing.
func (a Advertisement) MatchesName(family string) bool {
	if family == "" || a.Name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(a.Name), strings.ToLower(family))
}

// AdvertisesService reports whether the advertisement lists the given service UUID.
func (a Advertisement) AdvertisesService(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, s := range a.Services {
		if NormalizeUUID(s) == want {
			return true
		}
	}
	return false
}

// Transport is the BLE central role as seen by the session.
type Transport interface {
	// Scan delivers advertisements advertising any of services until ctx is done
	// or the scan fails. An empty services list disables filtering.
	Scan(ctx context.Context, services []string, handler func(Advertisement)) error

	// Connect dials the peripheral at address. The returned Link is live until
	// Close is called or Disconnected fires.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is one established connection to a peripheral.
type Link interface {
	Address() string

	// DiscoverServices returns the subset of ids the peripheral offers, normalized.
	DiscoverServices(ids []string) ([]string, error)

	// DiscoverCharacteristics returns the subset of ids present in service, normalized.
	DiscoverCharacteristics(service string, ids []string) ([]string, error)

	// Subscribe enables notifications on the characteristic. A nil error means
	// notifications are active. handler runs on the transport's goroutine and
	// must not block.
	Subscribe(service, characteristic string, handler func([]byte)) error

	// Disconnected is closed once the link is lost or closed.
	Disconnected() <-chan struct{}

	Close() error
}
