package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/eegstream/internal/device"
)

// errorPatterns lists go-ble and HCI messages, lower-cased, by the sentinel they mean.
// First match wins.
var errorPatterns = []struct {
	fragment string
	sentinel error
}{
	{"is bluetooth turned on", device.ErrBluetoothOff}, // darwin: central manager not powered on
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"can't init hci", device.ErrBluetoothOff}, // linux: no adapter or adapter down
	{"not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
}

// NormalizeError wraps err with the device sentinel it corresponds to, keeping
// the original message. Unrecognised errors are returned as is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %v", p.sentinel, err)
		}
	}
	return err
}
