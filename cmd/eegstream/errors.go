package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/srg/eegstream/internal/derive"
	"github.com/srg/eegstream/internal/device"
	"github.com/srg/eegstream/internal/samplelog"
)

// FormatUserError turns internal errors into messages for the terminal.
func FormatUserError(err error) string {
	var pathErr *fs.PathError
	var scriptErr *derive.ScriptError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth LE is not supported on this platform."
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("Timed out waiting for the sensor (%v).", err)
	case errors.Is(err, samplelog.ErrCorrupt):
		return fmt.Sprintf("The sample log is corrupt: %v", err)
	case errors.As(err, &scriptErr):
		return fmt.Sprintf("Derive script %s: %s", scriptErr.Type, scriptErr.Message)
	case errors.As(err, &pathErr) && errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("File not found: %s", pathErr.Path)
	default:
		return err.Error()
	}
}
