package main

import (
	"errors"
	"fmt"

	"github.com/srg/solebridge/internal/device"
)

// ErrShutdownTimeout is returned when connected insoles did not disconnect in time.
var ErrShutdownTimeout = errors.New("graceful shutdown timed out")

// formatUserError turns well-known errors into a hint the user can act on.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%s (is Bluetooth enabled?)", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%s (BLE is supported on Linux and macOS only)", err)
	default:
		return err.Error()
	}
}
