//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/solebridge/internal/device"
)

func newDevice() (ble.Device, error) {
	return nil, fmt.Errorf("BLE is not available on %s: %w", runtime.GOOS, device.ErrUnsupported)
}
