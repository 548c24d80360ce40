package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

const hciTimeout = 20 * time.Second

var scanParams = cmd.LESetScanParameters{
	LEScanType:           1,    // Active scanning, the name is in the scan response
	LEScanInterval:       0x10, // 10ms
	LEScanWindow:         0x10, // 10ms
	OwnAddressType:       0,    // Static
	ScanningFilterPolicy: 0,    // Accept all
}

func newDevice() (ble.Device, error) {
	return linux.NewDevice(ble.OptListenerTimeout(hciTimeout), ble.OptDialerTimeout(hciTimeout), ble.OptScanParams(scanParams))
}
