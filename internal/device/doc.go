// Package device provides the Bluetooth Low Energy (BLE) abstractions the bridge
// is written against.
//
// The package defines:
//   - Adapter: the local radio, with power and discovery events
//   - Peer and Client: a discovered remote device and an open transport to it
//   - Service and Characteristic: the GATT objects used for notify and write
//
// Concrete implementations live in sub-packages (goble); tests use the fakes
// from internal/testutils.
package device
