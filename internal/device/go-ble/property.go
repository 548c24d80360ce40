package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/solebridge/internal/device"
)

var propertyFlags = []struct {
	ble  ble.Property
	prop device.Properties
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropSignedWrite},
	{ble.CharExtended, device.PropExtended},
}

// NewProperties converts ble.Property bit flags to device.Properties.
func NewProperties(p ble.Property) device.Properties {
	var props device.Properties
	for _, f := range propertyFlags {
		if p&f.ble != 0 {
			props |= f.prop
		}
	}
	return props
}
