package device

import "strings"

// Properties is the characteristic property bit set as defined by the GATT spec.
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signed-write"},
	{PropExtended, "extended"},
}

// Has reports whether every flag in f is set.
func (p Properties) Has(f Properties) bool {
	return p&f == f
}

// CanNotify reports whether the endpoint supports push notifications.
func (p Properties) CanNotify() bool {
	return p.Has(PropNotify)
}

// CanWrite reports whether the endpoint accepts writes of either kind.
func (p Properties) CanWrite() bool {
	return p&(PropWrite|PropWriteWithoutResponse) != 0
}

func (p Properties) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.flag) {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
