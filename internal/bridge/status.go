package bridge

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SlotStatus is the externally visible state of one session.
type SlotStatus struct {
	Slot       Slot   `json:"-"`
	Connected  bool   `json:"connected"`
	Connecting bool   `json:"connecting"`
	TargetName string `json:"targetName"`
	PeerName   string `json:"peerName,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Status is a point-in-time snapshot of every session and the scanner.
// It marshals to {"left": {...}, "right": {...}, "scanning": bool}.
type Status struct {
	Slots    []SlotStatus
	Scanning bool
}

// Slot returns the status of slot s.
func (st Status) Slot(s Slot) (SlotStatus, bool) {
	for _, ss := range st.Slots {
		if ss.Slot == s {
			return ss, true
		}
	}
	return SlotStatus{}, false
}

func (st Status) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, any](len(st.Slots) + 1)
	for _, ss := range st.Slots {
		om.Set(ss.Slot.Key(), ss)
	}
	om.Set("scanning", st.Scanning)
	return json.Marshal(om)
}

// Reading is one decoded frame from a slot.
type Reading struct {
	Slot   Slot
	Values []uint16
}

// Publisher fans status and readings out to viewers. Both methods are called
// from the coordinator loop and must not block.
type Publisher interface {
	PublishStatus(Status)
	PublishReading(Reading)
}

type nopPublisher struct{}

func (nopPublisher) PublishStatus(Status)   {}
func (nopPublisher) PublishReading(Reading) {}

// SlotStats are per-slot counters since startup.
type SlotStats struct {
	Frames          uint64 `json:"frames"`
	Malformed       uint64 `json:"malformed"`
	ConnectAttempts uint64 `json:"connectAttempts"`
}

// Snapshot is the latest status plus counters, safe to read from any goroutine.
type Snapshot struct {
	Status Status               `json:"status"`
	Stats  map[string]SlotStats `json:"stats"`
}
