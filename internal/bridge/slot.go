package bridge

import (
	"fmt"
	"strings"
)

// Slot names one of the fixed device positions the bridge manages.
type Slot string

const (
	Left  Slot = "Left"
	Right Slot = "Right"
)

// Key is the lowercase form used on the wire ("left", "right").
func (s Slot) Key() string {
	return strings.ToLower(string(s))
}

// MarshalText lets a Slot be used as a JSON object key.
func (s Slot) MarshalText() ([]byte, error) {
	return []byte(s.Key()), nil
}

// ParseSlot accepts a slot name in any case.
func ParseSlot(s string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return "", fmt.Errorf("unknown slot %q (expected \"left\" or \"right\")", s)
	}
}

// State is the lifecycle state of a session.
type State int

const (
	Idle State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
