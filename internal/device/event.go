package device

// PowerState is the adapter power state as reported by the platform stack.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PoweredOff
	PoweredOn
)

func (s PowerState) String() string {
	switch s {
	case PoweredOff:
		return "poweredOff"
	case PoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// Event is anything an Adapter reports asynchronously.
type Event interface {
	adapterEvent()
}

// EventHandler receives adapter events. Implementations must not block for long:
// handlers are invoked from the radio goroutines.
type EventHandler func(Event)

// PowerStateChanged reports a new adapter power state.
type PowerStateChanged struct {
	State PowerState
}

// PeerDiscovered reports an advertisement matching the active scan filter.
type PeerDiscovered struct {
	Peer Peer
}

// ScanStopped reports that an active scan ended without StopScan being called.
type ScanStopped struct {
	Err error
}

func (PowerStateChanged) adapterEvent() {}
func (PeerDiscovered) adapterEvent()    {}
func (ScanStopped) adapterEvent()       {}
