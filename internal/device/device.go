package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps generic transport error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// Adapter is the local BLE radio. It reports power changes, discovered peers
// and unexpected scan termination through the EventHandler passed to Open.
type Adapter interface {
	// Open acquires the radio and starts delivering events to handler.
	// The current power state is always reported before Open returns.
	Open(ctx context.Context, handler EventHandler) error
	Close() error

	// StartScan begins discovery filtered to peers advertising serviceUUID.
	StartScan(serviceUUID string, allowDuplicates bool) error
	StopScan() error
}

// Peer is a remote device seen in an advertisement.
type Peer interface {
	Name() string
	Address() string
	RSSI() int

	// Connect opens a transport to the peer. The context bounds connection
	// establishment only; the returned Client outlives it.
	Connect(ctx context.Context) (Client, error)
}

// Client is an open transport to a peer.
type Client interface {
	Address() string
	DiscoverService(uuid string) (Service, error)

	// Disconnected is closed once the transport is gone, for whatever reason.
	Disconnected() <-chan struct{}
	IsConnected() bool
	Disconnect() error
}

// Service represents a GATT service
type Service interface {
	UUID() string
	DiscoverCharacteristics(uuids ...string) ([]Characteristic, error)
}

// Characteristic represents a GATT characteristic endpoint
type Characteristic interface {
	UUID() string
	Properties() Properties

	// OnData registers the handler for push notifications. It must be
	// called before Subscribe so that no delivered value is lost.
	OnData(handler func(data []byte))
	Subscribe() error
	Write(data []byte, withResponse bool) error
}
