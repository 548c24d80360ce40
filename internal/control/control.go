// Package control turns viewer commands into coordinator calls.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/bridge"
)

const (
	CommandGetStatus  = "get-ble-status"
	CommandStartScan  = "start-ble-scan"
	CommandStopScan   = "stop-ble-scan"
	CommandDisconnect = "disconnect-ble-device"
	CommandActuator   = "buzzer"
)

// ErrUnknownCommand is returned for command names the bridge does not serve.
var ErrUnknownCommand = errors.New("unknown command")

// Target is the part of the coordinator commands drive.
type Target interface {
	RequestStatus() error
	StartScan() error
	StopScan() error
	Disconnect(slot bridge.Slot) error
	SetActuator(slot bridge.Slot, on bool) error
}

// ActuatorRequest is the payload of the buzzer command.
type ActuatorRequest struct {
	Device string `json:"device"`
	On     bool   `json:"on"`
}

// Dispatcher decodes commands and invokes the target.
type Dispatcher struct {
	target Target
	logger *logrus.Logger
}

func NewDispatcher(target Target, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{target: target, logger: logger}
}

// Handle runs the command name with its raw JSON payload.
func (d *Dispatcher) Handle(_ context.Context, name string, payload json.RawMessage) error {
	switch name {
	case CommandGetStatus:
		return d.target.RequestStatus()
	case CommandStartScan:
		d.logger.Info("Received request to start scanning")
		return d.target.StartScan()
	case CommandStopScan:
		d.logger.Info("Received request to stop scanning")
		return d.target.StopScan()
	case CommandDisconnect:
		slot, err := decodeSlot(payload)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		d.logger.WithField("slot", slot).Info("Received request to disconnect device")
		return d.target.Disconnect(slot)
	case CommandActuator:
		var req ActuatorRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%s: invalid payload: %w", name, err)
		}
		slot, err := bridge.ParseSlot(req.Device)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		d.logger.WithFields(logrus.Fields{
			"slot": slot,
			"on":   req.On,
		}).Info("Received actuator command")
		return d.target.SetActuator(slot, req.On)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// decodeSlot accepts either a bare JSON string ("left") or {"device": "left"}.
func decodeSlot(payload json.RawMessage) (bridge.Slot, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("missing device")
	}
	var name string
	if err := json.Unmarshal(payload, &name); err != nil {
		var obj struct {
			Device string `json:"device"`
		}
		if err2 := json.Unmarshal(payload, &obj); err2 != nil {
			return "", fmt.Errorf("invalid payload: %w", err)
		}
		name = obj.Device
	}
	return bridge.ParseSlot(name)
}
