package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
	"github.com/srg/solebridge/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking as goble.DeviceFactory
var DeviceFactory = func() (ble.Device, error) {
	return newDevice()
}

// PowerPollInterval is how often a powered-off radio is probed for power-on.
var PowerPollInterval = 3 * time.Second

// Adapter implements device.Adapter on top of a go-ble device.
//
// go-ble exposes no power-state stream, so power is inferred: a device that can
// be created is powered on, a factory or scan failure mapped to
// device.ErrBluetoothOff is powered off, and a powered-off adapter is re-probed
// every PowerPollInterval until it comes back.
type Adapter struct {
	logger *logrus.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	dev     ble.Device
	handler device.EventHandler
	power   device.PowerState

	scanCancel context.CancelFunc
	scanDone   chan struct{}
	scanSeq    uint64
}

// NewAdapter creates an unopened adapter.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

// Open acquires the radio. A radio that is switched off is not an error:
// PoweredOff is reported and the adapter keeps probing in the background.
func (a *Adapter) Open(ctx context.Context, handler device.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("event handler cannot be nil")
	}

	a.mu.Lock()
	if a.handler != nil {
		a.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.handler = handler
	a.mu.Unlock()

	err := a.acquire()
	if err == nil {
		return nil
	}
	if !errors.Is(err, device.ErrBluetoothOff) {
		a.mu.Lock()
		a.cancel()
		a.handler = nil
		a.mu.Unlock()
		return fmt.Errorf("failed to create BLE device: %w", err)
	}

	a.logger.WithField("error", err).Warn("Bluetooth adapter is powered off, waiting for it to come back")
	a.setPower(device.PoweredOff)
	a.pollPower()
	return nil
}

// acquire creates the underlying device and reports PoweredOn on success.
func (a *Adapter) acquire() error {
	dev, err := DeviceFactory()
	if err != nil {
		return NormalizeError(err)
	}

	a.mu.Lock()
	a.dev = dev
	a.mu.Unlock()

	a.logger.Debug("BLE device created")
	a.setPower(device.PoweredOn)
	return nil
}

func (a *Adapter) pollPower() {
	groutine.Go(a.ctx, "ble-power-poll", func(ctx context.Context) {
		ticker := time.NewTicker(PowerPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := a.acquire()
				if err == nil {
					return
				}
				if !errors.Is(err, device.ErrBluetoothOff) {
					a.logger.WithField("error", err).Warn("Failed to create BLE device")
				}
			}
		}
	})
}

// setPower reports a power transition. Repeated states are suppressed.
func (a *Adapter) setPower(state device.PowerState) {
	a.mu.Lock()
	if a.power == state {
		a.mu.Unlock()
		return
	}
	a.power = state
	handler := a.handler
	a.mu.Unlock()

	a.logger.WithField("state", state).Info("Bluetooth adapter state changed")
	if handler != nil {
		handler(device.PowerStateChanged{State: state})
	}
}

func (a *Adapter) emit(ev device.Event) {
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

// Close stops any scan and releases the radio.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	dev := a.dev
	a.dev = nil
	a.handler = nil
	a.mu.Unlock()

	if dev == nil {
		return nil
	}
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("failed to stop BLE device: %w", NormalizeError(err))
	}
	return nil
}

// StartScan begins discovery in the background. Only advertisements carrying
// serviceUUID are reported. A scan that is already running is left untouched.
func (a *Adapter) StartScan(serviceUUID string, allowDuplicates bool) error {
	filter, err := ble.Parse(serviceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev == nil {
		return device.ErrNotInitialized
	}
	if a.scanCancel != nil {
		return nil
	}

	dev := a.dev
	prevDone := a.scanDone
	done := make(chan struct{})
	scanCtx, cancel := context.WithCancel(a.ctx)
	a.scanSeq++
	seq := a.scanSeq
	a.scanCancel = cancel
	a.scanDone = done

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		defer close(done)

		// the controller refuses a new scan until the previous one is torn down
		if prevDone != nil {
			select {
			case <-prevDone:
			case <-ctx.Done():
				return
			}
		}

		a.logger.WithField("service_uuid", serviceUUID).Debug("Scan started")
		err := dev.Scan(ctx, allowDuplicates, func(adv ble.Advertisement) {
			if !advertises(adv, filter) {
				return
			}
			a.emit(device.PeerDiscovered{Peer: newPeer(a, adv)})
		})

		a.mu.Lock()
		current := a.scanSeq == seq && a.scanCancel != nil
		if current {
			a.scanCancel = nil
		}
		a.mu.Unlock()

		if !current || ctx.Err() != nil {
			a.logger.Debug("Scan stopped")
			return
		}

		err = NormalizeError(err)
		if errors.Is(err, device.ErrBluetoothOff) {
			a.mu.Lock()
			a.dev = nil
			a.mu.Unlock()
			a.setPower(device.PoweredOff)
			a.pollPower()
			return
		}
		a.logger.WithField("error", err).Warn("Scan ended unexpectedly")
		a.emit(device.ScanStopped{Err: err})
	})
	return nil
}

// StopScan requests the running scan to end and returns without waiting.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanCancel == nil {
		return nil
	}
	a.scanCancel()
	a.scanCancel = nil
	return nil
}

// waitScanIdle blocks until the last scan goroutine has returned.
func (a *Adapter) waitScanIdle(ctx context.Context) error {
	a.mu.Lock()
	done := a.scanDone
	active := a.scanCancel != nil
	a.mu.Unlock()

	if done == nil || active {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) bleDevice() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev == nil {
		return nil, device.ErrNotInitialized
	}
	return a.dev, nil
}

func advertises(adv ble.Advertisement, filter ble.UUID) bool {
	for _, u := range adv.Services() {
		if u.Equal(filter) {
			return true
		}
	}
	return false
}
