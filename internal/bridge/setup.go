package bridge

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
)

// setupStep is one fallible stage of bringing a peer to Connected.
type setupStep struct {
	name string
	run  func(ctx context.Context) error
}

// attempt runs the setup sequence for one peer. It is driven by a single
// goroutine and never touches coordinator state; the outcome is returned.
type attempt struct {
	slot        Slot
	peer        device.Peer
	serviceUUID string
	notifyUUID  string
	writeUUID   string
	logger      *logrus.Entry

	// onOpen is called once the transport exists, before any discovery.
	onOpen func(device.Client)
	onData func([]byte)

	client  device.Client
	service device.Service
	notify  device.Characteristic
	write   device.Characteristic
}

func (a *attempt) steps() []setupStep {
	return []setupStep{
		{"connect", a.connect},
		{"discover service", a.discoverService},
		{"discover characteristics", a.discoverCharacteristics},
		{"verify notify", a.verifyNotify},
		{"subscribe", a.subscribe},
	}
}

// run executes every step in order. On the first failure the transport, if
// opened and still up, is closed and a *SetupError naming the step is returned.
func (a *attempt) run(ctx context.Context) (*link, error) {
	for _, step := range a.steps() {
		err := ctx.Err()
		if err == nil {
			a.logger.WithField("step", step.name).Debug("Setup step")
			err = step.run(ctx)
		}
		if err != nil {
			a.unwind()
			return nil, &SetupError{Slot: a.slot, Step: step.name, Err: err}
		}
	}
	return &link{client: a.client, notify: a.notify, write: a.write}, nil
}

func (a *attempt) unwind() {
	if a.client == nil {
		return
	}
	if !a.client.IsConnected() {
		a.logger.Debug("Transport already closed, nothing to unwind")
		return
	}
	if err := a.client.Disconnect(); err != nil {
		a.logger.WithField("error", err).Warn("Failed to close transport after setup failure")
	}
}

func (a *attempt) connect(ctx context.Context) error {
	a.logger.WithField("address", a.peer.Address()).Info("Connecting...")
	client, err := a.peer.Connect(ctx)
	if err != nil {
		return err
	}
	a.client = client
	if a.onOpen != nil {
		a.onOpen(client)
	}
	return nil
}

func (a *attempt) discoverService(context.Context) error {
	svc, err := a.client.DiscoverService(a.serviceUUID)
	if err != nil {
		return err
	}
	a.service = svc
	return nil
}

func (a *attempt) discoverCharacteristics(context.Context) error {
	uuids := []string{a.notifyUUID}
	if a.writeUUID != "" {
		uuids = append(uuids, a.writeUUID)
	}

	chars, err := a.service.DiscoverCharacteristics(uuids...)
	if err != nil {
		return err
	}
	for _, c := range chars {
		switch {
		case device.SameUUID(c.UUID(), a.notifyUUID):
			a.notify = c
		case a.writeUUID != "" && device.SameUUID(c.UUID(), a.writeUUID):
			a.write = c
		}
	}

	if a.notify == nil {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{a.serviceUUID, a.notifyUUID}}
	}
	if a.write == nil && a.writeUUID != "" {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{a.serviceUUID, a.writeUUID}}
	}
	return nil
}

func (a *attempt) verifyNotify(context.Context) error {
	if !a.notify.Properties().CanNotify() {
		return fmt.Errorf("characteristic %s has properties %s: %w", a.notify.UUID(), a.notify.Properties(), device.ErrUnsupported)
	}
	return nil
}

// subscribe registers the data callback before enabling notifications so the
// first pushed value is not lost.
func (a *attempt) subscribe(context.Context) error {
	a.notify.OnData(a.onData)
	return a.notify.Subscribe()
}
