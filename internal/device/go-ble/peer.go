package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/solebridge/internal/device"
)

// Peer wraps a go-ble advertisement to implement device.Peer.
type Peer struct {
	adapter *Adapter
	adv     ble.Advertisement
}

func newPeer(a *Adapter, adv ble.Advertisement) *Peer {
	return &Peer{adapter: a, adv: adv}
}

func (p *Peer) Name() string    { return p.adv.LocalName() }
func (p *Peer) Address() string { return p.adv.Addr().String() }
func (p *Peer) RSSI() int       { return p.adv.RSSI() }

// Connect dials the peer. Dialing waits for a scan that was just stopped to
// wind down first, since most controllers reject a connection while scanning.
func (p *Peer) Connect(ctx context.Context) (device.Client, error) {
	dev, err := p.adapter.bleDevice()
	if err != nil {
		return nil, err
	}
	if err := p.adapter.waitScanIdle(ctx); err != nil {
		return nil, fmt.Errorf("scan did not stop before connect: %w", err)
	}

	p.adapter.logger.WithField("address", p.Address()).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, p.adv.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", p.Address(), NormalizeError(err))
	}
	return newClient(client, p.adapter.logger), nil
}
