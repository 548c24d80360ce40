package goble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
)

// Client wraps ble.Client to implement device.Client.
type Client struct {
	client ble.Client
	logger *logrus.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(client ble.Client, logger *logrus.Logger) *Client {
	return &Client{client: client, logger: logger}
}

func (c *Client) Address() string {
	return c.client.Addr().String()
}

// DiscoverService discovers the single service identified by uuid.
func (c *Client) DiscoverService(uuid string) (device.Service, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}

	services, err := c.client.DiscoverServices([]ble.UUID{u})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", NormalizeError(err))
	}
	for _, s := range services {
		if s.UUID.Equal(u) {
			return &Service{client: c, svc: s}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

func (c *Client) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}

	select {
	case <-c.client.Disconnected():
		return false
	default:
		return true
	}
}

// Disconnect clears subscriptions and cancels the link. Calling it on a
// closed client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.WithField("address", c.Address()).Debug("Disconnecting BLE device...")

	err1 := c.client.ClearSubscriptions()
	err2 := c.client.CancelConnection()
	if err := errors.Join(err1, err2); err != nil {
		return NormalizeError(err)
	}
	return nil
}
