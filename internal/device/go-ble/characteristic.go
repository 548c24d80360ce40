package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
)

// Characteristic wraps ble.Characteristic to implement device.Characteristic.
type Characteristic struct {
	client *Client
	char   *ble.Characteristic

	mu      sync.RWMutex
	handler func([]byte)
}

func (c *Characteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID.String())
}

func (c *Characteristic) Properties() device.Properties {
	return NewProperties(c.char.Property)
}

func (c *Characteristic) OnData(handler func(data []byte)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Subscribe enables notifications. The CCCD is discovered on demand because
// Linux requires it before subscribing.
func (c *Characteristic) Subscribe() error {
	if c.char.Property&ble.CharNotify == 0 {
		return fmt.Errorf("characteristic %s does not support notify: %w", c.UUID(), device.ErrUnsupported)
	}

	if c.char.CCCD == nil {
		if _, err := c.client.client.DiscoverDescriptors(nil, c.char); err != nil {
			return fmt.Errorf("failed to discover descriptors: %w", NormalizeError(err))
		}
	}

	err := c.client.client.Subscribe(c.char, false, func(data []byte) {
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h == nil {
			return
		}
		// go-ble reuses its buffer across notifications
		h(append([]byte(nil), data...))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", NormalizeError(err))
	}

	c.client.logger.WithFields(logrus.Fields{
		"char_uuid": c.UUID(),
	}).Debug("Subscribed to notifications")
	return nil
}

func (c *Characteristic) Write(data []byte, withResponse bool) error {
	if err := c.client.client.WriteCharacteristic(c.char, data, !withResponse); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", c.UUID(), NormalizeError(err))
	}
	return nil
}
