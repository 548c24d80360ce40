package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/solebridge/internal/device"
)

// Service wraps ble.Service to implement device.Service.
type Service struct {
	client *Client
	svc    *ble.Service
}

func (s *Service) UUID() string {
	return device.NormalizeUUID(s.svc.UUID.String())
}

// DiscoverCharacteristics discovers the characteristics with the given UUIDs.
// Missing characteristics are simply absent from the result.
func (s *Service) DiscoverCharacteristics(uuids ...string) ([]device.Characteristic, error) {
	filter := make([]ble.UUID, 0, len(uuids))
	for _, uuid := range uuids {
		u, err := ble.Parse(uuid)
		if err != nil {
			return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuid, err)
		}
		filter = append(filter, u)
	}

	chars, err := s.client.client.DiscoverCharacteristics(filter, s.svc)
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", NormalizeError(err))
	}

	result := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		result = append(result, &Characteristic{client: s.client, char: c})
	}
	return result, nil
}
