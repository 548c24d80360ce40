package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		expected string
	}{
		{"no uuids", &NotFoundError{Resource: "service"}, "service not found"},
		{"service", &NotFoundError{Resource: "service", UUIDs: []string{"4faf"}}, `service "4faf" not found`},
		{
			"characteristic in service",
			&NotFoundError{Resource: "characteristic", UUIDs: []string{"4faf", "beb5"}},
			`characteristic "beb5" not found in service "4faf"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConnectionErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("dial: %w", &ConnectionError{State: NotConnected, Msg: "link lost"})

	assert.ErrorIs(t, wrapped, ErrNotConnected, "errors.Is MUST match by state")
	assert.NotErrorIs(t, wrapped, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(wrapped, NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))
	assert.Equal(t, "not_connected: link lost", (&ConnectionError{State: NotConnected, Msg: "link lost"}).Error())
}

func TestNormalizeError(t *testing.T) {
	assert.Nil(t, NormalizeError(nil))
	assert.ErrorIs(t, NormalizeError(errors.New("Device Not Connected")), ErrNotConnected)
	assert.ErrorIs(t, NormalizeError(errors.New("device already connected")), ErrAlreadyConnected)
	assert.ErrorIs(t, NormalizeError(errors.New("connection is not initialized")), ErrNotInitialized)

	other := errors.New("boom")
	assert.Same(t, other, NormalizeError(other), "unknown errors MUST pass through untouched")
}

func TestProperties(t *testing.T) {
	p := PropRead | PropNotify

	assert.True(t, p.CanNotify())
	assert.False(t, p.CanWrite())
	assert.True(t, (PropWriteWithoutResponse).CanWrite())
	assert.False(t, PropIndicate.CanNotify(), "indicate alone MUST NOT count as notify")
	assert.Equal(t, "read,notify", p.String())
	assert.Equal(t, "none", Properties(0).String())
}
