package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBinary(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected []uint16
	}{
		{"empty", []byte{}, []uint16{}},
		{"single value", []byte{0x34, 0x12}, []uint16{0x1234}},
		{"trailing odd byte dropped", []byte{0xFF, 0x00, 0x01}, []uint16{255}},
		{"max value", []byte{0xFF, 0xFF}, []uint16{65535}},
		{
			"full frame",
			[]byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00, 0x05, 0x00, 0x06, 0x00, 0x07, 0x00, 0xE8, 0x03},
			[]uint16{1, 2, 3, 4, 5, 6, 7, 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DecodeBinary(tt.payload))
		})
	}
}

func TestDecodeASCII(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected []uint16
	}{
		{"six sensors", "1_g:10 2_g:20 3_g:30 4_g:40 5_g:50 6_g:60", []uint16{10, 20, 30, 40, 50, 60}},
		{"extra whitespace", "  1_g:7\n2_g:8\t", []uint16{7, 8}},
		{"tokens without marker skipped", "hello 1_g:5 world", []uint16{5}},
		{"non numeric skipped", "1_g:abc 2_g:9", []uint16{9}},
		{"out of range skipped", "1_g:70000 2_g:65535", []uint16{65535}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DecodeASCII([]byte(tt.payload)))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("Binary")
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, f)

	f, err = ParseFormat(" ascii ")
	require.NoError(t, err)
	assert.Equal(t, FormatASCII, f)

	_, err = ParseFormat("csv")
	assert.EqualError(t, err, `unknown wire format "csv" (expected "binary" or "ascii")`)
}

func TestDecoder(t *testing.T) {
	// GOAL: Verify that only frames of exactly the configured size are accepted
	//
	// TEST SCENARIO: 16-byte payload accepted, 15/14/18-byte payloads rejected as malformed

	d, err := NewDecoder(FormatBinary, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultBinaryValues, d.Values(), "zero MUST select the format default")

	frame := make([]byte, 16)
	frame[0] = 0x2A
	values, err := d.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, []uint16{42, 0, 0, 0, 0, 0, 0, 0}, values)

	// 15 bytes still decodes to 7 values once the odd byte is dropped
	for _, size := range []int{15, 14, 18} {
		_, err := d.Decode(make([]byte, size))
		require.Error(t, err, "payload of %d bytes MUST be rejected", size)
		assert.True(t, errors.Is(err, ErrMalformedFrame), "error MUST wrap ErrMalformedFrame")

		var lengthErr *LengthError
		require.ErrorAs(t, err, &lengthErr)
		assert.Equal(t, DefaultBinaryValues, lengthErr.Expected)
		assert.Equal(t, size/2, lengthErr.Got)
	}
}

func TestDecoderASCII(t *testing.T) {
	d, err := NewDecoder(FormatASCII, 0)
	require.NoError(t, err)
	assert.Equal(t, FormatASCII, d.Format())
	assert.Equal(t, DefaultASCIIValues, d.Values())

	values, err := d.Decode([]byte("1_g:1 2_g:2 3_g:3 4_g:4 5_g:5 6_g:6"))
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 3, 4, 5, 6}, values)

	_, err = d.Decode([]byte("1_g:1 2_g:2"))
	assert.EqualError(t, err, "malformed frame: expected 6 values, got 2")
}

func TestNewDecoderRejectsUnknownFormat(t *testing.T) {
	_, err := NewDecoder(Format("hex"), 8)
	assert.Error(t, err)
}
