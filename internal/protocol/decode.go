// Package protocol decodes sensor notification payloads into readings.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Format selects the payload encoding produced by the sensor firmware.
type Format string

const (
	// FormatBinary is a sequence of little-endian unsigned 16-bit values.
	FormatBinary Format = "binary"
	// FormatASCII is the legacy whitespace-separated "N_g:VALUE" token stream.
	FormatASCII Format = "ascii"
)

// Default number of values per frame for each format.
const (
	DefaultBinaryValues = 8
	DefaultASCIIValues  = 6
)

// ErrMalformedFrame is wrapped by every decode failure.
var ErrMalformedFrame = errors.New("malformed frame")

// LengthError reports a frame that decoded to an unexpected number of values.
type LengthError struct {
	Expected int
	Got      int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s: expected %d values, got %d", ErrMalformedFrame, e.Expected, e.Got)
}

func (e *LengthError) Unwrap() error {
	return ErrMalformedFrame
}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatBinary:
		return FormatBinary, nil
	case FormatASCII:
		return FormatASCII, nil
	default:
		return "", fmt.Errorf("unknown wire format %q (expected %q or %q)", s, FormatBinary, FormatASCII)
	}
}

// DefaultValues returns the per-frame value count the firmware emits for f.
func (f Format) DefaultValues() int {
	if f == FormatASCII {
		return DefaultASCIIValues
	}
	return DefaultBinaryValues
}

// DecodeBinary consumes the payload two bytes at a time, least significant
// byte first. A trailing odd byte is dropped.
func DecodeBinary(payload []byte) []uint16 {
	values := make([]uint16, len(payload)/2)
	for i := range values {
		values[i] = binary.LittleEndian.Uint16(payload[2*i:])
	}
	return values
}

// DecodeASCII extracts VALUE from every "N_g:VALUE" token. Tokens without the
// "_g:" marker and values that are not unsigned 16-bit integers are skipped.
func DecodeASCII(payload []byte) []uint16 {
	var values []uint16
	for _, tok := range strings.Fields(string(payload)) {
		_, raw, ok := strings.Cut(tok, "_g:")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			continue
		}
		values = append(values, uint16(v))
	}
	return values
}
