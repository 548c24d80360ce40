package protocol

import "fmt"

// Decoder turns notification payloads into frames of a fixed size.
type Decoder struct {
	format Format
	values int
}

// NewDecoder creates a decoder for format. values <= 0 selects the format default.
func NewDecoder(format Format, values int) (*Decoder, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if values <= 0 {
		values = format.DefaultValues()
	}
	if format == FormatBinary && values > 255 {
		return nil, fmt.Errorf("frame of %d values exceeds the notification size limit", values)
	}
	return &Decoder{format: format, values: values}, nil
}

func (d *Decoder) Format() Format { return d.format }

// Values is the number of values a valid frame carries.
func (d *Decoder) Values() int { return d.values }

// Decode decodes payload. Only frames of exactly Values() values are valid;
// anything else returns a *LengthError and must be dropped.
func (d *Decoder) Decode(payload []byte) ([]uint16, error) {
	var values []uint16
	switch d.format {
	case FormatASCII:
		values = DecodeASCII(payload)
	default:
		values = DecodeBinary(payload)
	}

	if len(values) != d.values {
		return nil, &LengthError{Expected: d.values, Got: len(values)}
	}
	return values, nil
}
