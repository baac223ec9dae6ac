// Package amf adapts the AMF0 codec of go-oryx-lib to the way the RTMP layers consume command arguments:
// a stream of values decoded one after the other, and small constructors for the replies.
package amf

import (
	"bytes"
	"io"

	"github.com/ossrs/go-oryx-lib/amf0"
	"github.com/pkg/errors"
)

// Value is any AMF0 value.
type Value = amf0.Amf0

var (
	ErrUnexpectedType = errors.New("amf: unexpected type")
	ErrTruncated      = errors.New("amf: truncated value")
)

const (
	markerNull      = 0x05
	markerUndefined = 0x06
)

// Decoder reads consecutive AMF0 values out of a byte slice.
type Decoder struct {
	data []byte
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Len returns the number of bytes not decoded yet.
func (d *Decoder) Len() int {
	return len(d.data)
}

// Decode reads the next value. It returns io.EOF when there is nothing left to read.
func (d *Decoder) Decode() (Value, error) {
	if len(d.data) == 0 {
		return nil, io.EOF
	}
	v, err := amf0.Discovery(d.data)
	if err != nil {
		return nil, errors.Wrap(err, "amf: discovery")
	}
	if err := v.UnmarshalBinary(d.data); err != nil {
		return nil, errors.Wrap(ErrTruncated, err.Error())
	}
	size := v.Size()
	if size <= 0 || size > len(d.data) {
		return nil, ErrTruncated
	}
	d.data = d.data[size:]
	return v, nil
}

// DecodeAll reads values until the input is exhausted.
func (d *Decoder) DecodeAll() ([]Value, error) {
	var values []Value
	for d.Len() > 0 {
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// DecodeString reads the next value and fails with ErrUnexpectedType unless it is a string.
func (d *Decoder) DecodeString() (string, error) {
	v, err := d.Decode()
	if err != nil {
		return "", err
	}
	s, ok := AsString(v)
	if !ok {
		return "", errors.Wrap(ErrUnexpectedType, "want string")
	}
	return s, nil
}

// DecodeNumber reads the next value and fails with ErrUnexpectedType unless it is a number.
func (d *Decoder) DecodeNumber() (float64, error) {
	v, err := d.Decode()
	if err != nil {
		return 0, err
	}
	n, ok := AsNumber(v)
	if !ok {
		return 0, errors.Wrap(ErrUnexpectedType, "want number")
	}
	return n, nil
}

// DecodeAll decodes every value in data.
func DecodeAll(data []byte) ([]Value, error) {
	return NewDecoder(data).DecodeAll()
}

// Marshal encodes values back to back.
func Marshal(values ...Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, values...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes values back to back to w.
func Encode(w io.Writer, values ...Value) error {
	for _, v := range values {
		b, err := v.MarshalBinary()
		if err != nil {
			return errors.Wrap(err, "amf: marshal")
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
