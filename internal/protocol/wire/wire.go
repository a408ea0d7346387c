// Package wire encodes and decodes the primitive field types carried in
// agent message bodies. All integers are big-endian; strings and byte
// strings carry a u32 length prefix.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrTruncated    = errors.New("wire: truncated data")
	ErrTrailingData = errors.New("wire: trailing data")
	ErrInvalidBool  = errors.New("wire: invalid bool")
	ErrTooLong      = errors.New("wire: value exceeds u32 length")
)

// StringOverhead is the length prefix added to every string field.
const StringOverhead = 4

// Encoder appends fields to a growing buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an encoder with capacity for n bytes.
func NewEncoder(n int) *Encoder {
	return &Encoder{buf: make([]byte, 0, n)}
}

// Uint32 appends a big-endian u32.
func (e *Encoder) Uint32(v uint32) *Encoder {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
	return e
}

// Bool appends a one-byte boolean.
func (e *Encoder) Bool(v bool) *Encoder {
	b := byte(0)
	if v {
		b = 1
	}
	e.buf = append(e.buf, b)
	return e
}

// String appends a u32 length followed by s.
func (e *Encoder) String(s string) *Encoder {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

// Bytes appends a u32 length followed by b.
func (e *Encoder) Bytes(b []byte) *Encoder {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// Raw appends b with no prefix.
func (e *Encoder) Raw(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

// Len reports the number of bytes encoded so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Encoded returns the encoded buffer. The encoder must not be reused.
func (e *Encoder) Encoded() []byte {
	return e.buf
}

// CheckLen rejects payloads whose length does not fit a u32 prefix.
func CheckLen(n int) error {
	if uint64(n) > math.MaxUint32 {
		return ErrTooLong
	}
	return nil
}

// Decoder reads fields from a body without copying. Slices it returns
// alias the input.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a decoder over b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Remaining reports the number of undecoded bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Uint32 reads a big-endian u32.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Bool reads a one-byte boolean; values other than 0 and 1 are rejected.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidBool
	}
}

// Bytes reads a length-prefixed byte string.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(d.Remaining()) {
		return nil, ErrTruncated
	}
	return d.take(int(n))
}

// String reads a length-prefixed string.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Raw reads exactly n bytes.
func (d *Decoder) Raw(n int) ([]byte, error) {
	return d.take(n)
}

// Rest consumes and returns every undecoded byte.
func (d *Decoder) Rest() []byte {
	b := d.buf[d.off:]
	d.off = len(d.buf)
	return b
}

// Finish fails with ErrTrailingData if any bytes remain.
func (d *Decoder) Finish() error {
	if d.Remaining() != 0 {
		return ErrTrailingData
	}
	return nil
}
