package frame

import (
	"encoding/binary"

	"github.com/danmuck/agentlink/internal/protocol"
)

// Decoder reassembles frames from byte chunks of arbitrary size. It is used
// when the host owns the socket and hands the engine whatever it read.
type Decoder struct {
	limits Limits
	buf    []byte
	err    error
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits}
}

// Feed appends received bytes.
func (d *Decoder) Feed(b []byte) {
	if d.err != nil {
		return
	}
	d.buf = append(d.buf, b...)
}

// Next returns the next complete frame. ok is false when more bytes are
// needed. Once Next fails every later call returns the same error.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	if d.err != nil {
		return Frame{}, false, d.err
	}
	if len(d.buf) < HeaderLen {
		return Frame{}, false, nil
	}
	n := binary.BigEndian.Uint32(d.buf[0:4])
	if n < 1 {
		d.fail(ErrLengthTooSmall)
		return Frame{}, false, d.err
	}
	bodyLen := uint64(n) - 1
	if err := d.limits.check(bodyLen); err != nil {
		d.fail(err)
		return Frame{}, false, d.err
	}
	total := uint64(HeaderLen) + bodyLen
	if uint64(len(d.buf)) < total {
		return Frame{}, false, nil
	}

	body := make([]byte, bodyLen)
	copy(body, d.buf[HeaderLen:total])
	f = Frame{Type: protocol.MessageType(d.buf[4]), Body: body}

	rest := copy(d.buf, d.buf[total:])
	d.buf = d.buf[:rest]
	return f, true, nil
}

// Buffered reports bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.buf = nil
}
