package frame

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/danmuck/agentlink/internal/protocol"
)

// HeaderLen covers the u32 length and the u8 type.
const HeaderLen = 5

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrLengthTooSmall  = errors.New("frame: length smaller than type byte")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Frame is one complete wire message. Body starts with the correlation id
// for every type outside the notification range.
type Frame struct {
	Type protocol.MessageType
	Body []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

func (l Limits) check(bodyLen uint64) error {
	if l.MaxPayloadBytes > 0 && bodyLen > uint64(l.MaxPayloadBytes) {
		return ErrPayloadTooLarge
	}
	return nil
}

// Encode returns the wire bytes of f. The u32 length counts the type byte
// and the body.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(f.Body)+1))
	buf[4] = byte(f.Type)
	copy(buf[HeaderLen:], f.Body)
	return buf
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	n := binary.BigEndian.Uint32(hdr[0:4])
	if n < 1 {
		return Frame{}, ErrLengthTooSmall
	}
	bodyLen := uint64(n) - 1
	if err := limits.check(bodyLen); err != nil {
		return Frame{}, err
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}
	return Frame{Type: protocol.MessageType(hdr[4]), Body: body}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if err := limits.check(uint64(len(f.Body))); err != nil {
		return err
	}
	_, err := w.Write(Encode(f))
	return err
}
