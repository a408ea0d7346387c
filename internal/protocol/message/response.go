package message

import (
	"errors"
	"fmt"

	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/wire"
)

var (
	ErrEmptyData    = errors.New("message: empty data")
	ErrFailureBody  = errors.New("message: failure body is not a single u32")
	ErrListEntry    = errors.New("message: malformed list entry")
	ErrUnexpectedOK = errors.New("message: success carries a body")
)

// DecodeError reports which field of which frame type failed to decode.
type DecodeError struct {
	Type  protocol.MessageType
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("message: type=%s field=%s: %v", e.Type, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// KeyCert is one list entry. Blob aliases the received frame.
type KeyCert struct {
	Encoding    string
	Blob        []byte
	Description string
}

// CloneKeyCerts copies entries so they outlive the frame they were decoded
// from.
func CloneKeyCerts(entries []KeyCert) []KeyCert {
	if entries == nil {
		return nil
	}
	out := make([]KeyCert, len(entries))
	for i, e := range entries {
		out[i] = KeyCert{
			Encoding:    e.Encoding,
			Blob:        append([]byte(nil), e.Blob...),
			Description: e.Description,
		}
	}
	return out
}

// AgentVersion is the agent half of the handshake.
type AgentVersion struct {
	Protocol uint32
	Name     string
	Major    uint32
	Minor    uint32
}

// SelectedResult is the body of selected-key-operation-complete.
type SelectedResult struct {
	Encoding string
	Blob     []byte
	Result   []byte
}

// SplitID returns the correlation id that opens every correlated body and
// the bytes after it.
func SplitID(t protocol.MessageType, body []byte) (uint32, []byte, error) {
	d := wire.NewDecoder(body)
	id, err := d.Uint32()
	if err != nil {
		return 0, nil, &DecodeError{Type: t, Field: "id", Err: err}
	}
	return id, d.Rest(), nil
}

func DecodeVersion(rest []byte) (AgentVersion, error) {
	const t = protocol.MsgVersionResponse
	d := wire.NewDecoder(rest)
	var v AgentVersion
	var err error
	if v.Protocol, err = d.Uint32(); err != nil {
		return AgentVersion{}, &DecodeError{Type: t, Field: "protocol_version", Err: err}
	}
	if v.Name, err = d.String(); err != nil {
		return AgentVersion{}, &DecodeError{Type: t, Field: "name", Err: err}
	}
	if v.Major, err = d.Uint32(); err != nil {
		return AgentVersion{}, &DecodeError{Type: t, Field: "major", Err: err}
	}
	if v.Minor, err = d.Uint32(); err != nil {
		return AgentVersion{}, &DecodeError{Type: t, Field: "minor", Err: err}
	}
	if err := d.Finish(); err != nil {
		return AgentVersion{}, &DecodeError{Type: t, Field: "trailer", Err: err}
	}
	return v, nil
}

// DecodeSuccess accepts only an empty body.
func DecodeSuccess(rest []byte) error {
	if len(rest) != 0 {
		return &DecodeError{Type: protocol.MsgSuccess, Field: "body", Err: ErrUnexpectedOK}
	}
	return nil
}

// DecodeFailure returns the agent's code. Any body other than exactly four
// bytes is rejected.
func DecodeFailure(rest []byte) (protocol.ErrorCode, error) {
	if len(rest) != 4 {
		return 0, &DecodeError{Type: protocol.MsgFailure, Field: "code", Err: ErrFailureBody}
	}
	code, _ := wire.NewDecoder(rest).Uint32()
	return protocol.ErrorCode(code), nil
}

// DecodeList decodes {count, (encoding, blob, description)*}. A bad count
// or trailing bytes map to a size error; a bad entry maps to a failure.
func DecodeList(t protocol.MessageType, rest []byte) ([]KeyCert, protocol.ErrorCode, error) {
	d := wire.NewDecoder(rest)
	count, err := d.Uint32()
	if err != nil {
		return nil, protocol.ErrorSizeError, &DecodeError{Type: t, Field: "count", Err: err}
	}
	// each entry needs at least three length prefixes
	if uint64(count)*12 > uint64(d.Remaining()) {
		return nil, protocol.ErrorFailure, &DecodeError{Type: t, Field: "entries", Err: ErrListEntry}
	}
	entries := make([]KeyCert, 0, count)
	for i := uint32(0); i < count; i++ {
		var kc KeyCert
		if kc.Encoding, err = d.String(); err == nil {
			if kc.Blob, err = d.Bytes(); err == nil {
				kc.Description, err = d.String()
			}
		}
		if err != nil {
			return nil, protocol.ErrorFailure, &DecodeError{Type: t, Field: fmt.Sprintf("entry[%d]", i), Err: errors.Join(ErrListEntry, err)}
		}
		entries = append(entries, kc)
	}
	if err := d.Finish(); err != nil {
		return nil, protocol.ErrorSizeError, &DecodeError{Type: t, Field: "trailer", Err: err}
	}
	return entries, protocol.ErrorOK, nil
}

// DecodeData decodes the single byte string of operation-complete,
// random-data and passphrase responses.
func DecodeData(t protocol.MessageType, rest []byte) ([]byte, error) {
	if len(rest) == 0 {
		return nil, &DecodeError{Type: t, Field: "data", Err: ErrEmptyData}
	}
	d := wire.NewDecoder(rest)
	data, err := d.Bytes()
	if err != nil {
		return nil, &DecodeError{Type: t, Field: "data", Err: err}
	}
	if err := d.Finish(); err != nil {
		return nil, &DecodeError{Type: t, Field: "trailer", Err: err}
	}
	return data, nil
}

func DecodeSelected(rest []byte) (SelectedResult, error) {
	const t = protocol.MsgSelectedKeyOperationComplete
	d := wire.NewDecoder(rest)
	var r SelectedResult
	var err error
	if r.Encoding, err = d.String(); err != nil {
		return SelectedResult{}, &DecodeError{Type: t, Field: "encoding", Err: err}
	}
	if r.Blob, err = d.Bytes(); err != nil {
		return SelectedResult{}, &DecodeError{Type: t, Field: "blob", Err: err}
	}
	if r.Result, err = d.Bytes(); err != nil {
		return SelectedResult{}, &DecodeError{Type: t, Field: "result", Err: err}
	}
	if err := d.Finish(); err != nil {
		return SelectedResult{}, &DecodeError{Type: t, Field: "trailer", Err: err}
	}
	return r, nil
}

// DecodeFragmentReply returns the acknowledged sequence number and status.
func DecodeFragmentReply(rest []byte) (uint32, protocol.ErrorCode, error) {
	const t = protocol.MsgFragmentReply
	d := wire.NewDecoder(rest)
	seq, err := d.Uint32()
	if err != nil {
		return 0, 0, &DecodeError{Type: t, Field: "seq", Err: err}
	}
	code, err := d.Uint32()
	if err != nil {
		return 0, 0, &DecodeError{Type: t, Field: "code", Err: err}
	}
	if err := d.Finish(); err != nil {
		return 0, 0, &DecodeError{Type: t, Field: "trailer", Err: err}
	}
	return seq, protocol.ErrorCode(code), nil
}
