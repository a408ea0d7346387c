package message

import (
	"errors"

	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
	"github.com/danmuck/agentlink/internal/protocol/wire"
)

// Agent-side shapes. The client never sends these; they exist for agents
// and test peers built on this package.

func VersionResponse(v AgentVersion) frame.Frame {
	e := withID(protocol.ReservedID, 12+len(v.Name)).
		Uint32(v.Protocol).
		String(v.Name).
		Uint32(v.Major).
		Uint32(v.Minor)
	return build(protocol.MsgVersionResponse, e)
}

func Success(id uint32) frame.Frame {
	return build(protocol.MsgSuccess, withID(id, 0))
}

func Failure(id uint32, code protocol.ErrorCode) frame.Frame {
	return build(protocol.MsgFailure, withID(id, 4).Uint32(uint32(code)))
}

// List builds any of the three list responses.
func List(t protocol.MessageType, id uint32, entries []KeyCert) frame.Frame {
	e := withID(id, 4).Uint32(uint32(len(entries)))
	for _, kc := range entries {
		e.String(kc.Encoding).Bytes(kc.Blob).String(kc.Description)
	}
	return build(t, e)
}

// Data builds operation-complete, random-data and passphrase responses.
func Data(t protocol.MessageType, id uint32, data []byte) frame.Frame {
	return build(t, withID(id, 4+len(data)).Bytes(data))
}

func Selected(id uint32, r SelectedResult) frame.Frame {
	e := withID(id, 12+len(r.Encoding)+len(r.Blob)+len(r.Result)).
		String(r.Encoding).
		Bytes(r.Blob).
		Bytes(r.Result)
	return build(protocol.MsgSelectedKeyOperationComplete, e)
}

func FragmentReply(id uint32, seq uint32, code protocol.ErrorCode) frame.Frame {
	return build(protocol.MsgFragmentReply, withID(id, 8).Uint32(seq).Uint32(uint32(code)))
}

// Notification builds an uncorrelated notice.
func Notification(t protocol.MessageType, body []byte) frame.Frame {
	return frame.Frame{Type: t, Body: append([]byte(nil), body...)}
}

// ClientVersion is the decoded client handshake.
type ClientVersion struct {
	Protocol uint32
	Name     string
	Major    uint32
	Minor    uint32
}

func DecodeClientVersion(rest []byte) (ClientVersion, error) {
	v, err := DecodeVersion(rest)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Type = protocol.MsgVersion
		}
		return ClientVersion{}, err
	}
	return ClientVersion(v), nil
}

// FragmentRequest is a decoded operation-data-fragment.
type FragmentRequest struct {
	Name string
	Seq  uint32
	Data []byte
}

func DecodeFragment(rest []byte) (FragmentRequest, error) {
	const t = protocol.MsgOperationDataFragment
	d := wire.NewDecoder(rest)
	var f FragmentRequest
	var err error
	if f.Name, err = d.String(); err != nil {
		return FragmentRequest{}, &DecodeError{Type: t, Field: "name", Err: err}
	}
	if f.Seq, err = d.Uint32(); err != nil {
		return FragmentRequest{}, &DecodeError{Type: t, Field: "seq", Err: err}
	}
	f.Data = d.Rest()
	return f, nil
}

// DecodeKeyOperation parses a final key operation command. Tail is the raw
// staged payload that follows the name.
func DecodeKeyOperation(t protocol.MessageType, rest []byte) (KeyOperation, []byte, error) {
	d := wire.NewDecoder(rest)
	k := KeyOperation{Type: t}
	var err error
	if t == protocol.MsgKeyOperationWithSelectedCert {
		start := len(rest)
		if _, err = d.Uint32(); err != nil {
			return KeyOperation{}, nil, &DecodeError{Type: t, Field: "cert_count", Err: err}
		}
		if _, err = d.Bytes(); err != nil {
			return KeyOperation{}, nil, &DecodeError{Type: t, Field: "cert_block", Err: err}
		}
		k.CertBlock = rest[:start-d.Remaining()]
	} else {
		if k.Key.Encoding, err = d.String(); err != nil {
			return KeyOperation{}, nil, &DecodeError{Type: t, Field: "encoding", Err: err}
		}
		if k.Key.Blob, err = d.Bytes(); err != nil {
			return KeyOperation{}, nil, &DecodeError{Type: t, Field: "blob", Err: err}
		}
	}
	if k.Name, err = d.String(); err != nil {
		return KeyOperation{}, nil, &DecodeError{Type: t, Field: "name", Err: err}
	}
	return k, d.Rest(), nil
}

// DecodePayload unwraps a staged payload.
func DecodePayload(staged []byte) ([]byte, error) {
	d := wire.NewDecoder(staged)
	data, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return data, d.Finish()
}
