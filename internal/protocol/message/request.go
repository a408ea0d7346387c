package message

import (
	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
	"github.com/danmuck/agentlink/internal/protocol/wire"
)

// Forwarding pair keys appended by ForwardingNotice.
const (
	ForwardClientKey  = "forwarding-client"
	ForwardHostKey    = "host"
	ForwardIPKey      = "ip-address"
	ForwardTCPPortKey = "tcp-port"
)

// Certificate is one entry of a selected-certificate block.
type Certificate struct {
	Type string
	Data []byte
}

// KeyRef identifies a key or certificate by encoding and blob.
type KeyRef struct {
	Encoding string
	Blob     []byte
}

func build(t protocol.MessageType, e *wire.Encoder) frame.Frame {
	return frame.Frame{Type: t, Body: e.Encoded()}
}

func withID(id uint32, size int) *wire.Encoder {
	return wire.NewEncoder(4 + size).Uint32(id)
}

// Version is the client half of the handshake.
func Version(clientName string, major, minor uint32) frame.Frame {
	e := withID(protocol.ReservedID, 12+len(clientName)).
		Uint32(protocol.ProtocolVersion).
		String(clientName).
		Uint32(major).
		Uint32(minor)
	return build(protocol.MsgVersion, e)
}

// AbortOperation asks the agent to drop target.
func AbortOperation(target uint32) frame.Frame {
	return build(protocol.MsgAbortOperation, withID(protocol.ReservedID, 4).Uint32(target))
}

// Bare builds the request shapes that carry only the operation id: quit,
// delete-all-keys, list-keys, list-certificates, list-extra-certificates
// and ping.
func Bare(t protocol.MessageType, id uint32) frame.Frame {
	return build(t, withID(id, 0))
}

func AddKey(id uint32, public, private KeyRef, description string) frame.Frame {
	e := withID(id, 20+len(public.Encoding)+len(public.Blob)+len(private.Encoding)+len(private.Blob)+len(description)).
		String(public.Encoding).
		Bytes(public.Blob).
		String(private.Encoding).
		Bytes(private.Blob).
		String(description)
	return build(protocol.MsgAddKey, e)
}

func AddCertificate(id uint32, public KeyRef, cert Certificate, description string) frame.Frame {
	e := withID(id, 20+len(public.Encoding)+len(public.Blob)+len(cert.Type)+len(cert.Data)+len(description)).
		String(public.Encoding).
		Bytes(public.Blob).
		String(cert.Type).
		Bytes(cert.Data).
		String(description)
	return build(protocol.MsgAddCertificate, e)
}

func AddExtraCertificate(id uint32, cert Certificate, description string) frame.Frame {
	e := withID(id, 12+len(cert.Type)+len(cert.Data)+len(description)).
		String(cert.Type).
		Bytes(cert.Data).
		String(description)
	return build(protocol.MsgAddExtraCertificate, e)
}

func DeleteKey(id uint32, public KeyRef) frame.Frame {
	return build(protocol.MsgDeleteKey, keyRef(withID(id, 8+len(public.Encoding)+len(public.Blob)), public))
}

func DeleteKeyCertificate(id uint32, public KeyRef, cert Certificate) frame.Frame {
	e := keyRef(withID(id, 16+len(public.Encoding)+len(public.Blob)+len(cert.Type)+len(cert.Data)), public).
		String(cert.Type).
		Bytes(cert.Data)
	return build(protocol.MsgDeleteKeyCertificate, e)
}

func DeleteExtraCertificate(id uint32, cert Certificate) frame.Frame {
	e := withID(id, 8+len(cert.Type)+len(cert.Data)).
		String(cert.Type).
		Bytes(cert.Data)
	return build(protocol.MsgDeleteExtraCertificate, e)
}

func ListKeyCertificates(id uint32, public KeyRef) frame.Frame {
	return build(protocol.MsgListKeyCertificates, keyRef(withID(id, 8+len(public.Encoding)+len(public.Blob)), public))
}

func PassphraseQuery(id uint32, passphraseType, program, description string, alwaysAsk bool) frame.Frame {
	e := withID(id, 13+len(passphraseType)+len(program)+len(description)).
		String(passphraseType).
		String(program).
		String(description).
		Bool(alwaysAsk)
	return build(protocol.MsgPassphraseQuery, e)
}

func Random(id uint32, n uint32) frame.Frame {
	return build(protocol.MsgRandom, withID(id, 4).Uint32(n))
}

// Fragment carries one raw slice of a staged payload.
func Fragment(id uint32, name string, seq uint32, data []byte) frame.Frame {
	e := withID(id, 8+len(name)+len(data)).
		String(name).
		Uint32(seq).
		Raw(data)
	return build(protocol.MsgOperationDataFragment, e)
}

// Extended sends an opaque body after the operation id.
func Extended(id uint32, body []byte) frame.Frame {
	return build(protocol.MsgExtended, withID(id, len(body)).Raw(body))
}

func keyRef(e *wire.Encoder, k KeyRef) *wire.Encoder {
	return e.String(k.Encoding).Bytes(k.Blob)
}

// StagePayload returns the length-prefixed form of data that key operations
// carry as their tail, whether sent whole or in fragments.
func StagePayload(data []byte) []byte {
	return wire.NewEncoder(wire.StringOverhead + len(data)).Bytes(data).Encoded()
}

// SelectedCertBlock pre-encodes {count, u32str(entries)} for the
// selected-certificate key operation.
func SelectedCertBlock(certs []Certificate) []byte {
	inner := wire.NewEncoder(0)
	for _, c := range certs {
		inner.String(c.Type).Bytes(c.Data)
	}
	return wire.NewEncoder(8 + inner.Len()).
		Uint32(uint32(len(certs))).
		Bytes(inner.Encoded()).
		Encoded()
}

// KeyOperation describes the final command of a key operation. Key and Name
// are fixed when the operation starts and reused unchanged when the final
// command follows a fragment sequence.
type KeyOperation struct {
	Type      protocol.MessageType
	Key       KeyRef
	CertBlock []byte
	Name      string
}

// Final builds the command carrying tail, the staged payload or whatever of
// it remains after fragmentation.
func (k KeyOperation) Final(id uint32, tail []byte) frame.Frame {
	e := withID(id, 12+len(k.Key.Encoding)+len(k.Key.Blob)+len(k.CertBlock)+len(k.Name)+len(tail))
	if k.Type == protocol.MsgKeyOperationWithSelectedCert {
		e.Raw(k.CertBlock)
	} else {
		keyRef(e, k.Key)
	}
	e.String(k.Name).Raw(tail)
	return build(k.Type, e)
}

// ForwardingNotice appends one forwarding hop to an existing pair list
// {count, pairs...}. The count grows by one per hop.
func ForwardingNotice(pairs []byte, command, host, ip, port string) (frame.Frame, error) {
	d := wire.NewDecoder(pairs)
	count, err := d.Uint32()
	if err != nil {
		return frame.Frame{}, &DecodeError{Type: protocol.MsgForwardedConnection, Field: "count", Err: err}
	}
	e := wire.NewEncoder(len(pairs) + 64).
		Uint32(count + 1).
		String(ForwardClientKey).String(command).
		String(ForwardHostKey).String(host).
		String(ForwardIPKey).String(ip).
		String(ForwardTCPPortKey).String(port).
		Raw(d.Rest())
	return build(protocol.MsgForwardedConnection, e), nil
}
