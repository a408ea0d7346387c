package agent

import (
	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// dispatch routes one inbound frame to the handshake, the notification sink
// or the operation named by its correlation id.
func (c *Conn) dispatch(f frame.Frame) {
	c.obs.FrameReceived(f.Type, frame.HeaderLen+len(f.Body))
	if f.Type.IsNotification() {
		c.notify(f)
		return
	}

	id, rest, err := message.SplitID(f.Type, f.Body)
	if err != nil {
		log.Warn().Err(err).Msg("agent.Conn dispatch")
		c.fatal(protocol.ErrorProtocol)
		return
	}

	if f.Type == protocol.MsgVersionResponse {
		c.handshake(id, rest)
		return
	}
	if c.state != StateRunning {
		log.Warn().Stringer("type", f.Type).Stringer("state", c.state).Msg("agent.Conn frame before handshake")
		c.fatal(protocol.ErrorProtocol)
		return
	}
	if reservedID(id) {
		log.Warn().Stringer("type", f.Type).Uint32("id", id).Msg("agent.Conn reserved correlation id")
		c.fatal(protocol.ErrorProtocol)
		return
	}

	op, ok := c.ops[id]
	if !ok {
		if c.tombstones.consume(id) {
			log.Debug().Stringer("type", f.Type).Uint32("id", id).Msg("agent.Conn discard reply to aborted operation")
			return
		}
		log.Warn().Stringer("type", f.Type).Uint32("id", id).Msg("agent.Conn unknown correlation id")
		c.fatal(protocol.ErrorProtocol)
		return
	}

	if f.Type == protocol.MsgFragmentReply {
		c.fragmentReply(op, rest)
		return
	}
	c.complete(op, f.Type, rest)
}

func (c *Conn) notify(f frame.Frame) {
	log.Debug().Stringer("type", f.Type).Int("len", len(f.Body)).Msg("agent.Conn notification")
	if c.onNotify != nil {
		c.onNotify(f.Type, f.Body)
	}
}

func (c *Conn) handshake(id uint32, rest []byte) {
	if c.state != StateStarting || id != protocol.ReservedID {
		log.Warn().Stringer("state", c.state).Uint32("id", id).Msg("agent.Conn unexpected version response")
		c.fatal(protocol.ErrorProtocol)
		return
	}
	v, err := message.DecodeVersion(rest)
	if err != nil {
		log.Warn().Err(err).Msg("agent.Conn handshake")
		c.fatal(protocol.ErrorProtocol)
		return
	}
	if v.Protocol != protocol.ProtocolVersion {
		log.Warn().Uint32("got", v.Protocol).Uint32("want", protocol.ProtocolVersion).Msg("agent.Conn protocol version mismatch")
		c.fatal(protocol.ErrorProtocol)
		return
	}
	c.agent = v
	c.state = StateRunning
	log.Info().Str("agent", v.Name).Uint32("major", v.Major).Uint32("minor", v.Minor).Msg("agent.Conn running")
	if c.onOpen != nil {
		c.onOpen(c)
	}
}

// complete delivers a terminal response. A response the operation's kind
// cannot take, or an unknown type, breaks the whole connection; decode
// problems inside an accepted response stay local to the operation.
func (c *Conn) complete(op *Operation, t protocol.MessageType, rest []byte) {
	cb := op.cb
	if t == protocol.MsgFailure {
		code, err := message.DecodeFailure(rest)
		if err != nil {
			log.Debug().Err(err).Uint32("id", op.id).Msg("agent.Conn failure body")
			code = protocol.ErrorSizeError
		} else if code == protocol.ErrorOK {
			code = protocol.ErrorFailure
		}
		c.take(op)
		cb.fail(code)
		return
	}

	if !accepts(cb.kind, t) {
		log.Warn().Stringer("type", t).Stringer("kind", cb.kind).Uint32("id", op.id).Msg("agent.Conn response does not match operation")
		c.fatal(protocol.ErrorProtocol)
		return
	}
	c.take(op)

	switch cb.kind {
	case KindCompletion:
		if err := message.DecodeSuccess(rest); err != nil {
			log.Debug().Err(err).Uint32("id", op.id).Msg("agent.Conn success body")
			cb.fail(protocol.ErrorSizeError)
			return
		}
		if cb.completion != nil {
			cb.completion(nil)
		}
	case KindList:
		entries, code, err := message.DecodeList(t, rest)
		if err != nil {
			log.Debug().Err(err).Uint32("id", op.id).Msg("agent.Conn list body")
			cb.fail(code)
			return
		}
		if cb.list != nil {
			cb.list(nil, entries)
		}
	case KindData:
		data, err := message.DecodeData(t, rest)
		if err != nil {
			log.Debug().Err(err).Uint32("id", op.id).Msg("agent.Conn data body")
			cb.fail(protocol.ErrorSizeError)
			return
		}
		if cb.data != nil {
			cb.data(nil, data)
		}
	case KindDataWithCert:
		r, err := message.DecodeSelected(rest)
		if err != nil {
			log.Debug().Err(err).Uint32("id", op.id).Msg("agent.Conn selected body")
			cb.fail(protocol.ErrorSizeError)
			return
		}
		if cb.dataWithCert != nil {
			cb.dataWithCert(nil, r)
		}
	case KindExtension:
		if cb.extension != nil {
			cb.extension(nil, rest)
		}
	}
}

// accepts lists the response types each kind terminates on, Failure aside.
func accepts(k Kind, t protocol.MessageType) bool {
	switch t {
	case protocol.MsgSuccess:
		return k == KindCompletion
	case protocol.MsgKeyList, protocol.MsgCertificateList, protocol.MsgKeyCertificateList:
		return k == KindList
	case protocol.MsgKeyOperationComplete, protocol.MsgPassphrase, protocol.MsgRandomData:
		return k == KindData
	case protocol.MsgSelectedKeyOperationComplete:
		return k == KindDataWithCert
	case protocol.MsgExtended:
		return k == KindExtension
	default:
		return false
	}
}
