package agent

import (
	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// fragmentState tracks a staged payload that did not fit in one command.
// remaining is owned and only ever drained from the front.
type fragmentState struct {
	remaining []byte
	seq       uint32
	final     message.KeyOperation
}

// sendKeyOperation sends k for op with data as payload, fragmenting when the
// staged payload exceeds the bound.
func (c *Conn) sendKeyOperation(op *Operation, k message.KeyOperation, data []byte) {
	staged := message.StagePayload(data)
	bound := c.cfg.FragmentBound
	if len(staged) <= bound {
		c.sendFrame(k.Final(op.id, staged))
		return
	}

	log.Debug().Uint32("id", op.id).Int("len", len(data)).Int("bound", bound).Msg("agent.Conn fragmenting payload")
	op.frag = &fragmentState{remaining: staged, final: k}
	c.sendFragment(op)
}

func (c *Conn) sendFragment(op *Operation) {
	fs := op.frag
	n := min(c.cfg.FragmentBound, len(fs.remaining))
	c.sendFrame(message.Fragment(op.id, fs.final.Name, fs.seq, fs.remaining[:n]))
	fs.remaining = fs.remaining[n:]
}

// fragmentReply advances the fragment sequence of op. Once the remainder
// fits, the final command follows with the same id and op waits for its
// terminal response.
func (c *Conn) fragmentReply(op *Operation, rest []byte) {
	seq, code, err := message.DecodeFragmentReply(rest)
	if err != nil {
		log.Warn().Err(err).Uint32("id", op.id).Msg("agent.Conn fragment reply")
		c.fatal(protocol.ErrorProtocol)
		return
	}
	fs := op.frag
	if fs == nil || seq != fs.seq {
		log.Warn().Uint32("id", op.id).Uint32("seq", seq).Bool("fragmenting", fs != nil).Msg("agent.Conn unexpected fragment reply")
		c.fatal(protocol.ErrorProtocol)
		return
	}

	if code != protocol.ErrorOK {
		log.Debug().Err(code).Uint32("id", op.id).Uint32("seq", seq).Msg("agent.Conn fragment rejected")
		cb := op.cb
		c.take(op)
		cb.fail(code)
		return
	}

	if len(fs.remaining) > c.cfg.FragmentBound {
		fs.seq++
		c.sendFragment(op)
		return
	}

	op.frag = nil
	c.sendFrame(fs.final.Final(op.id, fs.remaining))
}
