package agent

import (
	"maps"
	"slices"

	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// maxTombstones bounds how many aborted ids are remembered for late replies.
const maxTombstones = 4096

func reservedID(id uint32) bool {
	return id == protocol.ReservedID || id == protocol.SentinelID
}

// create registers a new operation. On failure the returned code is the one
// the caller must deliver to its callback.
func (c *Conn) create(cb callback) (*Operation, protocol.ErrorCode) {
	if c.endOfStream || (c.down && c.state == StateRunning) {
		return nil, protocol.ErrorFailure
	}
	if c.state != StateRunning {
		return nil, protocol.ErrorProtocol
	}

	// every id outside the two reserved values, tried once each
	for tries := uint64(0); tries < 1<<32; tries++ {
		c.nextID++
		if reservedID(c.nextID) {
			continue
		}
		if _, taken := c.ops[c.nextID]; taken {
			continue
		}
		if _, nop := c.obs.(nopObserver); !nop {
			cb = cb.observed(c.obs)
		}
		op := &Operation{conn: c, id: c.nextID, cb: cb}
		c.ops[op.id] = op
		c.tombstones.forget(op.id)
		c.obs.OperationStarted(cb.kind)
		return op, protocol.ErrorOK
	}
	return nil, protocol.ErrorOperationActive
}

// start creates an operation or delivers the precondition failure to cb
// synchronously and returns nil.
func (c *Conn) start(cb callback) *Operation {
	if c == nil {
		cb.fail(protocol.ErrorProtocol)
		return nil
	}
	op, code := c.create(cb)
	if op == nil {
		log.Debug().Err(code).Stringer("kind", cb.kind).Stringer("state", c.state).Msg("agent.Conn create refused")
		cb.fail(code)
		return nil
	}
	return op
}

func (c *Conn) abort(op *Operation) {
	op.aborted = true
	op.done = true
	op.frag = nil
	if cur, ok := c.ops[op.id]; ok && cur == op {
		c.sendFrame(message.AbortOperation(op.id))
		delete(c.ops, op.id)
		c.tombstones.add(op.id)
		c.obs.OperationAborted(op.cb.kind)
		log.Debug().Uint32("id", op.id).Msg("agent.Conn abort")
	}
}

// take removes op from the table before its terminal callback runs.
func (c *Conn) take(op *Operation) {
	delete(c.ops, op.id)
	op.done = true
	op.frag = nil
}

func (c *Conn) sortedOps() []*Operation {
	out := make([]*Operation, 0, len(c.ops))
	for _, id := range slices.Sorted(maps.Keys(c.ops)) {
		out = append(out, c.ops[id])
	}
	return out
}

// tombstones remembers recently aborted ids so a reply already in flight at
// abort time is discarded instead of treated as a desync.
type tombstones struct {
	limit int
	set   map[uint32]struct{}
	order []uint32
}

func newTombstones(limit int) tombstones {
	return tombstones{limit: limit, set: make(map[uint32]struct{})}
}

func (t *tombstones) add(id uint32) {
	if _, ok := t.set[id]; ok {
		return
	}
	for len(t.order) >= t.limit {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.set, oldest)
	}
	t.set[id] = struct{}{}
	t.order = append(t.order, id)
}

func (t *tombstones) forget(id uint32) {
	if _, ok := t.set[id]; !ok {
		return
	}
	delete(t.set, id)
	t.order = slices.DeleteFunc(t.order, func(v uint32) bool { return v == id })
}

// consume reports whether id was buried and removes it.
func (t *tombstones) consume(id uint32) bool {
	if _, ok := t.set[id]; !ok {
		return false
	}
	t.forget(id)
	return true
}

func (t *tombstones) len() int {
	return len(t.set)
}
