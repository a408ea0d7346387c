package agent

import (
	"testing"

	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/danmuck/agentlink/internal/testutil/fakeagent"
	"github.com/danmuck/agentlink/internal/testutil/testlog"
)

// harness is a running external-mode connection with a recording peer.
type harness struct {
	t      *testing.T
	conn   *Conn
	rec    *fakeagent.Recorder
	closes []error
	notes  []protocol.MessageType
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	testlog.Start(t)
	h := &harness{t: t, rec: fakeagent.NewRecorder()}
	var opened *Conn
	h.conn = OpenExternal(h.rec.Send, cfg, func(c *Conn) { opened = c }, func(err error) {
		h.closes = append(h.closes, err)
	})
	if h.conn == nil {
		t.Fatalf("open external returned nil")
	}
	h.conn.SetNotificationHandler(func(tp protocol.MessageType, _ []byte) {
		h.notes = append(h.notes, tp)
	})
	if !h.inject(fakeagent.Hello("agent", 1, 0)) {
		t.Fatalf("handshake rejected")
	}
	if opened != h.conn {
		t.Fatalf("open callback did not receive the connection")
	}
	h.rec.Take()
	return h
}

func (h *harness) inject(frames ...frame.Frame) bool {
	h.t.Helper()
	return h.conn.InjectReceived(fakeagent.Wire(frames...))
}

// sent returns the frames sent since the last call.
func (h *harness) sent() []frame.Frame {
	return h.rec.Take()
}

func (h *harness) only(want protocol.MessageType) frame.Frame {
	h.t.Helper()
	frames := h.sent()
	if len(frames) != 1 {
		h.t.Fatalf("expected one frame, got %d", len(frames))
	}
	if frames[0].Type != want {
		h.t.Fatalf("expected %s, got %s", want, frames[0].Type)
	}
	return frames[0]
}

func (h *harness) expectClosed(want protocol.ErrorCode) {
	h.t.Helper()
	if h.conn.State() != StateClosed {
		h.t.Fatalf("expected closed, got %s", h.conn.State())
	}
	if len(h.closes) != 1 || protocol.CodeOf(h.closes[0]) != want {
		h.t.Fatalf("expected one close with %v, got %v", want, h.closes)
	}
}

func bodyID(t *testing.T, f frame.Frame) (uint32, []byte) {
	t.Helper()
	id, rest, err := message.SplitID(f.Type, f.Body)
	if err != nil {
		t.Fatalf("split id: %v", err)
	}
	return id, rest
}

// result captures a single callback invocation.
type result struct {
	calls   int
	err     error
	data    []byte
	entries []message.KeyCert
}

func (r *result) completion() CompletionFunc {
	return func(err error) {
		r.calls++
		r.err = err
	}
}

func (r *result) list() ListFunc {
	return func(err error, entries []message.KeyCert) {
		r.calls++
		r.err = err
		r.entries = append([]message.KeyCert(nil), entries...)
	}
}

func (r *result) dataFunc() DataFunc {
	return func(err error, data []byte) {
		r.calls++
		r.err = err
		r.data = append([]byte(nil), data...)
	}
}

func (r *result) code() protocol.ErrorCode {
	return protocol.CodeOf(r.err)
}
