package agent

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = message.KeyRef{Encoding: "ssh-rsa", Blob: []byte{0xde, 0xad}}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// drive acknowledges every fragment until the final command is sent.
func drive(t *testing.T, h *harness, id uint32) ([]message.FragmentRequest, frame.Frame) {
	t.Helper()
	var frags []message.FragmentRequest
	for {
		frames := h.sent()
		require.Len(t, frames, 1)
		f := frames[0]
		fid, rest := bodyID(t, f)
		require.Equal(t, id, fid)
		if f.Type != protocol.MsgOperationDataFragment {
			return frags, f
		}
		req, err := message.DecodeFragment(rest)
		require.NoError(t, err)
		require.Equal(t, uint32(len(frags)), req.Seq)
		frags = append(frags, req)
		require.True(t, h.inject(message.FragmentReply(id, req.Seq, protocol.ErrorOK)))
	}
}

func TestFragmentedKeyOperation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	data := payload(200000)
	var r result
	op := h.conn.KeyOperation(testKey, "sign", data, r.dataFunc())
	require.NotNil(t, op)

	frags, final := drive(t, h, op.ID())

	// 200000 bytes staged with a 4 byte length prefix over a 65536 bound
	require.Len(t, frags, 3)
	for i, f := range frags {
		assert.Equal(t, "sign", f.Name)
		assert.Len(t, f.Data, 65536, "fragment %d", i)
	}
	assert.Equal(t, protocol.MsgKeyOperation, final.Type)
	_, rest := bodyID(t, final)
	k, tail, err := message.DecodeKeyOperation(final.Type, rest)
	require.NoError(t, err)
	assert.Equal(t, testKey, k.Key)
	assert.Equal(t, "sign", k.Name)
	assert.Len(t, tail, 200004-3*65536)

	var joined []byte
	for _, f := range frags {
		joined = append(joined, f.Data...)
	}
	joined = append(joined, tail...)
	assert.True(t, bytes.Equal(message.StagePayload(data), joined))

	assert.Zero(t, r.calls)
	require.True(t, h.inject(message.Data(protocol.MsgKeyOperationComplete, op.ID(), []byte("sig"))))
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, []byte("sig"), r.data)
	assert.Zero(t, h.conn.Pending())
}

func TestFragmentChunkCounts(t *testing.T) {
	for _, bound := range []int{5, 8, 16, 64} {
		for n := 0; n <= 100; n += 3 {
			t.Run(fmt.Sprintf("bound=%d/len=%d", bound, n), func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.FragmentBound = bound
				h := newHarness(t, cfg)
				data := payload(n)
				op := h.conn.KeyOperation(testKey, "decrypt", data, nil)
				frags, final := drive(t, h, op.ID())

				staged := n + 4
				if staged <= bound {
					assert.Empty(t, frags)
				} else {
					chunks := (staged + bound - 1) / bound
					assert.Len(t, frags, chunks-1)
					for _, f := range frags {
						assert.Len(t, f.Data, bound)
					}
				}
				_, rest := bodyID(t, final)
				_, tail, err := message.DecodeKeyOperation(final.Type, rest)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(tail), bound)

				var joined []byte
				for _, f := range frags {
					joined = append(joined, f.Data...)
				}
				joined = append(joined, tail...)
				got, err := message.DecodePayload(joined)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(data, got))
			})
		}
	}
}

func TestFastPathBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentBound = 32
	h := newHarness(t, cfg)

	h.conn.KeyOperation(testKey, "sign", payload(28), nil)
	h.only(protocol.MsgKeyOperation)

	op := h.conn.KeyOperation(testKey, "sign", payload(29), nil)
	f := h.only(protocol.MsgOperationDataFragment)
	_, rest := bodyID(t, f)
	req, err := message.DecodeFragment(rest)
	require.NoError(t, err)
	assert.Len(t, req.Data, 32)
	require.True(t, h.inject(message.FragmentReply(op.ID(), 0, protocol.ErrorOK)))
	final := h.only(protocol.MsgKeyOperation)
	_, rest = bodyID(t, final)
	_, tail, err := message.DecodeKeyOperation(final.Type, rest)
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}

func TestFragmentReplyErrorFailsOperation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentBound = 16
	h := newHarness(t, cfg)
	var r result
	op := h.conn.KeyOperation(testKey, "sign", payload(100), r.dataFunc())
	h.only(protocol.MsgOperationDataFragment)

	require.True(t, h.inject(message.FragmentReply(op.ID(), 0, protocol.ErrorDenied)))
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, protocol.ErrorDenied, r.code())
	assert.Nil(t, r.data)
	assert.Empty(t, h.sent())
	assert.True(t, op.Done())
	assert.Equal(t, StateRunning, h.conn.State())
}

func TestFragmentReplyViolations(t *testing.T) {
	cases := map[string]func(h *harness, frag, plain *Operation) frame.Frame{
		"wrong sequence": func(h *harness, frag, plain *Operation) frame.Frame {
			return message.FragmentReply(frag.ID(), 1, protocol.ErrorOK)
		},
		"not fragmenting": func(h *harness, frag, plain *Operation) frame.Frame {
			return message.FragmentReply(plain.ID(), 0, protocol.ErrorOK)
		},
		"short body": func(h *harness, frag, plain *Operation) frame.Frame {
			f := message.FragmentReply(frag.ID(), 0, protocol.ErrorOK)
			f.Body = f.Body[:8]
			return f
		},
		"trailing body": func(h *harness, frag, plain *Operation) frame.Frame {
			f := message.FragmentReply(frag.ID(), 0, protocol.ErrorOK)
			f.Body = append(f.Body, 0)
			return f
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.FragmentBound = 16
			h := newHarness(t, cfg)
			var fr, pr result
			frag := h.conn.KeyOperation(testKey, "sign", payload(40), fr.dataFunc())
			plain := h.conn.Ping(pr.completion())
			h.sent()

			assert.False(t, h.inject(build(h, frag, plain)))
			assert.Equal(t, protocol.ErrorProtocol, fr.code())
			assert.Equal(t, protocol.ErrorProtocol, pr.code())
			h.expectClosed(protocol.ErrorProtocol)
		})
	}
}

func TestAbortMidFragmentStopsSequence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentBound = 16
	h := newHarness(t, cfg)
	var r result
	op := h.conn.KeyOperation(testKey, "sign", payload(100), r.dataFunc())
	h.only(protocol.MsgOperationDataFragment)

	op.Abort()
	h.only(protocol.MsgAbortOperation)
	require.True(t, h.inject(message.FragmentReply(op.ID(), 0, protocol.ErrorOK)))
	assert.Empty(t, h.sent())
	assert.Zero(t, r.calls)
}

func TestSelectedCertificateFragmentation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentBound = 24
	h := newHarness(t, cfg)
	certs := []message.Certificate{
		{Type: "x509v3", Data: bytes.Repeat([]byte{1}, 40)},
		{Type: "x509v3", Data: []byte{2, 2}},
	}
	data := payload(90)

	var got message.SelectedResult
	var gotErr error
	calls := 0
	op := h.conn.KeyOperationWithSelectedCertificate(certs, "decrypt", data, func(err error, r message.SelectedResult) {
		calls++
		gotErr = err
		got = r
	})
	require.NotNil(t, op)
	assert.Equal(t, KindDataWithCert, op.Kind())

	frags, final := drive(t, h, op.ID())
	assert.Len(t, frags, (94+23)/24-1)
	assert.Equal(t, protocol.MsgKeyOperationWithSelectedCert, final.Type)
	_, rest := bodyID(t, final)
	k, tail, err := message.DecodeKeyOperation(final.Type, rest)
	require.NoError(t, err)
	assert.Equal(t, message.SelectedCertBlock(certs), k.CertBlock)
	assert.Equal(t, "decrypt", k.Name)

	var joined []byte
	for _, f := range frags {
		joined = append(joined, f.Data...)
	}
	out, err := message.DecodePayload(append(joined, tail...))
	require.NoError(t, err)
	assert.Equal(t, data, out)

	want := message.SelectedResult{Encoding: "x509v3", Blob: []byte{2, 2}, Result: []byte("plain")}
	require.True(t, h.inject(message.Selected(op.ID(), want)))
	assert.Equal(t, 1, calls)
	assert.NoError(t, gotErr)
	assert.Equal(t, want, got)
}

func TestKeyOperationWithCertificate(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	cert := message.Certificate{Type: "x509v3-sign-rsa", Data: []byte{5, 5}}
	op := h.conn.KeyOperationWithCertificate(cert, "sign", []byte("digest"), nil)
	f := h.only(protocol.MsgKeyOperationWithCertificate)
	_, rest := bodyID(t, f)
	k, tail, err := message.DecodeKeyOperation(f.Type, rest)
	require.NoError(t, err)
	assert.Equal(t, message.KeyRef{Encoding: cert.Type, Blob: cert.Data}, k.Key)
	assert.Equal(t, message.StagePayload([]byte("digest")), tail)
	assert.Equal(t, KindData, op.Kind())
}
