// Package fakeagent provides in-process agent peers for tests: a Recorder
// that captures what the client sends in external mode and a scripted
// Agent that answers requests over a real stream.
package fakeagent

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/danmuck/agentlink/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// Recorder decodes every frame the client sends.
type Recorder struct {
	decoder *frame.Decoder
	frames  []frame.Frame
	// Down makes Send report the transport as down.
	Down bool
	// Calls counts Send invocations, including refused ones.
	Calls int
}

func NewRecorder() *Recorder {
	return &Recorder{decoder: frame.NewDecoder(frame.Limits{})}
}

// Send is an agent.SendFunc.
func (r *Recorder) Send(b []byte) bool {
	r.Calls++
	if r.Down {
		return false
	}
	r.decoder.Feed(b)
	for {
		f, ok, err := r.decoder.Next()
		if err != nil {
			panic(err)
		}
		if !ok {
			return true
		}
		r.frames = append(r.frames, f)
	}
}

func (r *Recorder) Frames() []frame.Frame {
	return r.frames
}

// Take returns the recorded frames and forgets them.
func (r *Recorder) Take() []frame.Frame {
	out := r.frames
	r.frames = nil
	return out
}

// Last returns the most recent frame.
func (r *Recorder) Last() (frame.Frame, bool) {
	if len(r.frames) == 0 {
		return frame.Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// Wire concatenates encoded frames.
func Wire(frames ...frame.Frame) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, frame.Encode(f)...)
	}
	return out
}

// Hello is the version response of a well-behaved agent.
func Hello(name string, major, minor uint32) frame.Frame {
	return message.VersionResponse(message.AgentVersion{
		Protocol: protocol.ProtocolVersion,
		Name:     name,
		Major:    major,
		Minor:    minor,
	})
}

// Agent answers a useful subset of requests from in-memory state.
type Agent struct {
	Name  string
	Major uint32
	Minor uint32
	Keys  []message.KeyCert
	// Sign computes the key operation result.
	Sign func(name string, data []byte) []byte

	mu      sync.Mutex
	staging map[uint32][]byte
	seen    []protocol.MessageType
}

func (a *Agent) init() {
	if a.staging == nil {
		a.staging = make(map[uint32][]byte)
	}
}

// Seen returns the request types handled so far.
func (a *Agent) Seen() []protocol.MessageType {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.MessageType(nil), a.seen...)
}

// Handle answers one client frame.
func (a *Agent) Handle(f frame.Frame) []frame.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()
	a.seen = append(a.seen, f.Type)

	if f.Type.IsNotification() {
		return nil
	}
	id, rest, err := message.SplitID(f.Type, f.Body)
	if err != nil {
		return nil
	}

	switch f.Type {
	case protocol.MsgVersion:
		if _, err := message.DecodeClientVersion(rest); err != nil {
			return nil
		}
		return []frame.Frame{Hello(a.Name, a.Major, a.Minor)}
	case protocol.MsgAbortOperation:
		delete(a.staging, id)
		return nil
	case protocol.MsgPing, protocol.MsgQuit, protocol.MsgDeleteAllKeys:
		return []frame.Frame{message.Success(id)}
	case protocol.MsgListKeys:
		return []frame.Frame{message.List(protocol.MsgKeyList, id, a.Keys)}
	case protocol.MsgRandom:
		n, err := wire.NewDecoder(rest).Uint32()
		if err != nil || n == 0 {
			return []frame.Frame{message.Failure(id, protocol.ErrorSizeError)}
		}
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		return []frame.Frame{message.Data(protocol.MsgRandomData, id, data)}
	case protocol.MsgOperationDataFragment:
		req, err := message.DecodeFragment(rest)
		if err != nil {
			return []frame.Frame{message.FragmentReply(id, 0, protocol.ErrorProtocol)}
		}
		a.staging[id] = append(a.staging[id], req.Data...)
		return []frame.Frame{message.FragmentReply(id, req.Seq, protocol.ErrorOK)}
	case protocol.MsgKeyOperation, protocol.MsgKeyOperationWithCertificate:
		k, tail, err := message.DecodeKeyOperation(f.Type, rest)
		if err != nil {
			return []frame.Frame{message.Failure(id, protocol.ErrorSizeError)}
		}
		staged := append(a.staging[id], tail...)
		delete(a.staging, id)
		data, err := message.DecodePayload(staged)
		if err != nil {
			return []frame.Frame{message.Failure(id, protocol.ErrorSizeError)}
		}
		return []frame.Frame{message.Data(protocol.MsgKeyOperationComplete, id, a.sign(k.Name, data))}
	default:
		return []frame.Frame{message.Failure(id, protocol.ErrorUnsupported)}
	}
}

func (a *Agent) sign(name string, data []byte) []byte {
	if a.Sign != nil {
		return a.Sign(name, data)
	}
	return append([]byte(name+":"), data...)
}

// ServeConn answers frames on conn until the client hangs up or sends quit.
func (a *Agent) ServeConn(conn net.Conn) error {
	defer conn.Close()
	limits := frame.DefaultLimits()
	for {
		f, err := frame.ReadFrame(conn, limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		for _, reply := range a.Handle(f) {
			if err := frame.WriteFrame(conn, reply, limits); err != nil {
				return err
			}
		}
		if f.Type == protocol.MsgQuit {
			return nil
		}
	}
}

// Serve accepts connections on ln until it is closed.
func (a *Agent) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := a.ServeConn(conn); err != nil {
				log.Debug().Err(err).Msg("fakeagent.ServeConn")
			}
		}()
	}
}
