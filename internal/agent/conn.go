package agent

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/danmuck/agentlink/internal/protocol"
	"github.com/danmuck/agentlink/internal/protocol/frame"
	"github.com/danmuck/agentlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired  = errors.New("agent: agent address required")
	ErrIdentityMismatch = errors.New("agent: real and effective user ids differ")
)

// State is the connection lifecycle position.
type State int

const (
	StateInitial State = iota
	StateStarting
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type (
	// SendFunc writes one encoded frame in external mode. Returning false
	// marks the connection down; nothing is sent after that.
	SendFunc func(b []byte) bool
	// OpenFunc receives the running connection, or nil when the connection
	// could not be established.
	OpenFunc func(c *Conn)
	// CloseFunc receives the error that tore the connection down.
	CloseFunc func(err error)
	// NotificationFunc receives uncorrelated notices from the agent.
	NotificationFunc func(t protocol.MessageType, body []byte)
)

// Poster runs fn on the engine's control thread. It returns false when the
// thread no longer accepts work.
type Poster interface {
	Post(fn func()) bool
}

// Connector opens the byte stream to the agent.
type Connector interface {
	Connect(ctx context.Context, addr string) (io.ReadWriteCloser, error)
}

// identityMismatch refuses to talk to an agent from a setuid process.
var identityMismatch = func() bool {
	return os.Getuid() != os.Geteuid()
}

// Conn is one agent connection.
type Conn struct {
	cfg   Config
	state State
	agent message.AgentVersion

	nextID     uint32
	ops        map[uint32]*Operation
	tombstones tombstones

	endOfStream bool
	down        bool
	send        SendFunc
	decoder     *frame.Decoder

	poster        Poster
	stream        io.ReadWriteCloser
	writer        *streamWriter
	cancelConnect context.CancelFunc

	onOpen   OpenFunc
	onClose  CloseFunc
	onNotify NotificationFunc
	obs      Observer
}

func newConn(cfg Config, onOpen OpenFunc, onClose CloseFunc) *Conn {
	cfg = cfg.WithDefaults()
	var obs Observer = nopObserver{}
	if cfg.Observer != nil {
		obs = cfg.Observer
	}
	return &Conn{
		obs:        obs,
		cfg:        cfg,
		state:      StateInitial,
		ops:        make(map[uint32]*Operation),
		tombstones: newTombstones(maxTombstones),
		decoder:    frame.NewDecoder(cfg.Limits),
		onOpen:     onOpen,
		onClose:    onClose,
	}
}

// OpenExternal starts a connection over a host-owned transport. The
// version request is sent before OpenExternal returns; inbound bytes are fed
// through InjectReceived. A nil send reports failure through onOpen and
// returns nil.
func OpenExternal(send SendFunc, cfg Config, onOpen OpenFunc, onClose CloseFunc) *Conn {
	if send == nil {
		log.Warn().Msg("agent.OpenExternal missing send function")
		openFailed(onOpen)
		return nil
	}
	c := newConn(cfg, onOpen, onClose)
	c.state = StateStarting
	c.send = send
	c.sendVersion()
	if c.down {
		log.Warn().Msg("agent.OpenExternal transport refused version request")
		c.release()
		c.state = StateClosed
		openFailed(onOpen)
		return nil
	}
	return c
}

// Open connects to the agent at addr through connector. The connect runs
// off the control thread and its result is posted back; onOpen fires on the
// control thread once the handshake completes or fails. An empty address or
// a setuid process fails synchronously.
func Open(poster Poster, connector Connector, addr string, cfg Config, onOpen OpenFunc, onClose CloseFunc) *Conn {
	if addr == "" {
		log.Warn().Err(ErrAddressRequired).Msg("agent.Open")
		openFailed(onOpen)
		return nil
	}
	if identityMismatch() {
		log.Warn().Err(ErrIdentityMismatch).Msg("agent.Open")
		openFailed(onOpen)
		return nil
	}

	c := newConn(cfg, onOpen, onClose)
	c.state = StateStarting
	c.poster = poster
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelConnect = cancel

	go func() {
		stream, err := connector.Connect(ctx, addr)
		posted := poster.Post(func() { c.connected(stream, err) })
		if !posted && stream != nil {
			_ = stream.Close()
		}
	}()
	return c
}

func openFailed(onOpen OpenFunc) {
	if onOpen != nil {
		onOpen(nil)
	}
}

func (c *Conn) connected(stream io.ReadWriteCloser, err error) {
	c.cancelConnect = nil
	if c.state != StateStarting {
		// closed while connecting
		if stream != nil {
			_ = stream.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("agent.Conn connect failed")
		c.state = StateClosed
		openFailed(c.onOpen)
		return
	}
	c.stream = stream
	c.writer = newStreamWriter(stream, func(err error) {
		c.poster.Post(func() {
			if c.stream == stream {
				log.Warn().Err(err).Msg("agent.Conn write failed")
				c.down = true
			}
		})
	})
	c.send = c.writer.enqueue
	go readLoop(c.poster, c, stream)
	c.sendVersion()
}

// readLoop forwards everything read from stream to the control thread.
func readLoop(poster Poster, c *Conn, stream io.ReadWriteCloser) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if !poster.Post(func() {
				if c.stream == stream {
					c.InjectReceived(chunk)
				}
			}) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("agent.Conn read ended")
			}
			poster.Post(func() {
				if c.stream == stream {
					c.ReceivedEOF()
				}
			})
			return
		}
	}
}

func (c *Conn) sendVersion() {
	c.sendFrame(message.Version(c.cfg.ClientName, c.cfg.ClientMajor, c.cfg.ClientMinor))
}

// sendFrame is best effort: once the transport reports down or the agent
// closed its side, frames are dropped.
func (c *Conn) sendFrame(f frame.Frame) {
	if c.endOfStream || c.down || c.send == nil {
		log.Debug().Stringer("type", f.Type).Msg("agent.Conn drop frame on dead transport")
		return
	}
	b := frame.Encode(f)
	if !c.send(b) {
		c.down = true
		log.Warn().Stringer("type", f.Type).Msg("agent.Conn transport down")
		return
	}
	c.obs.FrameSent(f.Type, len(b))
}

// InjectReceived feeds inbound bytes. Frames may span calls. It returns
// false when the bytes broke the protocol or the connection is closed.
func (c *Conn) InjectReceived(b []byte) bool {
	if c == nil || c.state == StateClosed {
		return false
	}
	c.decoder.Feed(b)
	for c.state != StateClosed {
		f, ok, err := c.decoder.Next()
		if err != nil {
			log.Warn().Err(err).Msg("agent.Conn framing")
			c.fatal(protocol.ErrorProtocol)
			return false
		}
		if !ok {
			return true
		}
		c.dispatch(f)
	}
	return false
}

// ReceivedEOF reports that the agent closed its side. Outstanding
// operations fail with ErrorEOF and the close handler fires.
func (c *Conn) ReceivedEOF() {
	if c == nil || c.state == StateClosed {
		return
	}
	log.Debug().Msg("agent.Conn end of stream")
	c.endOfStream = true
	c.fatal(protocol.ErrorEOF)
}

// Close aborts every outstanding operation without invoking callbacks and
// releases the transport. Close is safe on nil and closed connections.
func (c *Conn) Close() {
	if c == nil || c.state == StateClosed {
		return
	}
	for _, op := range c.sortedOps() {
		c.abort(op)
	}
	c.state = StateClosed
	c.release()
	c.obs.ConnectionClosed(protocol.ErrorOK)
}

// fatal fails every outstanding operation with code, tears the connection
// down and reports code to the close handler once.
func (c *Conn) fatal(code protocol.ErrorCode) {
	if c.state == StateClosed {
		return
	}
	log.Warn().Err(code).Stringer("state", c.state).Int("pending", len(c.ops)).Msg("agent.Conn fatal")
	c.state = StateClosed
	ops := c.sortedOps()
	c.ops = make(map[uint32]*Operation)
	for _, op := range ops {
		op.done = true
		op.frag = nil
		op.cb.fail(code)
	}
	c.release()
	c.obs.ConnectionClosed(code)
	if c.onClose != nil {
		c.onClose(code)
	}
}

func (c *Conn) release() {
	if c.cancelConnect != nil {
		c.cancelConnect()
		c.cancelConnect = nil
	}
	if c.writer != nil {
		c.writer.close()
		c.writer = nil
	} else if c.stream != nil {
		_ = c.stream.Close()
	}
	c.stream = nil
	c.send = nil
	c.down = true
}

func (c *Conn) State() State {
	if c == nil {
		return StateClosed
	}
	return c.state
}

// AgentName is empty until the handshake completes.
func (c *Conn) AgentName() string {
	return c.agent.Name
}

func (c *Conn) AgentVersion() (major, minor uint32) {
	return c.agent.Major, c.agent.Minor
}

func (c *Conn) ClientName() string {
	return c.cfg.ClientName
}

// Pending reports the number of outstanding operations.
func (c *Conn) Pending() int {
	return len(c.ops)
}

// SetNotificationHandler replaces the notification sink.
func (c *Conn) SetNotificationHandler(fn NotificationFunc) {
	c.onNotify = fn
}

// SetCloseHandler replaces the close sink.
func (c *Conn) SetCloseHandler(fn CloseFunc) {
	c.onClose = fn
}
