// Package observability exports engine activity as prometheus metrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/agentlink/internal/agent"
	"github.com/danmuck/agentlink/internal/protocol"
)

const namespace = "agentlink"

// Metrics implements agent.Observer. One Metrics may serve several
// connections; the conn label tells them apart.
type Metrics struct {
	conn string

	frames     *prometheus.CounterVec
	frameBytes *prometheus.CounterVec
	started    *prometheus.CounterVec
	finished   *prometheus.CounterVec
	aborted    *prometheus.CounterVec
	closed     *prometheus.CounterVec
}

var _ agent.Observer = (*Metrics)(nil)

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer, conn string) (*Metrics, error) {
	m := &Metrics{
		conn: conn,
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wire",
				Name:      "frames_total",
				Help:      "Frames exchanged with the agent.",
			},
			[]string{"conn", "direction", "type"},
		),
		frameBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "wire",
				Name:      "bytes_total",
				Help:      "Framed bytes exchanged with the agent.",
			},
			[]string{"conn", "direction"},
		),
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operations",
				Name:      "started_total",
				Help:      "Operations registered.",
			},
			[]string{"conn", "kind"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operations",
				Name:      "finished_total",
				Help:      "Operations that delivered a result.",
			},
			[]string{"conn", "kind", "code"},
		),
		aborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operations",
				Name:      "aborted_total",
				Help:      "Operations aborted by the host.",
			},
			[]string{"conn", "kind"},
		),
		closed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connection",
				Name:      "closed_total",
				Help:      "Connection teardowns by cause; ok is a host close.",
			},
			[]string{"conn", "code"},
		),
	}
	for _, c := range []prometheus.Collector{m.frames, m.frameBytes, m.started, m.finished, m.aborted, m.closed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) FrameSent(t protocol.MessageType, size int) {
	m.frames.WithLabelValues(m.conn, "out", t.String()).Inc()
	m.frameBytes.WithLabelValues(m.conn, "out").Add(float64(size))
}

func (m *Metrics) FrameReceived(t protocol.MessageType, size int) {
	m.frames.WithLabelValues(m.conn, "in", t.String()).Inc()
	m.frameBytes.WithLabelValues(m.conn, "in").Add(float64(size))
}

func (m *Metrics) OperationStarted(k agent.Kind) {
	m.started.WithLabelValues(m.conn, k.String()).Inc()
}

func (m *Metrics) OperationFinished(k agent.Kind, code protocol.ErrorCode) {
	m.finished.WithLabelValues(m.conn, k.String(), codeLabel(code)).Inc()
}

func (m *Metrics) OperationAborted(k agent.Kind) {
	m.aborted.WithLabelValues(m.conn, k.String()).Inc()
}

func (m *Metrics) ConnectionClosed(code protocol.ErrorCode) {
	m.closed.WithLabelValues(m.conn, codeLabel(code)).Inc()
}

func codeLabel(code protocol.ErrorCode) string {
	return strconv.FormatUint(uint64(code), 10)
}
