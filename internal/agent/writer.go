package agent

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// closeFlushTimeout bounds how long queued frames may take to drain once
// the connection is released.
var closeFlushTimeout = time.Second

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// streamWriter drains encoded frames onto the socket from its own goroutine
// so a peer that stops reading never stalls the control thread. Frames are
// written in enqueue order.
type streamWriter struct {
	stream io.WriteCloser
	wake   chan struct{}
	failed atomic.Bool

	mu      sync.Mutex
	queue   [][]byte
	closing bool
}

// newStreamWriter starts the writer. onFail runs on the writer goroutine
// after the first failed write; it is not called once close has begun.
func newStreamWriter(stream io.WriteCloser, onFail func(error)) *streamWriter {
	w := &streamWriter{
		stream: stream,
		wake:   make(chan struct{}, 1),
	}
	go w.run(onFail)
	return w
}

// enqueue hands b to the writer. It reports false after a write failed or
// close was called.
func (w *streamWriter) enqueue(b []byte) bool {
	if w.failed.Load() {
		return false
	}
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, b)
	w.mu.Unlock()
	w.signal()
	return true
}

// close stops accepting frames. Frames already queued are flushed within
// closeFlushTimeout when the stream supports write deadlines, dropped
// otherwise; the stream is closed either way.
func (w *streamWriter) close() {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.closing = true
	if d, ok := w.stream.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(closeFlushTimeout))
	} else {
		w.queue = nil
		_ = w.stream.Close()
	}
	w.mu.Unlock()
	w.signal()
}

func (w *streamWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *streamWriter) run(onFail func(error)) {
	defer w.stream.Close()
	for range w.wake {
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				closing := w.closing
				w.mu.Unlock()
				if closing {
					return
				}
				break
			}
			b := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.mu.Unlock()

			if _, err := w.stream.Write(b); err != nil {
				w.failed.Store(true)
				w.mu.Lock()
				closing := w.closing
				w.queue = nil
				w.mu.Unlock()
				if !closing && onFail != nil {
					onFail(err)
				}
				return
			}
		}
	}
}
