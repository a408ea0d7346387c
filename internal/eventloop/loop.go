// Package eventloop runs queued work on one goroutine. It is the control
// thread the agent engine expects: socket reads, connect completion and
// caller requests are all posted here so the engine never needs a lock.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a FIFO of functions drained by Run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	stop    chan struct{}
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Post queues fn. It returns false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Stop makes Run return after the function currently executing. Queued
// work is dropped.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.stop)
}

// Stopped reports whether Stop was called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// Done is closed once Stop has been called.
func (l *Loop) Done() <-chan struct{} {
	return l.stop
}

// Run executes queued functions on the calling goroutine until Stop is
// called or ctx is done. It returns nil after Stop and ctx.Err() otherwise.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			fn()
		}
		if l.Stopped() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}
