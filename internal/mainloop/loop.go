// Package mainloop provides the single-threaded main execution context.
//
// Loading, publication, migration and every component lifecycle transition
// run here. Background work (file watching, compilation) only posts
// completion callbacks; those callbacks must be short.
package mainloop

import (
	"context"
	"runtime/debug"
	"sync"

	"widgetrt/internal/logging"
)

// Executor runs funcs on some execution context.
type Executor interface {
	Post(fn func())
}

// Immediate runs posted funcs inline on the caller. Used by tests and by
// one-shot CLI commands that have no loop running.
type Immediate struct{}

// Post runs fn immediately.
func (Immediate) Post(fn func()) { safeRun(fn) }

// Loop is a FIFO queue of funcs consumed by a single goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	stopped bool
}

// New creates an idle loop. Call Run to start consuming.
func New() *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Post enqueues fn. Never blocks. Funcs posted after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to finish. Must not be called
// from a func already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the queue until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.doneCh)

	for {
		l.Drain()
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-l.stopCh:
			l.shutdown()
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()
}

// Stop ends Run and waits for it to return. Safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped || !l.running {
		l.stopped = true
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.stopCh)
	<-l.doneCh
}

// Drain runs every queued func, including funcs they post, on the caller.
// Returns the number of funcs run.
func (l *Loop) Drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			safeRun(fn)
			n++
		}
	}
}

// Len returns the number of queued funcs.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// safeRun contains panics so a faulty callback cannot take the host down.
func safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.BootError("mainloop: recovered panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}
