// Package debounce coalesces bursts of events into a single delivery.
//
// A Debouncer keeps one slot holding the latest event and a timer that is
// reset on every new event; when the timer expires the stored event is
// delivered once. Events overwritten inside the window are dropped.
package debounce

import (
	"sync"
	"time"
)

// Debouncer delivers the last event of a burst after a quiet window.
type Debouncer[T any] struct {
	mu      sync.Mutex
	window  time.Duration
	fn      func(T)
	post    func(func())
	timer   *time.Timer
	latest  T
	pending bool
	stopped bool
	seq     uint64
}

// Option configures a Debouncer.
type Option func(*options)

type options struct {
	post func(func())
}

// WithExecutor routes deliveries through post (e.g. a main loop's Post)
// instead of running them on the timer goroutine.
func WithExecutor(post func(func())) Option {
	return func(o *options) { o.post = post }
}

// New creates a Debouncer that calls fn with the latest event once window
// has elapsed without a new event.
func New[T any](window time.Duration, fn func(T), opts ...Option) *Debouncer[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Debouncer[T]{window: window, fn: fn, post: o.post}
}

// Fire records ev as the latest event and (re)arms the timer.
func (d *Debouncer[T]) Fire(ev T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.latest = ev
	d.pending = true
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.expire(seq) })
}

func (d *Debouncer[T]) expire(seq uint64) {
	d.mu.Lock()
	// A later Fire superseded this timer after it had already been scheduled.
	if d.stopped || !d.pending || seq != d.seq {
		d.mu.Unlock()
		return
	}
	ev := d.latest
	var zero T
	d.latest = zero
	d.pending = false
	d.timer = nil
	post := d.post
	d.mu.Unlock()

	if post != nil {
		post(func() { d.fn(ev) })
		return
	}
	d.fn(ev)
}

// Pending reports whether an event is waiting for its window to elapse.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush delivers the pending event immediately, if any. Returns whether an
// event was delivered.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if !d.pending || d.stopped {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	ev := d.latest
	var zero T
	d.latest = zero
	d.pending = false
	post := d.post
	d.mu.Unlock()

	if post != nil {
		post(func() { d.fn(ev) })
	} else {
		d.fn(ev)
	}
	return true
}

// Stop cancels any pending delivery. Subsequent Fire calls are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
