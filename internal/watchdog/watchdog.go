// Package watchdog turns a stream of transcript activity into utterance
// boundaries: the user is presumed finished once the timeout elapses without
// a new Reset.
package watchdog

import (
	"sync"
	"time"
)

// DefaultTimeout is the quiet period after which a capture is finalized.
const DefaultTimeout = 2000 * time.Millisecond

// Timer is the part of *time.Timer the watchdog relies on.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc wraps time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Watchdog is a restartable one-shot timer. Every Reset supersedes the
// previous one, so at most one expiry is ever pending.
type Watchdog struct {
	timeout   time.Duration
	afterFunc AfterFunc
	onExpire  func(gen uint64)

	mu    sync.Mutex
	timer Timer
	gen   uint64
	armed bool
}

// New creates a watchdog that calls onExpire with the generation of the
// Reset that expired. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration, onExpire func(gen uint64)) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{timeout: timeout, afterFunc: RealAfterFunc, onExpire: onExpire}
}

// WithAfterFunc swaps the scheduler; tests use it to drive expiry by hand.
func (w *Watchdog) WithAfterFunc(af AfterFunc) *Watchdog {
	if af != nil {
		w.afterFunc = af
	}
	return w
}

func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Reset cancels any pending expiry and schedules a new one. It returns the
// generation the new expiry will report.
func (w *Watchdog) Reset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	gen := w.gen
	w.armed = true
	w.timer = w.afterFunc(w.timeout, func() { w.fire(gen) })
	return gen
}

// Cancel drops the pending expiry, if any.
func (w *Watchdog) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.armed = false
}

// Pending reports whether an expiry is scheduled.
func (w *Watchdog) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// Generation is bumped by every Reset and Cancel. An expiry whose generation
// no longer matches was superseded after it fired.
func (w *Watchdog) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	if !w.armed || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	cb := w.onExpire
	w.mu.Unlock()
	if cb != nil {
		cb(gen)
	}
}
