// Package ledger keeps the ordered record of conversation turns.
package ledger

import (
	"sync"
	"time"
)

// DefaultCapacity bounds retained history for long-lived sessions.
const DefaultCapacity = 500

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Ledger is append-only. With a positive capacity it behaves as a ring buffer:
// the oldest turns are evicted and the rest keep their order.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	buf      []Turn
	start    int
	evicted  int
}

// New returns a ledger retaining at most capacity turns; zero or less keeps
// everything.
func New(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{capacity: capacity}
}

func (l *Ledger) Append(t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capacity == 0 || len(l.buf) < l.capacity {
		l.buf = append(l.buf, t)
		return
	}
	l.buf[l.start] = t
	l.start = (l.start + 1) % l.capacity
	l.evicted++
}

// All returns the retained turns oldest first. The slice is a copy.
func (l *Ledger) All() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.buf))
	n := copy(out, l.buf[l.start:])
	copy(out[n:], l.buf[:l.start])
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Version counts every turn ever appended. It changes whenever All would.
func (l *Ledger) Version() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf) + l.evicted
}

// Evicted counts turns dropped by the retention bound.
func (l *Ledger) Evicted() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// Last returns the most recent turn.
func (l *Ledger) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.buf) == 0 {
		return Turn{}, false
	}
	idx := len(l.buf) - 1
	if l.capacity > 0 && len(l.buf) == l.capacity {
		idx = (l.start - 1 + l.capacity) % l.capacity
	}
	return l.buf[idx], true
}
