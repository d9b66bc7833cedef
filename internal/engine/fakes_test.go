package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceturn/internal/capture"
	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/playback"
	"github.com/chadiek/voiceturn/internal/watchdog"
)

type fakeRecognizer struct {
	mu           sync.Mutex
	supported    bool
	handler      capture.RecognitionHandler
	starts       int
	stops        int
	unsubscribed bool
}

func (f *fakeRecognizer) Supported() bool { return f.supported }

func (f *fakeRecognizer) Start(continuous bool) error {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Subscribe(h capture.RecognitionHandler) func() {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

func (f *fakeRecognizer) say(text string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnTranscript(text)
}

type fakeSynth struct {
	mu           sync.Mutex
	supported    bool
	voices       []playback.Voice
	ready        chan struct{}
	spoken       []playback.Request
	cancels      int
	handler      playback.SynthesisHandler
	unsubscribed bool
}

func newFakeSynth() *fakeSynth {
	ready := make(chan struct{})
	close(ready)
	return &fakeSynth{
		supported: true,
		voices:    []playback.Voice{{Name: "Google US English", Lang: "en-US"}},
		ready:     ready,
	}
}

func (f *fakeSynth) Supported() bool              { return f.supported }
func (f *fakeSynth) Voices() []playback.Voice     { return f.voices }
func (f *fakeSynth) VoicesReady() <-chan struct{} { return f.ready }

func (f *fakeSynth) Speak(req playback.Request) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeSynth) CancelAll() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeSynth) Subscribe(h playback.SynthesisHandler) func() {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

func (f *fakeSynth) requests() []playback.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playback.Request(nil), f.spoken...)
}

func (f *fakeSynth) last(t *testing.T) playback.Request {
	t.Helper()
	reqs := f.requests()
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func (f *fakeSynth) start(id uint64) { f.handler.OnStart(id) }
func (f *fakeSynth) end(id uint64)   { f.handler.OnEnd(id) }

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeClock records scheduled timers and fires them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) watchdog.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every live timer scheduled for d.
func (c *fakeClock) fire(d time.Duration) int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

// fireStale runs timers for d that were already stopped, simulating an
// expiry that raced with its cancellation.
func (c *fakeClock) fireStale(d time.Duration) int {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

type answer struct {
	text string
	err  error
}

// scriptedReasoner blocks each request until the test supplies an answer.
type scriptedReasoner struct {
	mu      sync.Mutex
	reqs    []dispatch.Request
	answers chan answer
}

func newScriptedReasoner() *scriptedReasoner {
	return &scriptedReasoner{answers: make(chan answer)}
}

func (r *scriptedReasoner) Reply(ctx context.Context, req dispatch.Request) (string, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	select {
	case a := <-r.answers:
		return a.text, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *scriptedReasoner) requests() []dispatch.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Request(nil), r.reqs...)
}

func (r *scriptedReasoner) reply(t *testing.T, text string) {
	t.Helper()
	select {
	case r.answers <- answer{text: text}:
	case <-time.After(time.Second):
		t.Fatal("reasoner was never called")
	}
}

func (r *scriptedReasoner) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case r.answers <- answer{err: err}:
	case <-time.After(time.Second):
		t.Fatal("reasoner was never called")
	}
}
