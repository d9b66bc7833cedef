package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/ledger"
	"github.com/chadiek/voiceturn/internal/watchdog"
)

const silence = watchdog.DefaultTimeout

type harness struct {
	c        *Coordinator
	rec      *fakeRecognizer
	synth    *fakeSynth
	reasoner *scriptedReasoner
	clock    *fakeClock

	mu      sync.Mutex
	changes []Snapshot
}

func newHarness(t *testing.T, configure func(h *harness, opts *Options)) *harness {
	t.Helper()
	h := &harness{
		rec:      &fakeRecognizer{supported: true},
		synth:    newFakeSynth(),
		reasoner: newScriptedReasoner(),
		clock:    &fakeClock{},
	}
	opts := Options{
		Greeting:  DefaultGreeting,
		Logger:    zerolog.Nop(),
		AfterFunc: h.clock.AfterFunc,
	}
	if configure != nil {
		configure(h, &opts)
	}
	h.c = New(h.rec, h.synth, h.reasoner, ledger.New(0), opts, Events{OnChange: h.record})
	require.NoError(t, h.c.Init(context.Background()))
	t.Cleanup(h.c.Dispose)
	return h
}

func (h *harness) record(s Snapshot) {
	h.mu.Lock()
	h.changes = append(h.changes, s)
	h.mu.Unlock()
}

func (h *harness) snapshots() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Snapshot(nil), h.changes...)
}

// flush waits until everything posted so far has been handled.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.do(func() error { return nil }))
}

func (h *harness) state() State { return h.c.Snapshot().State }

func (h *harness) waitPhase(t *testing.T, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return h.state().Phase == want }, time.Second, 2*time.Millisecond,
		"phase stayed %s, want %s", h.state().Phase, want)
}

func TestCoordinator_BalanceConversation(t *testing.T) {
	h := newHarness(t, nil)

	require.Equal(t, 1, h.clock.fire(DefaultGreetingDelay))
	h.flush(t)
	assert.Equal(t, PhaseSpeaking, h.state().Phase)
	greeting := h.synth.last(t)
	assert.Equal(t, DefaultGreeting, greeting.Text)
	assert.Equal(t, 0.9, greeting.Rate)
	h.synth.start(greeting.ID)
	h.synth.end(greeting.ID)
	h.flush(t)
	assert.Equal(t, idle(), h.state())
	assert.Zero(t, h.c.Ledger().Len(), "greeting is not recorded")

	require.NoError(t, h.c.StartVoice())
	assert.Equal(t, PhaseListening, h.state().Phase)
	h.rec.say("What is my")
	h.rec.say("What is my balance?")
	h.flush(t)
	snap := h.c.Snapshot()
	assert.True(t, snap.Listening)
	assert.Equal(t, "What is my balance?", snap.Transcript)

	require.Equal(t, 1, h.clock.fire(silence))
	h.flush(t)
	assert.Equal(t, PhaseAwaitingReply, h.state().Phase)
	assert.False(t, h.c.Snapshot().Listening)

	h.reasoner.reply(t, "Your balance is $120.")
	h.waitPhase(t, PhaseSpeaking)
	reqs := h.reasoner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "What is my balance?", reqs[0].Input)

	reply := h.synth.last(t)
	assert.Equal(t, "Your balance is $120.", reply.Text)
	turns := h.c.Ledger().All()
	require.Len(t, turns, 2)
	assert.Equal(t, ledger.User, turns[0].Role)
	assert.Equal(t, "What is my balance?", turns[0].Text)
	assert.Equal(t, ledger.Assistant, turns[1].Role)
	assert.Equal(t, "Your balance is $120.", turns[1].Text)

	h.synth.start(reply.ID)
	h.flush(t)
	assert.True(t, h.c.Snapshot().Speaking)
	h.synth.end(reply.ID)
	h.flush(t)
	snap = h.c.Snapshot()
	assert.Equal(t, idle(), snap.State)
	assert.False(t, snap.Speaking)
	assert.Equal(t, "Your balance is $120.", snap.LastReply)
	assert.Len(t, snap.Turns, 2)
}

func TestCoordinator_DispatchFailureUsesServiceMessage(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.SubmitText("hello"))
	assert.Equal(t, PhaseAwaitingReply, h.state().Phase)
	h.reasoner.fail(t, &dispatch.ServiceError{Status: 500, Message: "quota exceeded"})
	h.waitPhase(t, PhaseError)

	assert.Equal(t, "quota exceeded", h.state().Message)
	turns := h.c.Ledger().All()
	require.Len(t, turns, 1)
	assert.Equal(t, ledger.User, turns[0].Role)
}

func TestCoordinator_DispatchTimeout(t *testing.T) {
	h := newHarness(t, func(h *harness, opts *Options) {
		opts.DispatchTimeout = 20 * time.Millisecond
	})

	require.NoError(t, h.c.SubmitText("hello"))
	h.waitPhase(t, PhaseError)
	assert.Equal(t, dispatch.FallbackMessage, h.state().Message)
	assert.Equal(t, 1, h.c.Ledger().Len())
}

func TestCoordinator_RecognitionUnsupported(t *testing.T) {
	h := newHarness(t, func(h *harness, opts *Options) {
		h.rec.supported = false
	})

	require.NoError(t, h.c.StartVoice())
	snap := h.c.Snapshot()
	assert.Equal(t, failed(MsgRecognitionUnsupported), snap.State)
	assert.Equal(t, MsgRecognitionUnsupported, snap.Banner)
	assert.Zero(t, h.rec.starts)

	// Typed input keeps working.
	require.NoError(t, h.c.SubmitText("hello"))
	assert.Equal(t, PhaseAwaitingReply, h.state().Phase)
	assert.Equal(t, MsgRecognitionUnsupported, h.c.Snapshot().Banner)
	h.reasoner.reply(t, "hi there")
	h.waitPhase(t, PhaseSpeaking)
}

func TestCoordinator_SynthesisUnsupported(t *testing.T) {
	h := newHarness(t, func(h *harness, opts *Options) {
		h.synth.supported = false
	})

	snap := h.c.Snapshot()
	assert.Equal(t, failed(MsgSynthesisUnsupported), snap.State)
	assert.Equal(t, MsgSynthesisUnsupported, snap.Banner)
	assert.Zero(t, h.clock.fire(DefaultGreetingDelay), "no greeting without synthesis")

	require.NoError(t, h.c.SubmitText("hello"))
	h.reasoner.reply(t, "hi there")
	h.waitPhase(t, PhaseIdle)
	assert.Equal(t, "hi there", h.c.Snapshot().LastReply)
	assert.Empty(t, h.synth.requests())
	assert.Equal(t, 2, h.c.Ledger().Len())
}

func TestCoordinator_SupersededPlaybackEndIgnored(t *testing.T) {
	h := newHarness(t, nil)

	require.Equal(t, 1, h.clock.fire(DefaultGreetingDelay))
	h.flush(t)
	greeting := h.synth.last(t)
	h.synth.start(greeting.ID)

	require.NoError(t, h.c.SubmitText("What is my balance?"))
	assert.Equal(t, PhaseAwaitingReply, h.state().Phase)
	h.reasoner.reply(t, "Your balance is $120.")
	h.waitPhase(t, PhaseSpeaking)
	reply := h.synth.last(t)
	require.NotEqual(t, greeting.ID, reply.ID)

	h.synth.start(reply.ID)
	// The greeting's cancellation completes late.
	h.synth.end(greeting.ID)
	h.flush(t)
	assert.Equal(t, PhaseSpeaking, h.state().Phase)
	assert.True(t, h.c.Snapshot().Speaking)

	h.synth.end(reply.ID)
	h.flush(t)
	assert.Equal(t, PhaseIdle, h.state().Phase)
}

func TestCoordinator_EmptyInput(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.SubmitText("   "))
	assert.Equal(t, idle(), h.state())

	require.NoError(t, h.c.StartVoice())
	require.NoError(t, h.c.StopVoice())
	assert.Equal(t, idle(), h.state())

	require.NoError(t, h.c.StartVoice())
	h.rec.say("  ")
	h.flush(t)
	require.Equal(t, 1, h.clock.fire(silence))
	h.flush(t)
	assert.Equal(t, idle(), h.state())

	assert.Empty(t, h.reasoner.requests())
	assert.Zero(t, h.c.Ledger().Len())
}

func TestCoordinator_EmptyTypedTextKeepsError(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.SubmitText("hello"))
	h.reasoner.fail(t, context.Canceled)
	h.waitPhase(t, PhaseError)

	require.NoError(t, h.c.SubmitText(""))
	assert.Equal(t, failed(dispatch.FallbackMessage), h.state())
}

func TestCoordinator_BusyWhileAwaiting(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.SubmitText("one"))
	assert.ErrorIs(t, h.c.SubmitText("two"), ErrBusy)
	assert.ErrorIs(t, h.c.StartVoice(), ErrBusy)
	h.reasoner.reply(t, "first reply")
	h.waitPhase(t, PhaseSpeaking)
	assert.Len(t, h.reasoner.requests(), 1)
	assert.Equal(t, 2, h.c.Ledger().Len())

	require.NoError(t, h.c.StartVoice())
	assert.ErrorIs(t, h.c.SubmitText("typed while listening"), ErrBusy)
}

func TestCoordinator_StopVoiceDispatches(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartVoice())
	h.rec.say("Payment due date")
	require.NoError(t, h.c.StopVoice())
	assert.Equal(t, PhaseAwaitingReply, h.state().Phase)
	assert.Equal(t, 1, h.rec.stops)

	// The silence timer was disarmed by the stop.
	assert.Zero(t, h.clock.fire(silence))
	require.NoError(t, h.c.StopVoice())
	assert.Equal(t, PhaseAwaitingReply, h.state().Phase)

	h.reasoner.reply(t, "Your payment is due on the 5th.")
	h.waitPhase(t, PhaseSpeaking)
	assert.Equal(t, "Payment due date", h.reasoner.requests()[0].Input)
}

func TestCoordinator_StaleSilenceIgnored(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartVoice())
	h.rec.say("I need")
	h.flush(t)
	assert.Equal(t, 1, h.clock.fireStale(silence))
	h.flush(t)
	assert.Equal(t, PhaseListening, h.state().Phase)

	// An expiry that fires while newer activity is still queued is dropped.
	gate := make(chan struct{})
	h.c.q.post(func() { <-gate })
	h.rec.say("I need help")
	require.Equal(t, 1, h.clock.fire(silence))
	close(gate)
	h.flush(t)
	assert.Equal(t, PhaseListening, h.state().Phase)
	assert.Equal(t, "I need help", h.c.Snapshot().Transcript)

	require.Equal(t, 1, h.clock.fire(silence))
	h.flush(t)
	assert.Equal(t, PhaseAwaitingReply, h.state().Phase)
}

func TestCoordinator_BargeIn(t *testing.T) {
	h := newHarness(t, nil)

	require.Equal(t, 1, h.clock.fire(DefaultGreetingDelay))
	h.flush(t)
	greeting := h.synth.last(t)
	h.synth.start(greeting.ID)
	h.flush(t)
	cancels := h.synth.cancels

	require.NoError(t, h.c.StartVoice())
	assert.Equal(t, PhaseListening, h.state().Phase)
	assert.Greater(t, h.synth.cancels, cancels)
	assert.False(t, h.c.Snapshot().Speaking)

	h.synth.end(greeting.ID)
	h.flush(t)
	assert.Equal(t, PhaseListening, h.state().Phase)
}

func TestCoordinator_StartVoiceClearsError(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.SubmitText("hello"))
	h.reasoner.fail(t, &dispatch.ServiceError{Status: 503})
	h.waitPhase(t, PhaseError)
	assert.Equal(t, dispatch.FallbackMessage, h.state().Message)

	require.NoError(t, h.c.StartVoice())
	assert.Equal(t, State{Phase: PhaseListening}, h.state())
}

func TestCoordinator_GreetingSkippedWhenBusy(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.c.StartVoice())
	require.Equal(t, 1, h.clock.fire(DefaultGreetingDelay))
	h.flush(t)
	assert.Equal(t, PhaseListening, h.state().Phase)
	assert.Empty(t, h.synth.requests())
}

func TestCoordinator_NoGreetingConfigured(t *testing.T) {
	h := newHarness(t, func(h *harness, opts *Options) { opts.Greeting = "" })
	assert.Zero(t, h.clock.fire(DefaultGreetingDelay))
}

func TestCoordinator_Dispose(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.SubmitText("hello"))

	h.c.Dispose()
	assert.True(t, h.rec.unsubscribed)
	assert.True(t, h.synth.unsubscribed)
	assert.ErrorIs(t, h.c.StartVoice(), ErrDisposed)
	assert.ErrorIs(t, h.c.SubmitText("again"), ErrDisposed)
	assert.Zero(t, h.clock.fire(DefaultGreetingDelay))
	h.c.Dispose()
}

func TestCoordinator_DisposedWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(&fakeRecognizer{supported: true}, newFakeSynth(), newScriptedReasoner(), nil, Options{
		Logger:    zerolog.Nop(),
		AfterFunc: (&fakeClock{}).AfterFunc,
	}, Events{})
	require.NoError(t, c.Init(ctx))
	cancel()
	require.Eventually(t, func() bool { return c.StartVoice() == ErrDisposed }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_NotStarted(t *testing.T) {
	c := New(nil, nil, newScriptedReasoner(), nil, Options{Logger: zerolog.Nop()}, Events{})
	assert.ErrorIs(t, c.StartVoice(), ErrNotStarted)
	assert.Equal(t, idle(), c.Snapshot().State)
	c.Dispose()
}

func TestCoordinator_OnChange(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.SubmitText("I need help with Account Balance"))

	var sawAwaiting bool
	for _, s := range h.snapshots() {
		if s.State.Phase == PhaseAwaitingReply {
			sawAwaiting = true
			require.Len(t, s.Turns, 1)
			assert.Equal(t, "I need help with Account Balance", s.Turns[0].Text)
		}
	}
	assert.True(t, sawAwaiting)
	h.reasoner.reply(t, "Sure.")
	h.waitPhase(t, PhaseSpeaking)
}

func TestCoordinator_TurnsCopiedOnlyWhenLedgerChanges(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.SubmitText("What is my balance?"))
	h.reasoner.reply(t, "Your balance is $120.")
	h.waitPhase(t, PhaseSpeaking)

	before := h.c.Snapshot()
	assert.Equal(t, 2, before.TurnsVersion)
	reply := h.synth.last(t)
	h.synth.start(reply.ID)
	h.flush(t)

	after := h.c.Snapshot()
	require.True(t, after.Speaking)
	require.Len(t, after.Turns, 2)
	assert.Equal(t, before.TurnsVersion, after.TurnsVersion)
	assert.Same(t, &before.Turns[0], &after.Turns[0])
}

func TestPhase_String(t *testing.T) {
	b, err := PhaseAwaitingReply.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "awaiting_reply", string(b))
	assert.Equal(t, "phase(9)", Phase(9).String())
}
