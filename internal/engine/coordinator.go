// Package engine coordinates one voice conversation: capture, dispatch and
// playback are driven from a single event loop so that every state change is
// serialized.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/capture"
	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/ledger"
	"github.com/chadiek/voiceturn/internal/playback"
	"github.com/chadiek/voiceturn/internal/watchdog"
)

// Coordinator owns the interaction state. All fields below the queue are
// touched only from the loop goroutine.
type Coordinator struct {
	rec    capture.Recognizer
	opts   Options
	ev     Events
	log    zerolog.Logger
	ledger *ledger.Ledger

	wd      *watchdog.Watchdog
	capture *capture.Session
	disp    *dispatch.Dispatcher
	play    *playback.Controller
	q       *queue

	initOnce    sync.Once
	disposeOnce sync.Once
	started     chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc

	state       State
	banner      string
	lastReply   string
	playID      uint64
	greetTimer  watchdog.Timer
	unsubscribe func()

	turns        []ledger.Turn
	turnsVersion int

	snapMu sync.Mutex
	snap   Snapshot
}

// New wires a coordinator around the given capabilities. rec and synth may
// be nil when the device lacks them. A nil ledger gets a default-capacity one.
func New(rec capture.Recognizer, synth playback.Synthesizer, r dispatch.Reasoner, led *ledger.Ledger, opts Options, ev Events) *Coordinator {
	if led == nil {
		led = ledger.New(ledger.DefaultCapacity)
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = watchdog.RealAfterFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GreetingDelay <= 0 {
		opts.GreetingDelay = DefaultGreetingDelay
	}
	c := &Coordinator{
		rec:     rec,
		opts:    opts,
		ev:      ev,
		log:     opts.Logger,
		ledger:  led,
		q:       newQueue(),
		started: make(chan struct{}),
		state:   idle(),
	}
	c.turnsVersion = -1
	c.wd = watchdog.New(opts.SilenceTimeout, func(gen uint64) {
		c.q.post(func() { c.onSilence(gen) })
	}).WithAfterFunc(opts.AfterFunc)
	c.capture = capture.NewSession(rec, c.wd, c.log)
	c.disp = dispatch.New(r, led, dispatch.Options{
		Timeout:        opts.DispatchTimeout,
		ForwardHistory: opts.ForwardHistory,
		Now:            opts.Now,
		Logger:         c.log,
	})
	c.play = playback.NewController(synth, playback.Options{
		Selector: opts.Voice,
		Logger:   c.log,
		OnSpeaking: func(id uint64, on bool) {
			c.q.post(func() { c.onSpeaking(id, on) })
		},
	})
	c.snap = c.buildSnapshot()
	return c
}

// Ledger exposes the conversation record.
func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

// Init subscribes to the capabilities, starts the event loop and schedules
// the greeting. The coordinator is disposed when ctx ends. Only the first
// call has an effect.
func (c *Coordinator) Init(ctx context.Context) error {
	var err error
	c.initOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		go c.q.run()
		close(c.started)
		if err = c.do(c.setup); err != nil {
			c.cancel()
			return
		}
		go func() {
			<-c.ctx.Done()
			c.Dispose()
		}()
	})
	return err
}

func (c *Coordinator) setup() error {
	if c.rec != nil {
		c.unsubscribe = c.rec.Subscribe(capture.RecognitionHandler{
			OnTranscript: func(text string) { c.q.post(func() { c.onTranscript(text) }) },
			OnListening: func(on bool) {
				c.q.post(func() { c.log.Debug().Bool("on", on).Msg("recognizer listening changed") })
			},
			OnError: func(err error) { c.q.post(func() { c.onRecognizerError(err) }) },
		})
	}
	c.play.Attach()
	if !c.play.Supported() {
		c.banner = MsgSynthesisUnsupported
		c.setState(failed(MsgSynthesisUnsupported))
		return nil
	}
	if c.opts.Greeting != "" {
		c.greetTimer = c.opts.AfterFunc(c.opts.GreetingDelay, func() { c.q.post(c.greet) })
	}
	c.publish()
	return nil
}

// Dispose unsubscribes, cancels timers, playback, capture and any pending
// reply, then stops the loop. It must not be called from an Events handler.
func (c *Coordinator) Dispose() {
	c.disposeOnce.Do(func() {
		select {
		case <-c.started:
		default:
			c.q.close()
			return
		}
		_ = c.do(func() error {
			c.teardown()
			c.q.close()
			return nil
		})
		<-c.q.done
	})
}

func (c *Coordinator) teardown() {
	if c.greetTimer != nil {
		c.greetTimer.Stop()
		c.greetTimer = nil
	}
	c.capture.Stop()
	c.wd.Cancel()
	c.play.Close()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.cancel()
	c.log.Debug().Int("turns", c.ledger.Len()).Msg("coordinator disposed")
}

// StartVoice begins a capture. Barge-in: ongoing playback is cut off. It
// returns ErrBusy while a reply is pending.
func (c *Coordinator) StartVoice() error {
	return c.do(func() error {
		switch c.state.Phase {
		case PhaseAwaitingReply:
			return ErrBusy
		case PhaseSpeaking:
			c.stopPlayback()
		}
		if err := c.capture.Start(); err != nil {
			if errors.Is(err, capture.ErrUnsupported) {
				c.banner = MsgRecognitionUnsupported
				c.setState(failed(MsgRecognitionUnsupported))
				return nil
			}
			c.log.Warn().Err(err).Msg("voice capture failed to start")
			c.setState(failed(MsgRecognitionFailed))
			return nil
		}
		c.setState(State{Phase: PhaseListening})
		return nil
	})
}

// StopVoice finalizes the capture now instead of waiting for silence.
func (c *Coordinator) StopVoice() error {
	return c.do(func() error {
		if c.state.Phase != PhaseListening {
			return nil
		}
		c.finishCapture("stop")
		return nil
	})
}

// SubmitText dispatches typed input. Blank text is dropped silently.
func (c *Coordinator) SubmitText(text string) error {
	return c.do(func() error {
		switch c.state.Phase {
		case PhaseListening, PhaseAwaitingReply:
			return ErrBusy
		}
		return c.dispatch(dispatch.Utterance{Text: text, Source: dispatch.Typed})
	})
}

// Snapshot returns the most recently published view.
func (c *Coordinator) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snap
}

func (c *Coordinator) do(fn func() error) error {
	select {
	case <-c.started:
	default:
		return ErrNotStarted
	}
	res := make(chan error, 1)
	if !c.q.post(func() { res <- fn() }) {
		return ErrDisposed
	}
	select {
	case err := <-res:
		return err
	case <-c.q.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrDisposed
		}
	}
}

func (c *Coordinator) onTranscript(text string) {
	if c.state.Phase != PhaseListening {
		return
	}
	if c.capture.Update(text) {
		c.publish()
	}
}

func (c *Coordinator) onSilence(gen uint64) {
	if c.state.Phase != PhaseListening || !c.capture.Expired(gen) {
		return
	}
	c.finishCapture("silence")
}

func (c *Coordinator) onRecognizerError(err error) {
	c.log.Warn().Err(err).Str("phase", c.state.Phase.String()).Msg("recognizer error")
	if c.state.Phase == PhaseListening {
		c.finishCapture("recognizer error")
	}
}

func (c *Coordinator) finishCapture(reason string) {
	text := c.capture.Stop()
	c.log.Debug().Str("reason", reason).Int("chars", len(text)).Msg("capture finished")
	if err := c.dispatch(dispatch.Utterance{Text: text, Source: dispatch.Voice}); err != nil {
		c.log.Warn().Err(err).Msg("voice dispatch rejected")
		c.setState(idle())
	}
}

// dispatch accepts u and starts the request in the background. The reply is
// posted back onto the loop.
func (c *Coordinator) dispatch(u dispatch.Utterance) error {
	call, err := c.disp.Begin(u)
	switch {
	case errors.Is(err, dispatch.ErrEmpty):
		if u.Source == dispatch.Voice {
			c.setState(idle())
		}
		return nil
	case errors.Is(err, dispatch.ErrInFlight):
		return ErrBusy
	case err != nil:
		return err
	}
	if c.state.Phase == PhaseSpeaking {
		c.stopPlayback()
	}
	c.setState(State{Phase: PhaseAwaitingReply})
	ctx := c.ctx
	go func() {
		reply, err := call.Wait(ctx)
		c.q.post(func() { c.onReply(reply, err) })
	}()
	return nil
}

func (c *Coordinator) onReply(reply string, err error) {
	if c.state.Phase != PhaseAwaitingReply {
		c.log.Debug().Str("phase", c.state.Phase.String()).Msg("reply arrived outside awaiting phase")
	}
	if err != nil {
		c.setState(failed(dispatch.DisplayMessage(err)))
		return
	}
	c.lastReply = reply
	c.speak(reply)
}

func (c *Coordinator) greet() {
	c.greetTimer = nil
	if c.state.Phase != PhaseIdle {
		c.log.Debug().Str("phase", c.state.Phase.String()).Msg("greeting skipped")
		return
	}
	c.speak(c.opts.Greeting)
}

func (c *Coordinator) speak(text string) {
	id, ok := c.play.Speak(text)
	if !ok {
		c.playID = 0
		c.setState(idle())
		return
	}
	c.playID = id
	c.setState(State{Phase: PhaseSpeaking})
}

func (c *Coordinator) stopPlayback() {
	c.playID = 0
	c.play.Cancel()
}

func (c *Coordinator) onSpeaking(id uint64, on bool) {
	if id != c.playID {
		return
	}
	if !on {
		c.playID = 0
		if c.state.Phase == PhaseSpeaking {
			c.setState(idle())
			return
		}
	}
	c.publish()
}

func (c *Coordinator) setState(s State) {
	if s != c.state {
		c.log.Debug().Str("from", c.state.Phase.String()).Str("to", s.Phase.String()).Str("message", s.Message).Msg("state")
	}
	c.state = s
	c.publish()
}

func (c *Coordinator) buildSnapshot() Snapshot {
	cs := c.capture.State()
	if v := c.ledger.Version(); v != c.turnsVersion {
		c.turns, c.turnsVersion = c.ledger.All(), v
	}
	return Snapshot{
		State:        c.state,
		Transcript:   cs.Transcript,
		Listening:    cs.Listening,
		Speaking:     c.play.Speaking(),
		LastReply:    c.lastReply,
		Banner:       c.banner,
		Turns:        c.turns,
		TurnsVersion: c.turnsVersion,
	}
}

func (c *Coordinator) publish() {
	s := c.buildSnapshot()
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()
	if c.ev.OnChange != nil {
		c.ev.OnChange(s)
	}
}
