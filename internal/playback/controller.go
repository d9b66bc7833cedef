// Package playback speaks replies through a Synthesizer, one utterance at a
// time, and tracks whether anything is currently audible.
package playback

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	DefaultRate   = 0.9
	DefaultPitch  = 1.0
	DefaultVolume = 1.0
)

type Options struct {
	// Selector chooses the voice; nil uses DefaultPreferences.
	Selector Selector
	// Rate, Pitch and Volume fall back to the defaults when zero.
	Rate   float64
	Pitch  float64
	Volume float64
	Logger zerolog.Logger
	// OnSpeaking reports indicator changes for the request that currently
	// owns playback. Superseded requests never report.
	OnSpeaking func(id uint64, speaking bool)
}

// Controller serializes playback. A new Speak supersedes whatever was
// playing or waiting for voices.
type Controller struct {
	synth Synthesizer
	opts  Options
	log   zerolog.Logger

	// deliverMu orders calls into the synthesizer. A request is checked
	// for liveness and handed over under it, so a superseding Speak or
	// Cancel always reaches the synthesizer after it.
	deliverMu sync.Mutex

	mu          sync.Mutex
	seq         uint64
	current     uint64
	speaking    bool
	pending     context.CancelFunc
	voice       *Voice
	unsubscribe func()
	closed      bool
}

func NewController(s Synthesizer, opts Options) *Controller {
	if opts.Selector == nil {
		opts.Selector = DefaultPreferences().Selector()
	}
	if opts.Rate == 0 {
		opts.Rate = DefaultRate
	}
	if opts.Pitch == 0 {
		opts.Pitch = DefaultPitch
	}
	if opts.Volume == 0 {
		opts.Volume = DefaultVolume
	}
	return &Controller{synth: s, opts: opts, log: opts.Logger}
}

func (c *Controller) Supported() bool { return c.synth != nil && c.synth.Supported() }

// Attach subscribes to synthesizer events. Calling it twice is a no-op.
func (c *Controller) Attach() {
	if c.synth == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil || c.closed {
		return
	}
	c.unsubscribe = c.synth.Subscribe(SynthesisHandler{
		OnStart: c.handleStart,
		OnEnd:   func(id uint64) { c.handleFinish(id, nil) },
		OnError: c.handleFinish,
	})
}

// Speak queues text for playback and returns the request id. It returns false
// for blank text, when synthesis is unsupported or after Close.
func (c *Controller) Speak(text string) (uint64, bool) {
	text = strings.TrimSpace(text)
	if text == "" || !c.Supported() {
		return 0, false
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, false
	}
	if c.pending != nil {
		c.pending()
		c.pending = nil
	}
	c.seq++
	id := c.seq
	c.current = id
	c.speaking = false
	var wait context.Context
	if len(c.synth.Voices()) == 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithCancel(context.Background())
		c.pending = cancel
	}
	c.mu.Unlock()

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.synth.CancelAll()
	if wait != nil {
		c.log.Debug().Uint64("id", id).Msg("voices not loaded, deferring speech")
		go c.awaitVoices(wait, id, text)
		return id, true
	}
	if c.isCurrent(id) {
		c.deliver(id, text)
	}
	return id, true
}

func (c *Controller) isCurrent(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == id && !c.closed
}

func (c *Controller) awaitVoices(ctx context.Context, id uint64, text string) {
	select {
	case <-ctx.Done():
		return
	case <-c.synth.VoicesReady():
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	live := c.current == id && !c.closed
	var done context.CancelFunc
	if live {
		done, c.pending = c.pending, nil
	}
	c.mu.Unlock()
	if done != nil {
		done()
	}
	if live {
		c.deliver(id, text)
	}
}

func (c *Controller) deliver(id uint64, text string) {
	req := Request{
		ID:     id,
		Text:   text,
		Voice:  c.pickVoice(),
		Rate:   c.opts.Rate,
		Pitch:  c.opts.Pitch,
		Volume: c.opts.Volume,
	}
	if err := c.synth.Speak(req); err != nil {
		c.handleFinish(id, err)
	}
}

// pickVoice returns the cached voice, selecting one when none is cached yet.
func (c *Controller) pickVoice() Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voice != nil {
		return *c.voice
	}
	v, ok := c.opts.Selector(c.synth.Voices())
	if !ok {
		return Voice{}
	}
	c.voice = &v
	c.log.Debug().Str("voice", v.Name).Str("lang", v.Lang).Msg("voice selected")
	return v
}

// Cancel stops playback and drops any deferred request.
func (c *Controller) Cancel() {
	c.mu.Lock()
	id, was := c.current, c.speaking
	c.current = 0
	c.speaking = false
	if c.pending != nil {
		c.pending()
		c.pending = nil
	}
	c.mu.Unlock()

	if c.synth != nil {
		c.deliverMu.Lock()
		c.synth.CancelAll()
		c.deliverMu.Unlock()
	}
	if was {
		c.notify(id, false)
	}
}

// Close cancels playback and detaches from the synthesizer.
func (c *Controller) Close() {
	c.Cancel()
	c.mu.Lock()
	c.closed = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Voice returns the cached voice selection, if any.
func (c *Controller) Voice() (Voice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voice == nil {
		return Voice{}, false
	}
	return *c.voice, true
}

func (c *Controller) handleStart(id uint64) {
	c.mu.Lock()
	if id != c.current || c.speaking {
		c.mu.Unlock()
		return
	}
	c.speaking = true
	c.mu.Unlock()
	c.notify(id, true)
}

func (c *Controller) handleFinish(id uint64, err error) {
	c.mu.Lock()
	if id != c.current {
		c.mu.Unlock()
		return
	}
	c.current = 0
	c.speaking = false
	c.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Uint64("id", id).Msg("speech synthesis failed")
	}
	c.notify(id, false)
}

func (c *Controller) notify(id uint64, speaking bool) {
	if c.opts.OnSpeaking != nil {
		c.opts.OnSpeaking(id, speaking)
	}
}
