package bridge

import (
	"errors"
	"sync"

	"github.com/chadiek/voiceturn/internal/capture"
	"github.com/chadiek/voiceturn/internal/playback"
)

type sender interface {
	send(m Message) error
}

// browserRecognizer forwards start/stop to the client and relays the client's
// recognition events to subscribers.
type browserRecognizer struct {
	out       sender
	supported bool

	mu       sync.Mutex
	handlers map[int]capture.RecognitionHandler
	nextID   int
}

func newBrowserRecognizer(out sender, supported bool) *browserRecognizer {
	return &browserRecognizer{out: out, supported: supported, handlers: make(map[int]capture.RecognitionHandler)}
}

func (b *browserRecognizer) Supported() bool { return b.supported }

func (b *browserRecognizer) Start(continuous bool) error {
	if !b.supported {
		return capture.ErrUnsupported
	}
	return b.out.send(Message{Type: TypeRecognize, Action: "start", Continuous: continuous})
}

func (b *browserRecognizer) Stop() error {
	return b.out.send(Message{Type: TypeRecognize, Action: "stop"})
}

func (b *browserRecognizer) Subscribe(h capture.RecognitionHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *browserRecognizer) transcript(text string) {
	for _, h := range b.snapshot() {
		if h.OnTranscript != nil {
			h.OnTranscript(text)
		}
	}
}

func (b *browserRecognizer) listening(on bool) {
	for _, h := range b.snapshot() {
		if h.OnListening != nil {
			h.OnListening(on)
		}
	}
}

func (b *browserRecognizer) fail(message string) {
	if message == "" {
		message = "recognition error"
	}
	err := errors.New(message)
	for _, h := range b.snapshot() {
		if h.OnError != nil {
			h.OnError(err)
		}
	}
}

func (b *browserRecognizer) snapshot() []capture.RecognitionHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := make([]capture.RecognitionHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	return hs
}

// browserSynthesizer sends speak/cancel frames and relays the client's
// speech events. The voice catalog arrives with hello or a later voices frame.
type browserSynthesizer struct {
	out       sender
	supported bool

	mu        sync.Mutex
	voices    []playback.Voice
	ready     chan struct{}
	readyOnce sync.Once
	handlers  map[int]playback.SynthesisHandler
	nextID    int
}

func newBrowserSynthesizer(out sender, supported bool, voices []playback.Voice) *browserSynthesizer {
	b := &browserSynthesizer{
		out:       out,
		supported: supported,
		ready:     make(chan struct{}),
		handlers:  make(map[int]playback.SynthesisHandler),
	}
	b.setVoices(voices)
	return b
}

func (b *browserSynthesizer) Supported() bool { return b.supported }

func (b *browserSynthesizer) Voices() []playback.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]playback.Voice(nil), b.voices...)
}

func (b *browserSynthesizer) VoicesReady() <-chan struct{} { return b.ready }

// setVoices replaces the catalog. The first non-empty catalog marks it ready.
func (b *browserSynthesizer) setVoices(voices []playback.Voice) {
	if len(voices) == 0 {
		return
	}
	b.mu.Lock()
	b.voices = append([]playback.Voice(nil), voices...)
	b.mu.Unlock()
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *browserSynthesizer) Speak(req playback.Request) error {
	if !b.supported {
		return playback.ErrUnsupported
	}
	m := Message{
		Type:   TypeSpeak,
		ID:     req.ID,
		Text:   req.Text,
		Rate:   req.Rate,
		Pitch:  req.Pitch,
		Volume: req.Volume,
	}
	if req.Voice.Name != "" {
		v := req.Voice
		m.Voice = &v
	}
	return b.out.send(m)
}

func (b *browserSynthesizer) CancelAll() {
	if !b.supported {
		return
	}
	_ = b.out.send(Message{Type: TypeCancel})
}

func (b *browserSynthesizer) Subscribe(h playback.SynthesisHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *browserSynthesizer) event(id uint64, event, message string) {
	b.mu.Lock()
	hs := make([]playback.SynthesisHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		switch event {
		case SpeechStart:
			if h.OnStart != nil {
				h.OnStart(id)
			}
		case SpeechEnd:
			if h.OnEnd != nil {
				h.OnEnd(id)
			}
		case SpeechError:
			if h.OnError != nil {
				if message == "" {
					message = "synthesis error"
				}
				h.OnError(id, errors.New(message))
			}
		}
	}
}
