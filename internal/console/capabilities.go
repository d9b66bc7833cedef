package console

import (
	"sync"

	"github.com/chadiek/voiceturn/internal/capture"
	"github.com/chadiek/voiceturn/internal/playback"
)

// unsupportedRecognizer stands in for a microphone the terminal does not have.
type unsupportedRecognizer struct{}

func (unsupportedRecognizer) Supported() bool                             { return false }
func (unsupportedRecognizer) Start(bool) error                            { return capture.ErrUnsupported }
func (unsupportedRecognizer) Stop() error                                 { return nil }
func (unsupportedRecognizer) Subscribe(capture.RecognitionHandler) func() { return func() {} }

var consoleVoice = playback.Voice{Name: "console", Lang: "en-US", Default: true}

// synthesizer "speaks" by printing the text with a speaker prefix.
type synthesizer struct {
	out     *syncWriter
	speaker string
	ready   chan struct{}

	mu       sync.Mutex
	handlers map[int]playback.SynthesisHandler
	nextID   int
}

func newSynthesizer(out *syncWriter, speaker string) *synthesizer {
	ready := make(chan struct{})
	close(ready)
	return &synthesizer{out: out, speaker: speaker, ready: ready, handlers: make(map[int]playback.SynthesisHandler)}
}

func (s *synthesizer) Supported() bool              { return true }
func (s *synthesizer) Voices() []playback.Voice     { return []playback.Voice{consoleVoice} }
func (s *synthesizer) VoicesReady() <-chan struct{} { return s.ready }
func (s *synthesizer) CancelAll()                   {}

// Speak prints immediately; start and end are reported from another
// goroutine so subscribers never run inside Speak.
func (s *synthesizer) Speak(req playback.Request) error {
	s.out.printf("%s: %s\n", s.speaker, req.Text)
	hs := s.snapshot()
	go func() {
		for _, h := range hs {
			if h.OnStart != nil {
				h.OnStart(req.ID)
			}
		}
		for _, h := range hs {
			if h.OnEnd != nil {
				h.OnEnd(req.ID)
			}
		}
	}()
	return nil
}

func (s *synthesizer) Subscribe(h playback.SynthesisHandler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

func (s *synthesizer) snapshot() []playback.SynthesisHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := make([]playback.SynthesisHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	return hs
}
