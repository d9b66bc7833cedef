package tts

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/playback"
)

// Streamer produces PCM audio for text spoken by model.
type Streamer interface {
	Stream(ctx context.Context, model, text string) (<-chan []byte, <-chan error)
}

// PCM48kSink consumes 48kHz PCM bytes and performs delivery.
// Implementations should buffer internally and pace delivery.
type PCM48kSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued frames immediately (used for barge-in).
	Reset()
}

// AuraVoices is the static Deepgram Aura catalog offered to voice selection.
var AuraVoices = []playback.Voice{
	{Name: "aura-2-thalia-en", Lang: "en-US", Default: true},
	{Name: "aura-2-andromeda-en", Lang: "en-US"},
	{Name: "aura-2-helena-en", Lang: "en-US"},
	{Name: "aura-2-apollo-en", Lang: "en-US"},
	{Name: "aura-2-arcas-en", Lang: "en-US"},
	{Name: "aura-2-orion-en", Lang: "en-US"},
	{Name: "aura-2-zeus-en", Lang: "en-US"},
	{Name: "aura-2-draco-en", Lang: "en-GB"},
}

var errNoAudio = errors.New("tts: synthesis produced no audio")

// Synthesizer plays streamed speech into a PCM sink. One utterance plays at
// a time; Speak cancels whatever is still streaming.
type Synthesizer struct {
	streamer Streamer
	sink     PCM48kSink
	voices   []playback.Voice
	ready    chan struct{}
	log      zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	handlers map[int]playback.SynthesisHandler
	nextID   int
}

// NewSynthesizer returns a Deepgram Aura synthesizer whose catalog is ready
// immediately. The catalog is ordered so the configured default model comes
// first.
func NewSynthesizer(streamer Streamer, sink PCM48kSink, defaultModel string, log zerolog.Logger) *Synthesizer {
	return NewCatalogSynthesizer(streamer, sink, orderCatalog(AuraVoices, defaultModel), log)
}

// NewCatalogSynthesizer is NewSynthesizer with an explicit voice catalog.
// Voice names from the catalog are passed to the streamer as the model.
func NewCatalogSynthesizer(streamer Streamer, sink PCM48kSink, voices []playback.Voice, log zerolog.Logger) *Synthesizer {
	ready := make(chan struct{})
	close(ready)
	return &Synthesizer{
		streamer: streamer,
		sink:     sink,
		voices:   voices,
		ready:    ready,
		log:      log,
		handlers: make(map[int]playback.SynthesisHandler),
	}
}

func orderCatalog(voices []playback.Voice, first string) []playback.Voice {
	out := make([]playback.Voice, 0, len(voices)+1)
	for _, v := range voices {
		if v.Name == first {
			v.Default = true
			out = append(out, v)
		}
	}
	if len(out) == 0 && first != "" {
		out = append(out, playback.Voice{Name: first, Lang: "en-US", Default: true})
	}
	for _, v := range voices {
		if v.Name != first {
			v.Default = false
			out = append(out, v)
		}
	}
	return out
}

func (s *Synthesizer) Supported() bool { return s.streamer != nil && s.sink != nil }

func (s *Synthesizer) Voices() []playback.Voice {
	return append([]playback.Voice(nil), s.voices...)
}

func (s *Synthesizer) VoicesReady() <-chan struct{} { return s.ready }

func (s *Synthesizer) Subscribe(h playback.SynthesisHandler) func() {
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

// Speak starts streaming req in the background, one sentence at a time so
// audio begins before the whole reply is synthesized. Rate and pitch are
// ignored. Voices outside the catalog fall back to the streamer's default.
func (s *Synthesizer) Speak(req playback.Request) error {
	if !s.Supported() {
		return playback.ErrUnsupported
	}
	model := ""
	if s.inCatalog(req.Voice.Name) {
		model = req.Voice.Name
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.play(ctx, req.ID, model, req.Volume, SplitSentences(req.Text))
	return nil
}

func (s *Synthesizer) inCatalog(name string) bool {
	if name == "" {
		return false
	}
	for _, v := range s.voices {
		if v.Name == name {
			return true
		}
	}
	return false
}

func (s *Synthesizer) play(ctx context.Context, id uint64, model string, volume float64, sentences []string) {
	started := false
	var err error
	for _, text := range sentences {
		if ctx.Err() != nil {
			break
		}
		pcmCh, errCh := s.streamer.Stream(ctx, model, text)
		for pcm := range pcmCh {
			if ctx.Err() != nil {
				continue
			}
			if !started {
				started = true
				s.emit(func(h playback.SynthesisHandler) {
					if h.OnStart != nil {
						h.OnStart(id)
					}
				})
			}
			s.sink.WritePCM(scalePCM(pcm, volume))
		}
		if err = <-errCh; err != nil {
			break
		}
	}
	switch {
	case ctx.Err() != nil:
		err = nil
	case err == nil && !started:
		err = errNoAudio
	case err == nil:
		s.sink.FlushTail()
	}
	if err != nil {
		s.log.Warn().Err(err).Uint64("id", id).Msg("speech synthesis failed")
		s.emit(func(h playback.SynthesisHandler) {
			if h.OnError != nil {
				h.OnError(id, err)
			}
		})
		return
	}
	s.emit(func(h playback.SynthesisHandler) {
		if h.OnEnd != nil {
			h.OnEnd(id)
		}
	})
}

// CancelAll stops the current stream and drops queued audio.
func (s *Synthesizer) CancelAll() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.Reset()
	}
}

func (s *Synthesizer) emit(fn func(playback.SynthesisHandler)) {
	s.mu.Lock()
	hs := make([]playback.SynthesisHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		fn(h)
	}
}

// scalePCM applies volume to 16-bit little-endian samples. Volumes at or
// above 1 return pcm unchanged.
func scalePCM(pcm []byte, volume float64) []byte {
	if volume >= 1 || volume < 0 {
		return pcm
	}
	out := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		v = int16(float64(v) * volume)
		out[i] = byte(uint16(v))
		out[i+1] = byte(uint16(v) >> 8)
	}
	return out
}
