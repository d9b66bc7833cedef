package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DefaultModel is the Aura voice used when none is selected.
const DefaultModel = "aura-2-thalia-en"

var errDeepgramKey = errors.New("deepgram: api key missing")

// DeepgramClient synthesizes 48 kHz linear16 PCM over the Deepgram Aura
// websocket. A stream ends when Deepgram confirms the flush, when audio
// stops arriving for IdleWindow, or after MaxDuration.
type DeepgramClient struct {
	APIKey      string
	IdleWindow  time.Duration
	MaxDuration time.Duration

	model string
	log   zerolog.Logger
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = DefaultModel
	}
	return &DeepgramClient{
		APIKey:      apiKey,
		IdleWindow:  400 * time.Millisecond,
		MaxDuration: 12 * time.Second,
		model:       model,
		log:         zerolog.Nop(),
	}
}

func (d *DeepgramClient) WithLogger(l zerolog.Logger) *DeepgramClient {
	d.log = l
	return d
}

// Model is the voice used when Stream is called without one.
func (d *DeepgramClient) Model() string { return d.model }

// Stream synthesizes text with model, or the client's model when empty.
// Both channels are closed when synthesis ends; errCh carries at most one
// error and none after ctx is cancelled.
func (d *DeepgramClient) Stream(ctx context.Context, model, text string) (<-chan []byte, <-chan error) {
	if model == "" {
		model = d.model
	}
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if d.APIKey == "" {
			errCh <- errDeepgramKey
			return
		}
		if text == "" {
			return
		}
		if err := d.speak(ctx, model, text, pcmCh); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (d *DeepgramClient) speak(ctx context.Context, model, text string, out chan<- []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fw := newPCMForwarder(ctx, out)
	dg, err := speak.NewWSUsingCallback(ctx, d.APIKey, &clientinterfaces.ClientOptions{}, &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		SampleRate: 48000,
	}, fw)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if !dg.Connect() {
		return errors.New("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.log.Warn().Err(err).Str("model", model).Msg("deepgram flush failed")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(d.MaxDuration)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fw.failed:
			return err
		case <-fw.flushed:
			return nil
		case <-deadline.C:
			d.log.Warn().Str("model", model).Dur("after", d.MaxDuration).Msg("deepgram stream cut off")
			return nil
		case <-ticker.C:
			if fw.idleFor() > d.IdleWindow {
				return nil
			}
		}
	}
}

// pcmForwarder receives websocket events and copies audio frames to out.
type pcmForwarder struct {
	ctx     context.Context
	out     chan<- []byte
	last    atomic.Int64
	flushed chan struct{}
	failed  chan error
	once    sync.Once
}

func newPCMForwarder(ctx context.Context, out chan<- []byte) *pcmForwarder {
	return &pcmForwarder{ctx: ctx, out: out, flushed: make(chan struct{}), failed: make(chan error, 1)}
}

// idleFor is how long ago the last frame arrived, zero before the first.
func (f *pcmForwarder) idleFor() time.Duration {
	last := f.last.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

func (f *pcmForwarder) Binary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	f.last.Store(time.Now().UnixNano())
	frame := append([]byte(nil), data...)
	select {
	case f.out <- frame:
	case <-f.ctx.Done():
	}
	return nil
}

func (f *pcmForwarder) Flush(*msginterfaces.FlushedResponse) error {
	f.once.Do(func() { close(f.flushed) })
	return nil
}

func (f *pcmForwarder) Error(e *msginterfaces.ErrorResponse) error {
	select {
	case f.failed <- fmt.Errorf("deepgram: %+v", e):
	default:
	}
	return nil
}

func (f *pcmForwarder) Open(*msginterfaces.OpenResponse) error         { return nil }
func (f *pcmForwarder) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (f *pcmForwarder) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (f *pcmForwarder) Close(*msginterfaces.CloseResponse) error       { return nil }
func (f *pcmForwarder) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (f *pcmForwarder) UnhandledEvent([]byte) error                    { return nil }
