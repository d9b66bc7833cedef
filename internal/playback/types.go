package playback

import "errors"

// ErrUnsupported is returned by synthesizers that cannot speak at all.
var ErrUnsupported = errors.New("playback: speech synthesis unsupported")

// Voice is one entry of a synthesizer's voice catalog.
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	URI     string `json:"uri,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// Request is a single utterance handed to a synthesizer. ID is echoed back in
// the synthesizer's events.
type Request struct {
	ID     uint64  `json:"id"`
	Text   string  `json:"text"`
	Voice  Voice   `json:"voice"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// SynthesisHandler receives playback events keyed by request id.
type SynthesisHandler struct {
	OnStart func(id uint64)
	OnEnd   func(id uint64)
	OnError func(id uint64, err error)
}

// Synthesizer is the speech output capability.
type Synthesizer interface {
	Supported() bool
	// Voices returns the current catalog; it may be empty until VoicesReady
	// is closed.
	Voices() []Voice
	// VoicesReady is closed once the catalog has been loaded.
	VoicesReady() <-chan struct{}
	Speak(req Request) error
	CancelAll()
	Subscribe(h SynthesisHandler) (unsubscribe func())
}
