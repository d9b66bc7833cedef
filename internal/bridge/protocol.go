// Package bridge runs one conversation per websocket. The browser on the other
// end provides speech recognition and synthesis unless server-side
// capabilities are configured, in which case raw PCM flows over binary frames.
package bridge

import (
	"github.com/chadiek/voiceturn/internal/engine"
	"github.com/chadiek/voiceturn/internal/playback"
)

// Client to server.
const (
	TypeHello            = "hello"
	TypeVoices           = "voices"
	TypeStart            = "start"
	TypeStop             = "stop"
	TypeText             = "text"
	TypeTranscript       = "transcript"
	TypeListening        = "listening"
	TypeRecognitionError = "recognition_error"
	TypeSpeech           = "speech"
)

// Server to client.
const (
	TypeState     = "state"
	TypeRecognize = "recognize"
	TypeSpeak     = "speak"
	TypeCancel    = "cancel"
	TypeError     = "error"
)

// Speech event names carried by TypeSpeech.
const (
	SpeechStart = "start"
	SpeechEnd   = "end"
	SpeechError = "error"
)

// Message is the single JSON frame shape used in both directions. Only the
// fields relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	// hello
	Recognition bool `json:"recognition,omitempty"`
	Synthesis   bool `json:"synthesis,omitempty"`
	// hello, voices
	Voices []playback.Voice `json:"voices,omitempty"`

	// text, transcript, speak
	Text string `json:"text,omitempty"`
	// listening
	On bool `json:"on,omitempty"`

	// speech, speak
	ID    uint64 `json:"id,omitempty"`
	Event string `json:"event,omitempty"`

	// speak
	Voice  *playback.Voice `json:"voice,omitempty"`
	Rate   float64         `json:"rate,omitempty"`
	Pitch  float64         `json:"pitch,omitempty"`
	Volume float64         `json:"volume,omitempty"`

	// recognize
	Action     string `json:"action,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`

	// state
	Session  string           `json:"session,omitempty"`
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`

	// error, recognition_error, speech
	Message string `json:"message,omitempty"`
}
