package capture

import "errors"

// ErrUnsupported is returned by Start when the device has no usable speech
// recognition capability.
var ErrUnsupported = errors.New("capture: speech recognition unsupported")

// RecognitionHandler receives recognizer events. Any field may be nil.
type RecognitionHandler struct {
	// OnTranscript delivers the full running transcript of the current
	// utterance. Each call replaces the previous text.
	OnTranscript func(text string)
	// OnListening reports the engine's own listening flag.
	OnListening func(on bool)
	// OnError reports a recognizer fault after a successful Start.
	OnError func(err error)
}

// Recognizer is the speech-to-text capability.
type Recognizer interface {
	Supported() bool
	Start(continuous bool) error
	Stop() error
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h RecognitionHandler) (unsubscribe func())
}

// State is the capture session as seen by the presentation layer.
type State struct {
	Listening  bool   `json:"listening"`
	Transcript string `json:"transcript"`
	Supported  bool   `json:"supported"`
}
