package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/ledger"
	"github.com/chadiek/voiceturn/internal/playback"
	"github.com/chadiek/voiceturn/internal/watchdog"
)

const (
	DefaultGreeting      = "Hi! I'm Dave, your virtual customer support assistant. How can I help you with your Aven account today?"
	DefaultGreetingDelay = 500 * time.Millisecond

	MsgRecognitionUnsupported = "Speech recognition is not supported in this browser"
	MsgSynthesisUnsupported   = "Speech synthesis is not supported in this browser"
	MsgRecognitionFailed      = "Speech recognition could not be started"
)

var (
	// ErrBusy rejects a command that the current phase cannot accept.
	ErrBusy = errors.New("engine: busy")
	// ErrDisposed is returned by commands issued after Dispose.
	ErrDisposed = errors.New("engine: disposed")
	// ErrNotStarted is returned by commands issued before Init.
	ErrNotStarted = errors.New("engine: not initialized")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseAwaitingReply
	PhaseSpeaking
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseAwaitingReply:
		return "awaiting_reply"
	case PhaseSpeaking:
		return "speaking"
	case PhaseError:
		return "error"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// State is the interaction state. Message is set only in PhaseError.
type State struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message,omitempty"`
}

func idle() State                 { return State{Phase: PhaseIdle} }
func failed(message string) State { return State{Phase: PhaseError, Message: message} }

// Snapshot is everything a presentation layer needs to render a session.
type Snapshot struct {
	State      State  `json:"state"`
	Transcript string `json:"transcript"`
	Listening  bool   `json:"listening"`
	Speaking   bool   `json:"speaking"`
	LastReply  string `json:"last_reply,omitempty"`
	Banner     string `json:"banner,omitempty"`
	// Turns is shared between snapshots with the same TurnsVersion and must
	// not be modified. The session socket omits it when the version is
	// unchanged since the last state it sent.
	Turns        []ledger.Turn `json:"turns,omitempty"`
	TurnsVersion int           `json:"turns_version"`
}

// Events are invoked on the coordinator's loop goroutine. Handlers must not
// call back into the coordinator synchronously.
type Events struct {
	OnChange func(Snapshot)
}

type Options struct {
	SilenceTimeout  time.Duration
	DispatchTimeout time.Duration
	ForwardHistory  bool
	// Greeting is spoken once after GreetingDelay; empty disables it.
	Greeting      string
	GreetingDelay time.Duration
	Voice         playback.Selector
	Logger        zerolog.Logger
	Now           func() time.Time
	// AfterFunc schedules the silence and greeting timers.
	AfterFunc watchdog.AfterFunc
}
