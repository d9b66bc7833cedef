package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/chadiek/voiceturn/internal/ledger"
)

// FallbackMessage is shown when the reasoning service gives no usable message.
const FallbackMessage = "Failed to get response from server"

var (
	// ErrEmpty marks an utterance that is blank after trimming. It is dropped
	// without a request or ledger entry.
	ErrEmpty = errors.New("dispatch: empty utterance")
	// ErrInFlight rejects a dispatch while another request is outstanding.
	ErrInFlight = errors.New("dispatch: request already in flight")
	// ErrEmptyReply is the cause recorded when the service answered without text.
	ErrEmptyReply = errors.New("dispatch: empty reply")
)

type Source int

const (
	Voice Source = iota
	Typed
)

func (s Source) String() string {
	if s == Typed {
		return "typed"
	}
	return "voice"
}

// Utterance is one finalized piece of user input.
type Utterance struct {
	Text   string
	Source Source
}

// Request is what the reasoning service receives for one utterance. History
// holds earlier turns when context forwarding is enabled.
type Request struct {
	Input   string
	History []ledger.Turn
}

// Reasoner is the remote reasoning capability.
type Reasoner interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, req Request) (string, error)

func (f ReasonerFunc) Reply(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Failure is a dispatch that did not produce a reply. Message is safe to show
// to the user.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Message
	}
	return f.Message + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// ServiceError is a non-2xx answer from the reasoning service.
type ServiceError struct {
	Status  int
	Message string
	Body    string
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chat service status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("chat service status %d", e.Status)
}

// DisplayMessage picks the text shown for a failed dispatch: the service's
// own message when it sent one, the generic fallback otherwise.
func DisplayMessage(err error) string {
	var se *ServiceError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	var f *Failure
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	return FallbackMessage
}
