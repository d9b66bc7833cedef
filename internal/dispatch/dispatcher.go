// Package dispatch turns finalized utterances into reasoning-service requests
// and records both sides of the exchange in the ledger.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/ledger"
)

// DefaultTimeout caps a single reasoning request.
const DefaultTimeout = 20 * time.Second

type Options struct {
	// Timeout bounds each request; a timeout is reported as a Failure.
	// Zero selects DefaultTimeout, negative disables it.
	Timeout time.Duration
	// ForwardHistory sends prior ledger turns along with the input.
	ForwardHistory bool
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Dispatcher allows a single outstanding request.
type Dispatcher struct {
	reasoner Reasoner
	ledger   *ledger.Ledger
	opts     Options
	log      zerolog.Logger

	mu       sync.Mutex
	inFlight bool
}

func New(r Reasoner, l *ledger.Ledger, opts Options) *Dispatcher {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{reasoner: r, ledger: l, opts: opts, log: opts.Logger}
}

func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Call is an accepted dispatch whose reply has not been awaited yet.
type Call struct {
	d         *Dispatcher
	utterance Utterance
	history   []ledger.Turn
	done      atomic.Bool
}

func (c *Call) Utterance() Utterance { return c.utterance }

// Begin validates u, claims the in-flight slot and appends the user turn.
// Blank input yields ErrEmpty, a busy dispatcher ErrInFlight; neither touches
// the ledger.
func (d *Dispatcher) Begin(u Utterance) (*Call, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil, ErrEmpty
	}
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return nil, ErrInFlight
	}
	d.inFlight = true
	d.mu.Unlock()

	var history []ledger.Turn
	if d.opts.ForwardHistory {
		history = d.ledger.All()
	}
	d.ledger.Append(ledger.Turn{Role: ledger.User, Text: text, At: d.opts.Now()})
	d.log.Debug().Str("source", u.Source.String()).Int("chars", len(text)).Msg("dispatch accepted")
	return &Call{d: d, utterance: Utterance{Text: text, Source: u.Source}, history: history}, nil
}

// Wait sends the request and blocks for the outcome. On success the assistant
// turn is appended before the in-flight slot is released. Errors are always
// *Failure.
func (c *Call) Wait(ctx context.Context) (string, error) {
	if !c.done.CompareAndSwap(false, true) {
		return "", &Failure{Message: FallbackMessage, Err: errors.New("dispatch: call already awaited")}
	}
	d := c.d
	defer d.release()

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	started := d.opts.Now()
	reply, err := d.reasoner.Reply(ctx, Request{Input: c.utterance.Text, History: c.history})
	if err != nil {
		d.log.Warn().Err(err).Dur("elapsed", d.opts.Now().Sub(started)).Msg("dispatch failed")
		return "", &Failure{Message: DisplayMessage(err), Err: err}
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		d.log.Warn().Msg("dispatch returned empty reply")
		return "", &Failure{Message: FallbackMessage, Err: ErrEmptyReply}
	}
	d.ledger.Append(ledger.Turn{Role: ledger.Assistant, Text: reply, At: d.opts.Now()})
	d.log.Debug().Dur("elapsed", d.opts.Now().Sub(started)).Msg("dispatch replied")
	return reply, nil
}

// Dispatch is Begin followed by Wait.
func (d *Dispatcher) Dispatch(ctx context.Context, u Utterance) (string, error) {
	call, err := d.Begin(u)
	if err != nil {
		return "", err
	}
	return call.Wait(ctx)
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()
}
