// Package console is a terminal front end for the turn coordinator. Typed
// lines are submitted as text and replies are printed instead of spoken.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/engine"
	"github.com/chadiek/voiceturn/internal/ledger"
)

// QuickActions maps slash commands to the help topics offered in the sidebar
// of the web client.
var QuickActions = map[string]string{
	"/balance":  "Account Balance",
	"/due":      "Payment Due Date",
	"/security": "Security Settings",
	"/fraud":    "Fraud Protection",
}

// QuickPrompt is the message a quick action submits.
func QuickPrompt(topic string) string { return "I need help with " + topic }

type Options struct {
	Engine         engine.Options
	LedgerCapacity int
	// Speaker prefixes printed replies.
	Speaker string
	Logger  zerolog.Logger
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

// Run reads commands from in until EOF, /quit or ctx ends, and returns the
// conversation ledger.
func Run(ctx context.Context, r dispatch.Reasoner, in io.Reader, out io.Writer, opts Options) (*ledger.Ledger, error) {
	if opts.Speaker == "" {
		opts.Speaker = "Dave"
	}
	w := &syncWriter{w: out}
	changed := make(chan struct{}, 1)
	var shown engine.State

	led := ledger.New(opts.LedgerCapacity)
	eopts := opts.Engine
	eopts.Logger = opts.Logger
	coord := engine.New(unsupportedRecognizer{}, newSynthesizer(w, opts.Speaker), r, led, eopts, engine.Events{
		OnChange: func(s engine.Snapshot) {
			if s.State.Phase == engine.PhaseError && s.State != shown {
				w.printf("! %s\n", s.State.Message)
			}
			shown = s.State
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := coord.Init(ctx); err != nil {
		return led, err
	}
	defer coord.Dispose()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return led, nil
		case line, ok = <-lines:
		}
		if !ok {
			return led, nil
		}
		line = strings.TrimSpace(line)
		var err error
		switch {
		case line == "/quit" || line == "/exit":
			return led, nil
		case line == "/help":
			w.printf("%s", helpText())
			continue
		case line == "/voice":
			err = coord.StartVoice()
		case strings.HasPrefix(line, "/"):
			topic, known := QuickActions[line]
			if !known {
				w.printf("unknown command %s\n%s", line, helpText())
				continue
			}
			err = coord.SubmitText(QuickPrompt(topic))
		default:
			err = coord.SubmitText(line)
		}
		if errors.Is(err, engine.ErrBusy) {
			w.printf("! still working on the last message\n")
			continue
		}
		if err != nil {
			return led, err
		}
		if err := waitSettled(ctx, coord, changed); err != nil {
			return led, nil
		}
	}
}

// waitSettled blocks until the coordinator is neither waiting for a reply
// nor speaking.
func waitSettled(ctx context.Context, coord *engine.Coordinator, changed <-chan struct{}) error {
	for {
		s := coord.Snapshot()
		switch s.State.Phase {
		case engine.PhaseIdle, engine.PhaseError:
			if !s.Speaking {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func helpText() string {
	cmds := make([]string, 0, len(QuickActions))
	for cmd := range QuickActions {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, cmd := range cmds {
		fmt.Fprintf(&b, "  %-10s %s\n", cmd, QuickPrompt(QuickActions[cmd]))
	}
	b.WriteString("  /voice     start voice capture\n")
	b.WriteString("  /quit      leave\n")
	return b.String()
}
