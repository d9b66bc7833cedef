// Package capture wraps a speech recognizer with the start/stop lifecycle and
// transcript bookkeeping of a single voice capture.
package capture

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/watchdog"
)

// Session owns at most one active capture at a time. Starting a new capture
// stops the previous one.
type Session struct {
	rec Recognizer
	wd  *watchdog.Watchdog
	log zerolog.Logger

	mu         sync.Mutex
	listening  bool
	transcript string
}

func NewSession(rec Recognizer, wd *watchdog.Watchdog, log zerolog.Logger) *Session {
	return &Session{rec: rec, wd: wd, log: log}
}

// Supported reports whether the underlying recognizer can be used.
func (s *Session) Supported() bool {
	return s.rec != nil && s.rec.Supported()
}

// Start begins continuous listening with an empty transcript and arms the
// watchdog.
func (s *Session) Start() error {
	if !s.Supported() {
		return ErrUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		s.log.Debug().Msg("restarting capture; previous transcript discarded")
		s.stopLocked()
	}
	s.transcript = ""
	if err := s.rec.Start(true); err != nil {
		return fmt.Errorf("capture: start recognizer: %w", err)
	}
	s.listening = true
	s.wd.Reset()
	return nil
}

// Stop ends listening and returns the final transcript. Calling Stop when not
// listening returns "".
func (s *Session) Stop() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return ""
	}
	return s.stopLocked()
}

func (s *Session) stopLocked() string {
	s.listening = false
	s.wd.Cancel()
	if err := s.rec.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("recognizer stop failed")
	}
	return s.transcript
}

// Update replaces the transcript with the latest partial and re-arms the
// watchdog. It reports false when no capture is active.
func (s *Session) Update(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return false
	}
	s.transcript = text
	s.wd.Reset()
	return true
}

// Expired reports whether a watchdog expiry with generation gen belongs to the
// capture that is still running.
func (s *Session) Expired(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening && s.wd.Generation() == gen
}

func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Listening: s.listening, Transcript: s.transcript, Supported: s.Supported()}
}
