// Package transcript provides a server-side speech recognizer backed by the
// AssemblyAI realtime streaming API.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/capture"
)

const defaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAI message types
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type           string `json:"type"`
	Transcript     string `json:"transcript"`
	EndOfTurn      bool   `json:"end_of_turn"`
	TurnFormatted  bool   `json:"turn_is_formatted"`
	AudioStartTime int64  `json:"audio_start_time,omitempty"`
	AudioEndTime   int64  `json:"audio_end_time,omitempty"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// AssemblyAIRecognizer streams 16 kHz PCM to AssemblyAI and reports the
// running transcript of the current capture. The connection is opened on the
// first Start and reused until Close.
type AssemblyAIRecognizer struct {
	apiKey string
	wsURL  string
	log    zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	active    bool
	audioData chan []byte
	stopCh    chan struct{}

	hmu      sync.Mutex
	handlers map[int]capture.RecognitionHandler
	nextID   int

	// transcript accumulation for the current capture
	accMu     sync.Mutex
	committed string
	current   string
}

func NewAssemblyAIRecognizer(apiKey string, log zerolog.Logger) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		apiKey:   apiKey,
		wsURL:    defaultStreamingURL,
		log:      log,
		handlers: make(map[int]capture.RecognitionHandler),
	}
}

// WithURL points the recognizer at another streaming endpoint.
func (s *AssemblyAIRecognizer) WithURL(u string) *AssemblyAIRecognizer {
	s.wsURL = u
	return s
}

func (s *AssemblyAIRecognizer) Supported() bool { return s.apiKey != "" }

func (s *AssemblyAIRecognizer) Subscribe(h capture.RecognitionHandler) func() {
	s.hmu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	s.hmu.Unlock()
	return func() {
		s.hmu.Lock()
		delete(s.handlers, id)
		s.hmu.Unlock()
	}
}

// Start clears the transcript and begins forwarding audio.
func (s *AssemblyAIRecognizer) Start(continuous bool) error {
	if err := s.connect(); err != nil {
		return err
	}
	s.accMu.Lock()
	s.committed, s.current = "", ""
	s.accMu.Unlock()
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.emitListening(true)
	return nil
}

// Stop stops forwarding audio. Turns still in flight are ignored.
func (s *AssemblyAIRecognizer) Stop() error {
	s.mu.Lock()
	was := s.active
	s.active = false
	s.mu.Unlock()
	if was {
		s.emitListening(false)
	}
	return nil
}

func (s *AssemblyAIRecognizer) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("AssemblyAI API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", s.wsURL, params.Encode())

	headers := map[string][]string{
		"Authorization": {s.apiKey},
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	s.log.Info().Str("url", wsURL).Msg("connecting to AssemblyAI")
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			s.log.Warn().Int("status", resp.StatusCode).Msg("AssemblyAI connection failed")
		}
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.audioData = make(chan []byte, 1000)
	s.stopCh = make(chan struct{})

	go s.handleMessages(conn, s.stopCh)
	go s.sendAudioData(conn, s.audioData, s.stopCh)

	s.log.Info().Msg("connected to AssemblyAI streaming service")
	return nil
}

// SendPCM16KLE queues 16 kHz little-endian mono PCM. Audio outside an active
// capture is discarded.
func (s *AssemblyAIRecognizer) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("not connected to AssemblyAI")
	}
	if !s.active {
		return nil
	}
	select {
	case s.audioData <- pcm:
	default:
		s.log.Warn().Msg("audio buffer full, dropping packet")
	}
	return nil
}

// Close terminates the streaming session.
func (s *AssemblyAIRecognizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.active = false
	s.conn = nil
	s.log.Info().Msg("AssemblyAI connection closed")
	return nil
}

func (s *AssemblyAIRecognizer) handleMessages(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			s.log.Warn().Err(err).Msg("AssemblyAI read failed")
			s.mu.Lock()
			if s.conn == conn {
				s.connected = false
				s.conn = nil
				close(s.stopCh)
			}
			s.mu.Unlock()
			s.emitError(fmt.Errorf("assemblyai: %w", err))
			return
		}
		s.processMessage(message)
	}
}

func (s *AssemblyAIRecognizer) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.log.Warn().Err(err).Msg("unmarshal AssemblyAI message")
		return
	}
	switch base.Type {
	case "Begin":
		var msg BeginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.log.Info().Str("id", msg.ID).Time("expires_at", time.Unix(msg.ExpiresAt, 0)).Msg("AssemblyAI session began")
	case "Turn":
		var msg TurnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Warn().Err(err).Msg("unmarshal Turn message")
			return
		}
		s.mu.RLock()
		active := s.active
		s.mu.RUnlock()
		if !active {
			return
		}
		s.emitTranscript(s.accumulate(msg))
	case "Termination":
		var msg TerminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.log.Info().Float64("audio_s", msg.AudioDurationSeconds).Float64("session_s", msg.SessionDurationSeconds).Msg("AssemblyAI session terminated")
	case "Error":
		var msg ErrorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.emitError(errors.New("assemblyai: " + msg.Error))
	default:
		s.log.Debug().Str("type", base.Type).Msg("unknown AssemblyAI message")
	}
}

// accumulate folds a turn update into the capture transcript and returns the
// full running text.
func (s *AssemblyAIRecognizer) accumulate(msg TurnMessage) string {
	s.accMu.Lock()
	defer s.accMu.Unlock()
	s.current = strings.TrimSpace(msg.Transcript)
	if msg.EndOfTurn {
		s.committed = joinText(s.committed, s.current)
		s.current = ""
		return s.committed
	}
	return joinText(s.committed, s.current)
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func (s *AssemblyAIRecognizer) sendAudioData(conn *websocket.Conn, audio <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case pcm := <-audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				s.log.Warn().Err(err).Msg("sending audio to AssemblyAI failed")
				return
			}
		}
	}
}

func (s *AssemblyAIRecognizer) snapshotHandlers() []capture.RecognitionHandler {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]capture.RecognitionHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}

func (s *AssemblyAIRecognizer) emitTranscript(text string) {
	for _, h := range s.snapshotHandlers() {
		if h.OnTranscript != nil {
			h.OnTranscript(text)
		}
	}
}

func (s *AssemblyAIRecognizer) emitListening(on bool) {
	for _, h := range s.snapshotHandlers() {
		if h.OnListening != nil {
			h.OnListening(on)
		}
	}
}

func (s *AssemblyAIRecognizer) emitError(err error) {
	for _, h := range s.snapshotHandlers() {
		if h.OnError != nil {
			h.OnError(err)
		}
	}
}
