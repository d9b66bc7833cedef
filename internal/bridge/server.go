package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/archive"
	"github.com/chadiek/voiceturn/internal/capture"
	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/engine"
	"github.com/chadiek/voiceturn/internal/ledger"
	"github.com/chadiek/voiceturn/internal/playback"
	"github.com/chadiek/voiceturn/internal/tts"
)

const defaultHelloTimeout = 10 * time.Second

// ServerRecognizer is a recognizer fed with 16kHz PCM from binary frames.
type ServerRecognizer interface {
	capture.Recognizer
	SendPCM16KLE(pcm []byte) error
	Close() error
}

type Config struct {
	Engine         engine.Options
	LedgerCapacity int
	// Recognizer, when set, replaces the browser's recognition.
	Recognizer func(log zerolog.Logger) ServerRecognizer
	// Synthesizer, when set, replaces the browser's speech output; audio is
	// streamed back as binary 48kHz PCM frames.
	Synthesizer  func(sink tts.PCM48kSink, log zerolog.Logger) playback.Synthesizer
	Archiver     archive.Archiver
	HelloTimeout time.Duration
}

// Server upgrades GET /session and runs one coordinator per connection.
type Server struct {
	reasoner dispatch.Reasoner
	cfg      Config
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(r dispatch.Reasoner, cfg Config, log zerolog.Logger) *Server {
	if cfg.Archiver == nil {
		cfg.Archiver = archive.Nop{}
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = defaultHelloTimeout
	}
	return &Server{
		reasoner: r,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// Sessions reports the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	conn := newWSConn(ws)
	defer conn.close()

	id := uuid.NewString()
	log := s.log.With().Str("session", id).Logger()

	hello, err := s.awaitHello(ws)
	if err != nil {
		log.Debug().Err(err).Msg("session closed before hello")
		_ = conn.send(Message{Type: TypeError, Message: "expected hello"})
		return
	}

	sess := s.newSession(id, conn, hello, log)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	log.Info().Bool("recognition", sess.rec.Supported()).Bool("synthesis", sess.synth.Supported()).Msg("session started")
	sess.run(ws)
	s.archive(sess)
	log.Info().Int("turns", sess.coord.Ledger().Len()).Msg("session ended")
}

func (s *Server) awaitHello(ws *websocket.Conn) (Message, error) {
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.Type == TypeHello {
			return m, nil
		}
	}
}

func (s *Server) newSession(id string, conn *wsConn, hello Message, log zerolog.Logger) *session {
	sess := &session{id: id, conn: conn, log: log, in: chunker{size: inputChunkBytes}}

	if s.cfg.Recognizer != nil {
		sess.srvRec = s.cfg.Recognizer(log.With().Str("component", "recognizer").Logger())
		sess.rec = sess.srvRec
	} else {
		sess.brRec = newBrowserRecognizer(conn, hello.Recognition)
		sess.rec = sess.brRec
	}
	if s.cfg.Synthesizer != nil {
		sess.pcmOut = NewPacedWriter(conn.sendBinary)
		sess.synth = s.cfg.Synthesizer(sess.pcmOut, log.With().Str("component", "synthesizer").Logger())
	} else {
		sess.brSyn = newBrowserSynthesizer(conn, hello.Synthesis, hello.Voices)
		sess.synth = sess.brSyn
	}

	opts := s.cfg.Engine
	opts.Logger = log
	led := ledger.New(s.cfg.LedgerCapacity)
	sentTurns := -1
	sess.coord = engine.New(sess.rec, sess.synth, s.reasoner, led, opts, engine.Events{
		OnChange: func(snap engine.Snapshot) {
			// The client keeps the last turns it received.
			resend := snap.TurnsVersion != sentTurns
			if !resend {
				snap.Turns = nil
			}
			if err := conn.send(Message{Type: TypeState, Session: id, Snapshot: &snap}); err != nil {
				log.Debug().Err(err).Msg("state not delivered")
				return
			}
			if resend {
				sentTurns = snap.TurnsVersion
			}
		},
	})
	return sess
}

func (s *Server) archive(sess *session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.cfg.Archiver.Archive(ctx, sess.id, sess.coord.Ledger().All()); err != nil {
		sess.log.Warn().Err(err).Msg("archiving session failed")
	}
}

type session struct {
	id    string
	conn  *wsConn
	log   zerolog.Logger
	coord *engine.Coordinator

	rec    capture.Recognizer
	synth  playback.Synthesizer
	brRec  *browserRecognizer
	srvRec ServerRecognizer
	brSyn  *browserSynthesizer
	pcmOut *PacedWriter
	in     chunker
}

// run drives the session until the socket closes, then disposes the
// coordinator and releases server-side capabilities.
func (s *session) run(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer s.close()

	if err := s.coord.Init(ctx); err != nil {
		s.log.Error().Err(err).Msg("coordinator init failed")
		_ = s.conn.send(Message{Type: TypeError, Message: "session could not start"})
		return
	}
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("ws read error")
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			s.audio(data)
		case websocket.TextMessage:
			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				_ = s.conn.send(Message{Type: TypeError, Message: "invalid message"})
				continue
			}
			s.handle(m)
		}
	}
}

func (s *session) close() {
	s.coord.Dispose()
	if s.srvRec != nil {
		if err := s.srvRec.Close(); err != nil {
			s.log.Debug().Err(err).Msg("recognizer close failed")
		}
	}
	if s.pcmOut != nil {
		s.pcmOut.Close()
	}
}

func (s *session) audio(data []byte) {
	if s.srvRec == nil {
		return
	}
	s.in.add(data, func(chunk []byte) {
		if err := s.srvRec.SendPCM16KLE(chunk); err != nil {
			s.log.Debug().Err(err).Msg("audio not forwarded")
		}
	})
}

func (s *session) handle(m Message) {
	var err error
	switch m.Type {
	case TypeStart:
		err = s.coord.StartVoice()
	case TypeStop:
		err = s.coord.StopVoice()
	case TypeText:
		err = s.coord.SubmitText(m.Text)
	case TypeTranscript:
		if s.brRec != nil {
			s.brRec.transcript(m.Text)
		}
	case TypeListening:
		if s.brRec != nil {
			s.brRec.listening(m.On)
		}
	case TypeRecognitionError:
		if s.brRec != nil {
			s.brRec.fail(m.Message)
		}
	case TypeVoices:
		if s.brSyn != nil {
			s.brSyn.setVoices(m.Voices)
		}
	case TypeSpeech:
		if s.brSyn != nil {
			s.brSyn.event(m.ID, m.Event, m.Message)
		}
	case TypeHello:
	default:
		err = fmt.Errorf("unknown message type %q", m.Type)
	}
	if err == nil {
		return
	}
	if !errors.Is(err, engine.ErrBusy) {
		s.log.Debug().Err(err).Str("type", m.Type).Msg("command rejected")
	}
	_ = s.conn.send(Message{Type: TypeError, Message: err.Error()})
}
