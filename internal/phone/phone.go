// Package phone answers Twilio voice calls: caller speech is gathered by
// Twilio, dispatched like any other utterance and the reply is read back.
package phone

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/voiceturn/internal/archive"
	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/ledger"
	"github.com/chadiek/voiceturn/internal/middleware"
)

const (
	msgNotHeard = "Sorry, I didn't catch that. Could you say it again?"
	msgBusy     = "One moment please, I'm still working on your last question."
	msgGoodbye  = "Thank you for calling Aven. Goodbye!"
)

type Config struct {
	Greeting       string
	LedgerCapacity int
	Dispatch       dispatch.Options
	Archiver       archive.Archiver
}

// Handlers keeps one dispatcher and ledger per CallSid.
type Handlers struct {
	reasoner dispatch.Reasoner
	cfg      Config
	log      zerolog.Logger

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	disp   *dispatch.Dispatcher
	ledger *ledger.Ledger
}

func NewHandlers(r dispatch.Reasoner, cfg Config, log zerolog.Logger) *Handlers {
	if cfg.Archiver == nil {
		cfg.Archiver = archive.Nop{}
	}
	cfg.Dispatch.Logger = log
	return &Handlers{reasoner: r, cfg: cfg, log: log, calls: make(map[string]*call)}
}

func (h *Handlers) Register(e *echo.Echo) {
	e.POST("/twilio/voice", h.voice)
	e.POST("/twilio/gather", h.gather)
	e.POST("/twilio/status", h.status)
}

// ActiveCalls reports how many calls have conversation state.
func (h *Handlers) ActiveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *Handlers) voice(c echo.Context) error {
	params, ok := c.Get(middleware.TwilioParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	h.log.Info().Str("call_sid", params["CallSid"]).Str("from", params["From"]).Msg("incoming call")
	h.lookup(params["CallSid"])
	return h.respond(c, h.cfg.Greeting)
}

func (h *Handlers) gather(c echo.Context) error {
	params, ok := c.Get(middleware.TwilioParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	sid := params["CallSid"]
	speech := strings.TrimSpace(params["SpeechResult"])
	log := h.log.With().Str("call_sid", sid).Logger()
	if speech == "" {
		return h.respond(c, msgNotHeard)
	}
	if isFarewell(speech) {
		return h.goodbye(c)
	}

	cl := h.lookup(sid)
	reply, err := cl.disp.Dispatch(c.Request().Context(), dispatch.Utterance{Text: speech, Source: dispatch.Voice})
	switch {
	case errors.Is(err, dispatch.ErrInFlight):
		return h.respond(c, msgBusy)
	case err != nil:
		log.Warn().Err(err).Msg("phone dispatch failed")
		return h.respond(c, dispatch.DisplayMessage(err))
	}
	log.Debug().Str("speech", speech).Msg("phone turn answered")
	return h.respond(c, reply)
}

func (h *Handlers) status(c echo.Context) error {
	params, ok := c.Get(middleware.TwilioParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	sid := params["CallSid"]
	switch params["CallStatus"] {
	case "completed", "busy", "failed", "no-answer", "canceled":
	default:
		return c.String(http.StatusOK, "OK")
	}
	h.mu.Lock()
	cl := h.calls[sid]
	delete(h.calls, sid)
	h.mu.Unlock()
	if cl != nil {
		turns := cl.ledger.All()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.cfg.Archiver.Archive(ctx, sid, turns); err != nil {
				h.log.Warn().Err(err).Str("call_sid", sid).Msg("archiving call failed")
			}
		}()
	}
	h.log.Info().Str("call_sid", sid).Str("status", params["CallStatus"]).Msg("call ended")
	return c.String(http.StatusOK, "OK")
}

func (h *Handlers) lookup(sid string) *call {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cl, ok := h.calls[sid]; ok {
		return cl
	}
	led := ledger.New(h.cfg.LedgerCapacity)
	cl := &call{disp: dispatch.New(h.reasoner, led, h.cfg.Dispatch), ledger: led}
	h.calls[sid] = cl
	return cl
}

// respond says text inside a speech gather and loops back when the caller
// stays silent.
func (h *Handlers) respond(c echo.Context, text string) error {
	gather := &twiml.VoiceGather{
		Input:         "speech",
		Action:        "/twilio/gather",
		Method:        "POST",
		SpeechTimeout: "auto",
		InnerElements: []twiml.Element{&twiml.VoiceSay{Message: text}},
	}
	redirect := &twiml.VoiceRedirect{Url: "/twilio/gather", Method: "POST"}
	response, err := twiml.Voice([]twiml.Element{gather, redirect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

func (h *Handlers) goodbye(c echo.Context) error {
	say := &twiml.VoiceSay{Message: msgGoodbye}
	hangup := &twiml.VoiceHangup{}
	response, err := twiml.Voice([]twiml.Element{say, hangup})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

func isFarewell(speech string) bool {
	s := strings.Trim(strings.ToLower(speech), " .!?")
	switch s {
	case "bye", "goodbye", "good bye", "bye bye", "that's all", "hang up":
		return true
	}
	return false
}
