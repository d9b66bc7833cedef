package phone

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/ledger"
	"github.com/chadiek/voiceturn/internal/middleware"
)

type archived struct {
	sid   string
	turns []ledger.Turn
}

type chanArchiver chan archived

func (a chanArchiver) Archive(_ context.Context, sid string, turns []ledger.Turn) error {
	a <- archived{sid: sid, turns: turns}
	return nil
}

type recordingReasoner struct {
	mu    sync.Mutex
	reqs  []dispatch.Request
	reply func(dispatch.Request) (string, error)
}

func (r *recordingReasoner) Reply(_ context.Context, req dispatch.Request) (string, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return r.reply(req)
}

func newServer(t *testing.T, r dispatch.Reasoner, arch chanArchiver) (*echo.Echo, *Handlers) {
	t.Helper()
	e := echo.New()
	e.Use(middleware.TwilioAuth(middleware.TwilioConfig{}))
	cfg := Config{Greeting: "Hi, this is Dave.", Dispatch: dispatch.Options{Timeout: time.Second, ForwardHistory: true}}
	if arch != nil {
		cfg.Archiver = arch
	}
	h := NewHandlers(r, cfg, zerolog.Nop())
	h.Register(e)
	return e, h
}

func post(e *echo.Echo, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestVoice_GreetsInsideGather(t *testing.T) {
	r := &recordingReasoner{reply: func(dispatch.Request) (string, error) { return "", nil }}
	e, h := newServer(t, r, nil)

	rec := post(e, "/twilio/voice", url.Values{"CallSid": {"CA1"}, "From": {"+15550100"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get(echo.HeaderContentType))
	body := rec.Body.String()
	assert.Contains(t, body, "<Gather")
	assert.Contains(t, body, `input="speech"`)
	assert.Contains(t, body, `action="/twilio/gather"`)
	assert.Contains(t, body, "Hi, this is Dave.")
	assert.Contains(t, body, "<Redirect")
	assert.Equal(t, 1, h.ActiveCalls())
}

func TestGather_RepliesAndKeepsHistoryPerCall(t *testing.T) {
	r := &recordingReasoner{reply: func(req dispatch.Request) (string, error) {
		return "You said " + req.Input, nil
	}}
	e, _ := newServer(t, r, nil)

	rec := post(e, "/twilio/gather", url.Values{"CallSid": {"CA1"}, "SpeechResult": {" balance "}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You said balance")

	post(e, "/twilio/gather", url.Values{"CallSid": {"CA2"}, "SpeechResult": {"due date"}})
	post(e, "/twilio/gather", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"thanks"}})

	require.Len(t, r.reqs, 3)
	assert.Empty(t, r.reqs[1].History)
	require.Len(t, r.reqs[2].History, 2)
	assert.Equal(t, "balance", r.reqs[2].History[0].Text)
	assert.Equal(t, "You said balance", r.reqs[2].History[1].Text)
}

func TestGather_EmptySpeechReprompts(t *testing.T) {
	r := &recordingReasoner{reply: func(dispatch.Request) (string, error) { return "x", nil }}
	e, h := newServer(t, r, nil)

	rec := post(e, "/twilio/gather", url.Values{"CallSid": {"CA1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "catch that")
	assert.Empty(t, r.reqs)
	assert.Equal(t, 0, h.ActiveCalls())
}

func TestGather_FailureSaysServiceMessage(t *testing.T) {
	r := &recordingReasoner{reply: func(dispatch.Request) (string, error) {
		return "", &dispatch.ServiceError{Status: 500, Message: "Upstream unavailable"}
	}}
	e, _ := newServer(t, r, nil)

	rec := post(e, "/twilio/gather", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hello"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Upstream unavailable")
	assert.Contains(t, rec.Body.String(), "<Gather")
}

func TestGather_FailureWithoutMessageSaysFallback(t *testing.T) {
	r := &recordingReasoner{reply: func(dispatch.Request) (string, error) {
		return "", errors.New("boom")
	}}
	e, _ := newServer(t, r, nil)

	rec := post(e, "/twilio/gather", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"hello"}})
	assert.Contains(t, rec.Body.String(), dispatch.FallbackMessage)
}

func TestGather_FarewellHangsUp(t *testing.T) {
	r := &recordingReasoner{reply: func(dispatch.Request) (string, error) { return "x", nil }}
	e, _ := newServer(t, r, nil)

	rec := post(e, "/twilio/gather", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"Goodbye."}})
	body := rec.Body.String()
	assert.Contains(t, body, "<Hangup")
	assert.NotContains(t, body, "<Gather")
	assert.Empty(t, r.reqs)
}

func TestStatus_CompletedArchivesAndForgets(t *testing.T) {
	r := &recordingReasoner{reply: func(dispatch.Request) (string, error) { return "Your balance is $5.", nil }}
	arch := make(chanArchiver, 1)
	e, h := newServer(t, r, arch)

	post(e, "/twilio/gather", url.Values{"CallSid": {"CA9"}, "SpeechResult": {"balance"}})
	require.Equal(t, 1, h.ActiveCalls())

	rec := post(e, "/twilio/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"ringing"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.ActiveCalls())

	post(e, "/twilio/status", url.Values{"CallSid": {"CA9"}, "CallStatus": {"completed"}})
	assert.Equal(t, 0, h.ActiveCalls())

	select {
	case got := <-arch:
		assert.Equal(t, "CA9", got.sid)
		require.Len(t, got.turns, 2)
		assert.Equal(t, ledger.Assistant, got.turns[1].Role)
	case <-time.After(2 * time.Second):
		t.Fatal("call was not archived")
	}
}

func TestHandlers_RequireTwilioParams(t *testing.T) {
	e := echo.New()
	h := NewHandlers(dispatch.ReasonerFunc(func(context.Context, dispatch.Request) (string, error) {
		return "", nil
	}), Config{}, zerolog.Nop())
	h.Register(e)

	rec := post(e, "/twilio/voice", url.Values{"CallSid": {"CA1"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
