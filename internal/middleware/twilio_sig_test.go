package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTwilioEcho(token string) *echo.Echo {
	e := echo.New()
	e.Use(TwilioAuth(TwilioConfig{AuthToken: func() string { return token }}))
	e.POST("/twilio/gather", func(c echo.Context) error {
		params, _ := c.Get(TwilioParamsKey).(map[string]string)
		return c.String(http.StatusOK, params["SpeechResult"])
	})
	e.POST("/other", func(c echo.Context) error { return c.String(http.StatusOK, "other") })
	return e
}

func twilioRequest(form url.Values, signature string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/twilio/gather", strings.NewReader(form.Encode()))
	r.Host = "voice.example.com"
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if signature != "" {
		r.Header.Set("X-Twilio-Signature", signature)
	}
	return r
}

func TestTwilioAuth_ValidSignature(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"my balance"}}
	sig := SignTwilio("secret", "https://voice.example.com/twilio/gather", form)

	w := httptest.NewRecorder()
	newTwilioEcho("secret").ServeHTTP(w, twilioRequest(form, sig))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "my balance" {
		t.Fatalf("expected params to reach handler, got %q", w.Body.String())
	}
}

func TestTwilioAuth_RepeatedParameterSigned(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"my balance"}, "StatusCallbackEvent": {"ringing", "answered"}}
	sig := SignTwilio("secret", "https://voice.example.com/twilio/gather", form)

	w := httptest.NewRecorder()
	newTwilioEcho("secret").ServeHTTP(w, twilioRequest(form, sig))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for repeated parameter, got %d", w.Code)
	}

	onlyFirst := SignTwilio("secret", "https://voice.example.com/twilio/gather",
		url.Values{"CallSid": {"CA1"}, "SpeechResult": {"my balance"}, "StatusCallbackEvent": {"ringing"}})
	w = httptest.NewRecorder()
	newTwilioEcho("secret").ServeHTTP(w, twilioRequest(form, onlyFirst))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when a value is left unsigned, got %d", w.Code)
	}
}

func TestTwilioAuth_DefaultPortTolerated(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}}
	sig := SignTwilio("secret", "https://voice.example.com:443/twilio/gather", form)
	w := httptest.NewRecorder()
	newTwilioEcho("secret").ServeHTTP(w, twilioRequest(form, sig))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when signed with explicit port, got %d", w.Code)
	}
}

func TestTwilioAuth_InvalidSignature(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}}
	for _, sig := range []string{"", "bogus"} {
		w := httptest.NewRecorder()
		newTwilioEcho("secret").ServeHTTP(w, twilioRequest(form, sig))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("signature %q: expected 401, got %d", sig, w.Code)
		}
	}
}

func TestTwilioAuth_NoTokenSkipsCheck(t *testing.T) {
	form := url.Values{"SpeechResult": {"hello"}}
	w := httptest.NewRecorder()
	newTwilioEcho("").ServeHTTP(w, twilioRequest(form, ""))
	if w.Code != http.StatusOK || w.Body.String() != "hello" {
		t.Fatalf("expected passthrough, got %d %q", w.Code, w.Body.String())
	}
}

func TestTwilioAuth_OtherPathsUntouched(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/other", nil)
	w := httptest.NewRecorder()
	newTwilioEcho("secret").ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequestURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", nil)
	r.Host = "localhost:8080"
	if got := RequestURL(r, "", "/twilio/voice"); got != "http://localhost:8080/twilio/voice" {
		t.Fatalf("unexpected url %s", got)
	}
	r.Header.Set("X-Forwarded-Host", "abc.ngrok.io")
	if got := RequestURL(r, "", "/twilio/voice"); got != "https://abc.ngrok.io/twilio/voice" {
		t.Fatalf("unexpected url %s", got)
	}
	if got := RequestURL(r, "https://voice.example.com/", "/twilio/voice"); got != "https://voice.example.com/twilio/voice" {
		t.Fatalf("unexpected url %s", got)
	}
}
