// Package middleware holds echo middleware shared by the HTTP surfaces.
package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioParamsKey is the echo context key holding the parsed webhook form.
const TwilioParamsKey = "twilioParams"

// TwilioConfig configures TwilioAuth.
type TwilioConfig struct {
	// AuthToken returns the account auth token. An empty token disables
	// signature checks; the form is still parsed.
	AuthToken func() string
	// BaseURL overrides the scheme and host used to rebuild the signed URL.
	BaseURL string
}

// SignTwilio computes the X-Twilio-Signature value for a request: the URL
// followed by every key and value, keys sorted, repeated values sorted.
func SignTwilio(authToken, fullURL string, form url.Values) string {
	var b strings.Builder
	b.WriteString(fullURL)
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := append([]string(nil), form[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// validateTwilioSignature verifies Twilio request signatures. Single-valued
// forms go through the twilio-go validator, which also tolerates an explicit
// default port; it signs only the first value of a key, so forms with
// repeated keys are checked here.
func validateTwilioSignature(authToken, signature, fullURL string, form url.Values) bool {
	if authToken == "" || signature == "" {
		return false
	}
	if !repeated(form) {
		rv := twilioclient.NewRequestValidator(authToken)
		return rv.Validate(fullURL, firstValues(form), signature)
	}
	expected := SignTwilio(authToken, fullURL, form)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func repeated(form url.Values) bool {
	for _, v := range form {
		if len(v) > 1 {
			return true
		}
	}
	return false
}

func firstValues(form url.Values) map[string]string {
	params := make(map[string]string, len(form))
	for key, values := range form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

// TwilioAuth validates Twilio webhook requests using the signature header and
// stores the form parameters under TwilioParamsKey.
func TwilioAuth(cfg TwilioConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/twilio/") {
				return next(c)
			}

			bodyBytes, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}

			formData, err := url.ParseQuery(string(bodyBytes))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}

			authToken := ""
			if cfg.AuthToken != nil {
				authToken = cfg.AuthToken()
			}
			if authToken != "" {
				signature := c.Request().Header.Get("X-Twilio-Signature")
				requestURL := RequestURL(c.Request(), cfg.BaseURL, c.Request().URL.Path)
				if !validateTwilioSignature(authToken, signature, requestURL, formData) {
					return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
				}
			}

			c.Set(TwilioParamsKey, firstValues(formData))
			return next(c)
		}
	}
}

// RequestURL rebuilds the absolute URL Twilio called. Forwarded hosts win
// over the request host; localhost is assumed to be plain http.
func RequestURL(r *http.Request, baseURL, path string) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + path
	}
	scheme := "https"
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}
