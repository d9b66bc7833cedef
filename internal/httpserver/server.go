package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/config"
	"github.com/chadiek/voiceturn/internal/dispatch"
	twiliomw "github.com/chadiek/voiceturn/internal/middleware"
	"github.com/chadiek/voiceturn/internal/phone"
)

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler
}

// Deps are the handlers mounted next to the health route. Nil members leave
// their routes unmounted.
type Deps struct {
	// Chat answers POST /chat.
	Chat dispatch.Reasoner
	// Session serves the GET /session websocket.
	Session http.Handler
	Phone   *phone.Handlers
	Logger  zerolog.Logger
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(twiliomw.TwilioAuth(twiliomw.TwilioConfig{
		AuthToken: func() string { return cfg.TwilioAuthToken },
		BaseURL:   cfg.BaseURL,
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if d.Chat != nil {
		h := &chatHandler{reasoner: d.Chat, log: d.Logger}
		cors := middleware.CORS()
		e.POST("/chat", h.chat, cors, requirePassword(cfg.AuthPassword))
		e.OPTIONS("/chat", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, cors)
	}
	if d.Session != nil {
		e.GET("/session", echo.WrapHandler(d.Session), requirePassword(cfg.AuthPassword))
	}
	if d.Phone != nil {
		d.Phone.Register(e)
	}

	return &Server{Router: e}
}

// requirePassword rejects requests that do not present the configured
// password. An empty password disables the check.
func requirePassword(password string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !authOK(c.Request(), password) {
				return c.JSON(http.StatusUnauthorized, dispatch.ChatError{Error: "Unauthorized"})
			}
			return next(c)
		}
	}
}
