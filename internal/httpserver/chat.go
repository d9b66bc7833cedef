package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/ledger"
)

// chatHandler is the reasoning service the coordinator's dispatcher calls.
type chatHandler struct {
	reasoner dispatch.Reasoner
	log      zerolog.Logger
}

func (h *chatHandler) chat(c echo.Context) error {
	var req dispatch.ChatRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		return c.JSON(http.StatusBadRequest, dispatch.ChatError{Error: "No input provided"})
	}

	history := make([]ledger.Turn, 0, len(req.History))
	for _, e := range req.History {
		if e.Role != ledger.User && e.Role != ledger.Assistant {
			continue
		}
		history = append(history, ledger.Turn{Role: e.Role, Text: e.Text})
	}

	reply, err := h.reasoner.Reply(c.Request().Context(), dispatch.Request{Input: req.Input, History: history})
	if err != nil {
		h.log.Error().Err(err).Msg("chat generation failed")
		return c.JSON(http.StatusInternalServerError, dispatch.ChatError{Error: "API error", Message: err.Error()})
	}
	return c.JSON(http.StatusOK, dispatch.ChatResponse{Response: &reply})
}
