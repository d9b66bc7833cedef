package dispatch

import "github.com/chadiek/voiceturn/internal/ledger"

// Wire format of POST /chat, shared by the client and the server handler.

type HistoryEntry struct {
	Role ledger.Role `json:"role"`
	Text string      `json:"text"`
}

type ChatRequest struct {
	Input   string         `json:"input"`
	History []HistoryEntry `json:"history,omitempty"`
}

type ChatResponse struct {
	Response *string `json:"response"`
}

type ChatError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func historyEntries(turns []ledger.Turn) []HistoryEntry {
	if len(turns) == 0 {
		return nil
	}
	out := make([]HistoryEntry, len(turns))
	for i, t := range turns {
		out[i] = HistoryEntry{Role: t.Role, Text: t.Text}
	}
	return out
}
