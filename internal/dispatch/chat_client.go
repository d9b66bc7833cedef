package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// ChatClient calls a reasoning service exposing POST /chat.
type ChatClient struct {
	HTTPClient *http.Client
	BaseURL    string
	// AuthToken is sent as a bearer token when set.
	AuthToken string
}

func NewChatClient(baseURL string) *ChatClient {
	return &ChatClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *ChatClient) Reply(ctx context.Context, req Request) (string, error) {
	if c.BaseURL == "" {
		return "", fmt.Errorf("chat: base url missing")
	}
	body, err := json.Marshal(ChatRequest{Input: req.Input, History: historyEntries(req.History)})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &ServiceError{Status: resp.StatusCode, Body: string(b)}
		var eb ChatError
		if json.Unmarshal(b, &eb) == nil {
			se.Message = strings.TrimSpace(eb.Message)
		}
		return "", se
	}
	var cr ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if cr.Response == nil {
		return "", fmt.Errorf("chat: response field missing")
	}
	return *cr.Response, nil
}
