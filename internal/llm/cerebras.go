package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const cerebrasEndpoint = "https://api.cerebras.ai/v1/chat/completions"

// CerebrasClient calls the Cerebras OpenAI-compatible chat completions
// endpoint over plain HTTP.
type CerebrasClient struct {
	HTTPClient  *http.Client
	APIKey      string
	Model       string
	Endpoint    string
	MaxTokens   int
	Temperature float64
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
}

func NewCerebrasClient(apiKey, model string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		APIKey:      apiKey,
		Model:       model,
		Endpoint:    cerebrasEndpoint,
		MaxTokens:   400,
		Temperature: 0.7,
	}
}

// Generate sends msgs as one chat completion and returns the first choice.
func (c *CerebrasClient) Generate(ctx context.Context, msgs []Message) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("cerebras: api key missing")
	}
	if len(msgs) == 0 {
		return "", errors.New("cerebras: no messages")
	}
	req, err := c.newRequest(ctx, msgs)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cerebras: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("cerebras: status=%d body=%s", resp.StatusCode, string(b))
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("cerebras: decoding response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("cerebras: empty choices")
	}
	answer := strings.TrimSpace(cr.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("cerebras: empty answer (finish_reason=%s)", cr.Choices[0].FinishReason)
	}
	return answer, nil
}

func (c *CerebrasClient) newRequest(ctx context.Context, msgs []Message) (*http.Request, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = cerebrasEndpoint
	}
	body, err := json.Marshal(completionRequest{
		Model:       c.Model,
		Messages:    msgs,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
