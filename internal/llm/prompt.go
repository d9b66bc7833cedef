// Package llm generates assistant replies from language model providers.
package llm

import (
	"context"

	"github.com/chadiek/voiceturn/internal/ledger"
)

// SystemPrompt frames every generation.
const SystemPrompt = "You are Dave, a friendly customer support voice assistant for Aven. " +
	"Answer clearly and briefly in plain sentences suitable for speech."

const groundingPrompt = "Answer using the following information from Aven's website. " +
	"If the exact information isn't available, share what relevant information you can " +
	"and suggest contacting Aven directly for specific details.\n\nContext from Aven website:\n"

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces a single response to a conversation.
type Generator interface {
	Generate(ctx context.Context, msgs []Message) (string, error)
}

// BuildMessages lays out a request: the system prompt, earlier turns in
// their own roles, then the new input.
func BuildMessages(system, input string, history []ledger.Turn) []Message {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	for _, t := range history {
		role := RoleUser
		if t.Role == ledger.Assistant {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	return append(msgs, Message{Role: RoleUser, Content: input})
}

// groundedSystemPrompt extends SystemPrompt with retrieved support content.
func groundedSystemPrompt(grounding string) string {
	return SystemPrompt + "\n\n" + groundingPrompt + grounding
}
