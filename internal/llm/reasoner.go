package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/config"
	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/knowledge"
)

const (
	// NoKnowledgeMessage answers questions nothing in the knowledge base matches.
	NoKnowledgeMessage = "I don't have specific information about that topic. For detailed information " +
		"about Aven credit cards, requirements, and services, I recommend visiting aven.com or contacting " +
		"customer support at 1-800-AVEN-HELP."
	// UnreadableKnowledgeMessage is used when matches carry no text.
	UnreadableKnowledgeMessage = "I found some results but couldn't extract the content. Please try " +
		"rephrasing your question or contact Aven support for specific details."

	searchTopK   = 5
	contextLimit = 3
	excerptRunes = 300
)

// Retriever finds support content relevant to a question.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Match, error)
}

// Reasoner answers dispatch requests with a local Generator. With Knowledge
// set, answers are grounded on the closest support content, and a failed
// generation falls back to quoting it.
type Reasoner struct {
	Gen       Generator
	Knowledge Retriever
	Log       zerolog.Logger
}

func (r Reasoner) Reply(ctx context.Context, req dispatch.Request) (string, error) {
	if r.Knowledge == nil {
		return r.Gen.Generate(ctx, BuildMessages(SystemPrompt, req.Input, req.History))
	}

	matches, err := r.Knowledge.Search(ctx, req.Input, searchTopK)
	if err != nil {
		return "", fmt.Errorf("knowledge search: %w", err)
	}
	if len(matches) == 0 {
		return NoKnowledgeMessage, nil
	}
	var excerpts []string
	for _, m := range matches {
		if text := strings.TrimSpace(m.Text); text != "" {
			excerpts = append(excerpts, text)
		}
		if len(excerpts) == contextLimit {
			break
		}
	}
	if len(excerpts) == 0 {
		return UnreadableKnowledgeMessage, nil
	}
	grounding := strings.Join(excerpts, "\n\n")
	r.Log.Debug().Int("matches", len(matches)).Float32("top_score", matches[0].Score).Msg("knowledge retrieved")

	reply, err := r.Gen.Generate(ctx, BuildMessages(groundedSystemPrompt(grounding), req.Input, req.History))
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		r.Log.Warn().Err(err).Msg("generation failed, answering from knowledge excerpt")
		return excerptReply(grounding), nil
	}
	return reply, nil
}

func excerptReply(grounding string) string {
	runes := []rune(grounding)
	if len(runes) > excerptRunes {
		runes = runes[:excerptRunes]
	}
	return "Based on Aven's information: " + string(runes) +
		"... For specific details about your question, please contact Aven support for personalized assistance."
}

// NewGenerator picks the provider named by cfg.LLMProvider.
func NewGenerator(cfg config.Config) (Generator, error) {
	switch cfg.LLMProvider {
	case "", "cerebras":
		return NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID), nil
	case "openai":
		c, err := NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel, "")
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("llm: unknown provider %q", cfg.LLMProvider)
}
