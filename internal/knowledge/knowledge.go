// Package knowledge holds the support content the reasoning backend answers
// from. Chunks are embedded once and searched by cosine similarity.
package knowledge

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when there is nothing to embed.
var ErrEmptyInput = errors.New("knowledge: empty input")

// Chunk is one passage of support content. The JSON shape matches the
// scraped page chunks the knowledge file is built from.
type Chunk struct {
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
	Text string `json:"chunk"`
}

// Match is a chunk scored against a query; higher is closer.
type Match struct {
	Chunk
	Score float32
}

// Embedder converts text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
