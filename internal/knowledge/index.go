package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// embedBatch is how many chunks are embedded per request while indexing.
const embedBatch = 50

// Index is an in-memory vector index over chunks, searched by brute-force
// cosine similarity. It is safe for concurrent use.
type Index struct {
	emb Embedder

	mu      sync.RWMutex
	chunks  []Chunk
	vectors [][]float32
}

func NewIndex(emb Embedder) *Index {
	return &Index{emb: emb}
}

// Add embeds chunks and makes them searchable. Chunks without text are
// skipped.
func (x *Index) Add(ctx context.Context, chunks []Chunk) error {
	var keep []Chunk
	for _, c := range chunks {
		if c.Text != "" {
			keep = append(keep, c)
		}
	}
	for i := 0; i < len(keep); i += embedBatch {
		batch := keep[i:min(i+embedBatch, len(keep))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vecs, err := x.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("knowledge: indexing chunks %d-%d: %w", i, i+len(batch), err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("knowledge: got %d vectors for %d chunks", len(vecs), len(batch))
		}
		x.mu.Lock()
		x.chunks = append(x.chunks, batch...)
		x.vectors = append(x.vectors, vecs...)
		x.mu.Unlock()
	}
	return nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

// Search returns up to topK chunks closest to query, best first. An empty
// index returns no matches without calling the embedder.
func (x *Index) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 || x.Len() == 0 {
		return nil, nil
	}
	q, err := x.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embedding query: %w", err)
	}

	x.mu.RLock()
	matches := make([]Match, len(x.chunks))
	for i, c := range x.chunks {
		matches[i] = Match{Chunk: c, Score: cosineSimilarity(q, x.vectors[i])}
	}
	x.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// cosineSimilarity is in [-1, 1]. Mismatched dimensions and zero vectors
// score -1 so they sort last.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return -1
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(max(-1, min(1, s)))
}
