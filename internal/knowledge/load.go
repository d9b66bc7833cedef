package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Roughly 500 model tokens per chunk with a 50 token overlap.
const (
	chunkWords   = 350
	chunkOverlap = 35
)

// LoadFile reads support content from path. A .json file holds an array of
// {"url", "chunk"} objects; any other file is plain text with passages
// separated by blank lines. Long passages are split into overlapping chunks.
func LoadFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: %w", err)
	}
	var raw []Chunk
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("knowledge: parsing %s: %w", path, err)
		}
	} else {
		for _, p := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n\n") {
			raw = append(raw, Chunk{Text: p})
		}
	}

	var out []Chunk
	for _, c := range raw {
		for _, text := range SplitText(c.Text, chunkWords, chunkOverlap) {
			out = append(out, Chunk{ID: fmt.Sprintf("aven-%d", len(out)), URL: c.URL, Text: text})
		}
	}
	return out, nil
}

// SplitText cuts text into windows of at most size words, each starting
// size-overlap words after the previous one. Whitespace is normalized.
func SplitText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		return []string{strings.Join(words, " ")}
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var out []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
