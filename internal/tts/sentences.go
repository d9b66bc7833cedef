package tts

import "strings"

// SplitSentences splits text after '.', '!' and '?' and at line breaks,
// keeping the punctuation. Runs of punctuation stay with their sentence.
func SplitSentences(text string) []string {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return nil
	}
	var out []string
	var b strings.Builder
	flush := func() {
		chunk := strings.TrimSpace(b.String())
		b.Reset()
		switch {
		case chunk == "":
		case strings.Trim(chunk, ".!?") == "" && len(out) > 0:
			out[len(out)-1] += chunk
		default:
			out = append(out, chunk)
		}
	}
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			flush()
		case '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}
