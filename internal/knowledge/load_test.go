package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText(t *testing.T) {
	words := strings.Fields("a b c d e f g h i j")
	text := strings.Join(words, "  \n")

	assert.Equal(t, []string{"a b c d", "d e f g", "g h i j"}, SplitText(text, 4, 1))
	assert.Equal(t, []string{"a b c d e f g h i j"}, SplitText(text, 20, 2))
	assert.Nil(t, SplitText("   ", 4, 1))
	assert.Equal(t, []string{"a b", "c d", "e f", "g h", "i j"}, SplitText(text, 2, 2))
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aven.json")
	long := strings.Repeat("word ", chunkWords+10)
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"url": "https://aven.com/card", "chunk": "The Aven card is a home equity backed credit card."},
		{"url": "https://aven.com/long", "chunk": "`+long+`"},
		{"url": "https://aven.com/blank", "chunk": "  "}
	]`), 0o600))

	chunks, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, Chunk{ID: "aven-0", URL: "https://aven.com/card", Text: "The Aven card is a home equity backed credit card."}, chunks[0])
	assert.Equal(t, "https://aven.com/long", chunks[1].URL)
	assert.Equal(t, "https://aven.com/long", chunks[2].URL)
	assert.Len(t, strings.Fields(chunks[1].Text), chunkWords)
}

func TestLoadFile_PlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.txt")
	require.NoError(t, os.WriteFile(path, []byte("Payments are due monthly.\r\n\r\nCall 1-800-AVEN-HELP for support.\n\n\n"), 0o600))

	chunks, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Payments are due monthly.", chunks[0].Text)
	assert.Equal(t, "aven-1", chunks[1].ID)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "an array"}`), 0o600))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "parsing")
}
