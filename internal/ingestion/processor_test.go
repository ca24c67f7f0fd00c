package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextPacksSentences(t *testing.T) {
	p := &Processor{chunkSize: 80, chunkOverlap: 20}

	text := "The first sentence is short. The second sentence is also short. " +
		"The third sentence pushes the chunk well past its byte limit for sure. " +
		"The fourth sentence lands in a later chunk."

	chunks := p.chunkText(text)
	require.Greater(t, len(chunks), 1)

	// no chunk cuts mid-sentence
	for _, c := range chunks {
		assert.True(t, strings.HasSuffix(strings.TrimSpace(c), "."), "chunk must end on a sentence: %q", c)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	p := &Processor{chunkSize: 100, chunkOverlap: 10}
	assert.Nil(t, p.chunkText(""))
}

func TestChunkTextSingleChunk(t *testing.T) {
	p := &Processor{chunkSize: 1000, chunkOverlap: 100}
	chunks := p.chunkText("One short sentence.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "One short sentence.", chunks[0])
}

func TestSplitWords(t *testing.T) {
	out := splitWords("a b c d e", 2)
	assert.Equal(t, []string{"a b", "c d", "e"}, out)

	assert.Nil(t, splitWords("", 2))
}

func TestCleanHTMLStripsChrome(t *testing.T) {
	p := &Processor{}
	html := `<html><head><title>Guide</title></head><body>
		<nav>menu</nav>
		<script>var x = 1;</script>
		<p>Useful content here.</p>
		<footer>copyright</footer>
	</body></html>`

	text := p.cleanHTML(html)
	assert.Contains(t, text, "Useful content here.")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "var x = 1;")
	assert.NotContains(t, text, "copyright")
}

func TestExtractTitle(t *testing.T) {
	p := &Processor{}

	assert.Equal(t, "Guide", p.extractTitle("<html><head><title>Guide</title></head><body></body></html>"))
	assert.Equal(t, "Heading", p.extractTitle("<html><body><h1>Heading</h1></body></html>"))
	assert.Equal(t, "Untitled", p.extractTitle("<html><body><p>no title</p></body></html>"))
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, looksLikeHTML("<!DOCTYPE html><html></html>"))
	assert.True(t, looksLikeHTML("<body>hi</body>"))
	assert.False(t, looksLikeHTML("plain text about <things>"))
}

func TestSummaryOf(t *testing.T) {
	assert.Equal(t, "short", summaryOf("short"))
	long := strings.Repeat("x", 500)
	assert.Len(t, summaryOf(long), 280)
}
