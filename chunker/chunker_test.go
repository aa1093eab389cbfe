package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/blueprint/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func assertWellFormed(t *testing.T, pages []core.Page, chunks []core.Chunk, size int) {
	t.Helper()
	text := make(map[int]string)
	for _, p := range pages {
		text[p.Number] = p.Text
	}
	for i, c := range chunks {
		assert.Equal(t, i, c.Index, "indexes are contiguous from zero")
		assert.Equal(t, text[c.PageNumber][c.StartOffset:c.EndOffset], c.Content)
		assert.LessOrEqual(t, len(c.Content), size)
		assert.NotEmpty(t, strings.TrimSpace(c.Content))
		assert.True(t, utf8.ValidString(c.Content))
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := []Config{
		{Size: 0, Overlap: 0, Strategy: Fixed},
		{Size: 100, Overlap: -1, Strategy: Fixed},
		{Size: 100, Overlap: 100, Strategy: Fixed},
		{Size: 100, Overlap: 10, Strategy: "semantic"},
	}
	for _, cfg := range bad {
		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "%+v", cfg)
	}
}

func TestNew_DefaultsStrategy(t *testing.T) {
	c := mustChunker(t, Config{Size: 10, Overlap: 2})
	assert.Equal(t, Fixed, c.Config().Strategy)
}

func TestFixed_ShortPageIsOneChunk(t *testing.T) {
	c := mustChunker(t, DefaultConfig())
	pages := []core.Page{{Number: 1, Text: "  GENERAL NOTES  "}}

	chunks := c.Chunk(pages)
	require.Len(t, chunks, 1)
	assert.Equal(t, "GENERAL NOTES", chunks[0].Content)
	assert.Equal(t, 2, chunks[0].StartOffset)
	assert.Equal(t, 15, chunks[0].EndOffset)
}

func TestFixed_LongTextOverlaps(t *testing.T) {
	c := mustChunker(t, DefaultConfig())
	pages := []core.Page{{Number: 1, Text: strings.Repeat("abcd ", 500)}}

	chunks := c.Chunk(pages)
	require.Greater(t, len(chunks), 2)
	assertWellFormed(t, pages, chunks, DefaultSize)

	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].StartOffset, chunks[i-1].EndOffset, "consecutive chunks overlap")
		assert.Greater(t, chunks[i].StartOffset, chunks[i-1].StartOffset, "windows always advance")
	}
	assert.Equal(t, len(strings.TrimSpace(pages[0].Text)), chunks[len(chunks)-1].EndOffset)
}

func TestFixed_RuneBoundaries(t *testing.T) {
	c := mustChunker(t, Config{Size: 5, Overlap: 1, Strategy: Fixed})
	pages := []core.Page{{Number: 1, Text: strings.Repeat("é", 10)}}

	chunks := c.Chunk(pages)
	require.NotEmpty(t, chunks)
	assertWellFormed(t, pages, chunks, 5)
	assert.Equal(t, len(pages[0].Text), chunks[len(chunks)-1].EndOffset)
}

func TestChunk_IndexesSpanPages(t *testing.T) {
	c := mustChunker(t, DefaultConfig())
	pages := []core.Page{
		{Number: 1, Text: "Sheet A-101 floor plan"},
		{Number: 2, Text: "   \n\t "},
		{Number: 3, Text: "Sheet A-601 finish schedule"},
		{Number: 4, Text: "Sheet E-101 lighting"},
	}

	chunks := c.Chunk(pages)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 3, 4}, []int{chunks[0].PageNumber, chunks[1].PageNumber, chunks[2].PageNumber})
	assertWellFormed(t, pages, chunks, DefaultSize)
}

func TestChunk_Deterministic(t *testing.T) {
	pages := []core.Page{{Number: 1, Text: strings.Repeat("Provide 5/8 in. type X gypsum board. ", 120)}}
	for _, s := range []Strategy{Fixed, Sentence, Paragraph} {
		c := mustChunker(t, Config{Size: 300, Overlap: 60, Strategy: s})
		assert.Equal(t, c.Chunk(pages), c.Chunk(pages), string(s))
		assertWellFormed(t, pages, c.Chunk(pages), 300)
	}
}

func TestSentence_CarriesOverlap(t *testing.T) {
	c := mustChunker(t, Config{Size: 40, Overlap: 20, Strategy: Sentence})
	pages := []core.Page{{Number: 1, Text: "First sentence here. Second one is here. Third goes now. Fourth."}}

	chunks := c.Chunk(pages)
	var contents []string
	for _, ch := range chunks {
		contents = append(contents, ch.Content)
	}
	assert.Equal(t, []string{
		"First sentence here. Second one is here.",
		"Second one is here. Third goes now.",
		"Third goes now. Fourth.",
	}, contents)
	assertWellFormed(t, pages, chunks, 40)
}

func TestParagraph_FallsBackToFixedForOversize(t *testing.T) {
	c := mustChunker(t, Config{Size: 50, Overlap: 0, Strategy: Paragraph})
	text := "Para one.\n\nPara two is longer.\n\n" + strings.Repeat("x", 60)
	pages := []core.Page{{Number: 7, Text: text}}

	chunks := c.Chunk(pages)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Para one.\n\nPara two is longer.", chunks[0].Content)
	assert.Equal(t, strings.Repeat("x", 50), chunks[1].Content)
	assert.Equal(t, strings.Repeat("x", 10), chunks[2].Content)
	assertWellFormed(t, pages, chunks, 50)
}

func TestChunk_EmptyDocument(t *testing.T) {
	c := mustChunker(t, DefaultConfig())
	assert.Empty(t, c.Chunk(nil))
	assert.Empty(t, c.Chunk([]core.Page{{Number: 1, Text: ""}}))
}
