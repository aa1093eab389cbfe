package qa

import (
	"strings"
	"testing"

	"github.com/poiesic/blueprint/core"
	"github.com/stretchr/testify/assert"
)

func TestSourceIndexes(t *testing.T) {
	got := sourceIndexes([]string{"S2", "[S1] Page 3, Chunk 0", "s2 and S4", "S0", "Source 12", "sheet A-101"}, 4)
	assert.Equal(t, []int{1, 0, 3}, got)
	assert.Empty(t, sourceIndexes(nil, 3))
	assert.Empty(t, sourceIndexes([]string{"S1"}, 0))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 5) // 10 bytes
	assert.Equal(t, s, truncate(s, 10))
	assert.Equal(t, "éé", truncate(s, 5))
	assert.Equal(t, "", truncate(s, 1))
}

func TestBuildContext_CountsShownSources(t *testing.T) {
	matches := []core.ChunkMatch{
		{Chunk: &core.DocumentChunk{PageNumber: 1, ChunkIndex: 0, Content: strings.Repeat("a", 40)}},
		{Chunk: &core.DocumentChunk{PageNumber: 2, ChunkIndex: 1, Content: "b"}},
		{Chunk: &core.DocumentChunk{PageNumber: 3, ChunkIndex: 2, Content: "c"}},
	}

	full, shown := buildContext(matches, 1000)
	assert.Equal(t, 3, shown)
	assert.Contains(t, full, "[S3] Page 3, Chunk 2\nc")
	assert.Equal(t, 2, strings.Count(full, sourceSeparator))

	cut, shown := buildContext(matches, len(full)-5)
	assert.Equal(t, 2, shown, "S3 label no longer fits")
	assert.Contains(t, cut, "[S2]")

	cut, shown = buildContext(matches, 30)
	assert.Equal(t, 1, shown)
	assert.Len(t, cut, 30)

	_, shown = buildContext(matches, 10)
	assert.Zero(t, shown)
}
