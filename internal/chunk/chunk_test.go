package chunk_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragserver/internal/chunk"
)

func TestChunk_EmptyInputYieldsEmptySlice(t *testing.T) {
	c, err := chunk.New(chunk.DefaultConfig())
	require.NoError(t, err)
	require.Empty(t, c.Chunk(""))
	require.Empty(t, c.Chunk("   \n\t "))
}

func TestChunk_ExactWindowSizeProducesOneChunk(t *testing.T) {
	cfg := chunk.Config{WindowTokens: 16, OverlapTokens: 4, Encoding: "cl100k_base"}
	c, err := chunk.New(cfg)
	require.NoError(t, err)

	text := strings.TrimSpace(strings.Repeat("tok ", 16))
	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestChunk_OneOverWindowProducesTwoOverlappingChunks(t *testing.T) {
	cfg := chunk.Config{WindowTokens: 16, OverlapTokens: 4, Encoding: "cl100k_base"}
	c, err := chunk.New(cfg)
	require.NoError(t, err)

	// No sentence punctuation at all: forces the word-window fallback,
	// where spec.md's "exactly two chunks" boundary is deterministic.
	text := strings.Repeat("tok ", 17)
	chunks := c.Chunk(text)
	require.Len(t, chunks, 2)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, 1, chunks[1].ChunkIndex)
}

func TestChunk_ChunkIndexIsDenseAndZeroBased(t *testing.T) {
	cfg := chunk.Config{WindowTokens: 8, OverlapTokens: 2, Encoding: "cl100k_base"}
	c, err := chunk.New(cfg)
	require.NoError(t, err)

	text := strings.Repeat("word ", 50)
	chunks := c.Chunk(text)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		require.Equal(t, i, ch.ChunkIndex)
	}
}

func TestNew_RejectsOverlapGreaterThanOrEqualWindow(t *testing.T) {
	_, err := chunk.New(chunk.Config{WindowTokens: 10, OverlapTokens: 10})
	require.Error(t, err)
}
