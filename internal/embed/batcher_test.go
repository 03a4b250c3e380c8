package embed_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragserver/internal/embed"
)

type fakeEmbedder struct {
	failFor   map[string]bool
	dim       int
	callCount atomic.Int32
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.callCount.Add(1)
	for _, t := range texts {
		if f.failFor[t] {
			return nil, errors.New("simulated provider failure")
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = make([]float32, f.dim)
		if f.dim > 0 && len(t) > 0 {
			out[i][0] = float32(t[0])
		}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func TestBatcher_EmbedAll_PreservesOrder(t *testing.T) {
	fe := &fakeEmbedder{dim: 4}
	b := embed.New(fe, embed.Config{BatchMin: 2, BatchMax: 2, MaxConcurrentBatches: 2, MaxRetries: 1})

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := b.EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		require.Len(t, v, 4)
		require.Equal(t, float32(texts[i][0]), v[0])
	}
}

func TestBatcher_EmbedAll_EmptyInput(t *testing.T) {
	fe := &fakeEmbedder{dim: 4}
	b := embed.New(fe, embed.DefaultConfig())
	vecs, err := b.EmbedAll(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}

func TestBatcher_HalvesBatchAndIsolatesFailingText(t *testing.T) {
	fe := &fakeEmbedder{dim: 4, failFor: map[string]bool{"bad": true}}
	b := embed.New(fe, embed.Config{BatchMin: 1, BatchMax: 4, MaxConcurrentBatches: 1, MaxRetries: 1})

	_, err := b.EmbedAll(context.Background(), []string{"ok1", "ok2", "bad", "ok3"})
	require.Error(t, err)

	var embErr *embed.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	require.Equal(t, embErr.EndIndex-embErr.StartIndex, 1)
}
