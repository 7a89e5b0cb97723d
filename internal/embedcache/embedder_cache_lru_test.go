package embedcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragcore/internal/ai"
)

type countingEmbedder struct {
	calls int
	texts int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	c.calls++
	c.texts += len(texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}
	return out, nil
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingEmbedder) ModelName() string {
	return "counting"
}

func TestLruEmbedderOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	cached := WrapLruCacheToEmbedder(inner, 100, time.Minute)

	vectors, err := cached.EmbedBatch(context.Background(), []string{"aa", "bbb"}, ai.TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{2}, vectors[0])
	require.Equal(t, []float32{3}, vectors[1])
	require.Equal(t, 1, inner.calls)

	// second batch reuses "aa" and only embeds the new text
	vectors, err = cached.EmbedBatch(context.Background(), []string{"aa", "cccc"}, ai.TaskTypeDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{2}, vectors[0])
	require.Equal(t, []float32{4}, vectors[1])
	require.Equal(t, 2, inner.calls)
	require.Equal(t, 3, inner.texts)
}

func TestLruEmbedderTaskTypeIsolation(t *testing.T) {
	inner := &countingEmbedder{}
	cached := WrapLruCacheToEmbedder(inner, 100, time.Minute)

	_, err := cached.Embed(context.Background(), "query", ai.TaskTypeDocument)
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), "query", ai.TaskTypeQuery)
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls, "different task types must not share entries")
}
