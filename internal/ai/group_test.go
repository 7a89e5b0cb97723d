package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	name string
	err  error
	dim  int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) ModelName() string {
	return f.name
}

func TestGroupEmbedderFallback(t *testing.T) {
	g := NewGroupEmbedder([]EmbedderEntry{
		{Name: "broken", Embedder: &fakeEmbedder{name: "broken", err: errors.New("boom")}},
		{Name: "ok", Embedder: &fakeEmbedder{name: "ok", dim: 4}},
	})
	vectors, err := g.EmbedBatch(context.Background(), []string{"a", "b"}, TaskTypeDocument)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.Len(t, vectors[0], 4)
	require.Equal(t, "broken|ok", g.ModelName())
}

func TestGroupEmbedderAllFail(t *testing.T) {
	boom := errors.New("boom")
	g := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: &fakeEmbedder{name: "a", err: errors.New("first")}},
		{Name: "b", Embedder: &fakeEmbedder{name: "b", err: boom}},
	})
	_, err := g.EmbedBatch(context.Background(), []string{"x"}, TaskTypeQuery)
	require.ErrorIs(t, err, boom, "last error wins")
}
