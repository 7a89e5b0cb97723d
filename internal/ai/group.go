package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// groupEmbedder tries each embedder in order and returns the first
// success. Entries are usually different providers of the same model
// family, so mixed dimensionality is the caller's problem.
type groupEmbedder struct {
	items []EmbedderEntry
}

func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Embedder
	}
	return &groupEmbedder{items: items}
}

func (g *groupEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.EmbedBatch(ctx, texts, taskType)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return nil, lastErr
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name == "" {
			continue
		}
		names = append(names, item.Name)
	}
	return strings.Join(names, "|")
}
