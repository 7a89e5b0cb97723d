package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragcore/internal/ai"
	"github.com/xxxsen/ragcore/internal/model"
	"github.com/xxxsen/ragcore/internal/repo"
)

func WrapDBCacheToEmbedder(e ai.IEmbedder, cacheRepo *repo.EmbeddingCacheRepo) ai.IEmbedder {
	if e == nil || cacheRepo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: cacheRepo}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo *repo.EmbeddingCacheRepo
}

func (d *dbEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	hits := 0
	for i, text := range texts {
		_, contentHash, modelName := buildCacheKey(d.next.ModelName(), taskType, text)
		values, ok, err := d.repo.Get(ctx, modelName, taskType, contentHash)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = values
			hits++
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if hits > 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.Int("hits", hits), zap.Int("total", len(texts)))
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vectors, err := d.next.EmbedBatch(ctx, missTexts, taskType)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	for pos, i := range missIdx {
		out[i] = vectors[pos]
		_, contentHash, modelName := buildCacheKey(d.next.ModelName(), taskType, texts[i])
		if err := d.repo.Save(ctx, &model.EmbeddingCache{
			ModelName:   modelName,
			TaskType:    taskType,
			ContentHash: contentHash,
			Embedding:   vectors[pos],
			CreatedAt:   now,
		}); err != nil {
			logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
		}
	}
	return out, nil
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vectors, err := d.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (d *dbEmbedder) ModelName() string {
	if d == nil || d.next == nil {
		return ""
	}
	return d.next.ModelName()
}
