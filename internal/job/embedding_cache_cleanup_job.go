package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragcore/internal/repo"
)

const defaultCacheRetentionDays = 30

// EmbeddingCacheCleanupJob trims embedding cache rows older than the
// retention window so re-embedded content does not pin stale vectors
// forever.
type EmbeddingCacheCleanupJob struct {
	cache     *repo.EmbeddingCacheRepo
	retention time.Duration
}

func NewEmbeddingCacheCleanupJob(cache *repo.EmbeddingCacheRepo, keepDays int) *EmbeddingCacheCleanupJob {
	if keepDays <= 0 {
		keepDays = defaultCacheRetentionDays
	}
	return &EmbeddingCacheCleanupJob{
		cache:     cache,
		retention: time.Duration(keepDays) * 24 * time.Hour,
	}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return nil
	}
	cutoff := time.Now().Add(-j.retention).Unix()
	deleted, err := j.cache.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logutil.GetLogger(ctx).Info("embedding cache trimmed",
			zap.Int64("deleted", deleted), zap.Int64("cutoff", cutoff))
	}
	return nil
}
