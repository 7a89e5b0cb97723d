package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/ragcore/internal/ai"
	"github.com/xxxsen/ragcore/internal/config"
	"github.com/xxxsen/ragcore/internal/docstore"
	"github.com/xxxsen/ragcore/internal/embedcache"
	"github.com/xxxsen/ragcore/internal/handler"
	"github.com/xxxsen/ragcore/internal/job"
	"github.com/xxxsen/ragcore/internal/middleware"
	"github.com/xxxsen/ragcore/internal/rerank"
	"github.com/xxxsen/ragcore/internal/repo"
	"github.com/xxxsen/ragcore/internal/schedule"
	"github.com/xxxsen/ragcore/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ragcore",
		Short: "ragcore retrieval server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run ragcore server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			db, err := repo.Open(cfg.DB)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			if err := repo.ApplyMigrations(db, cfg.AI.EmbeddingDim); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, db)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildEmbedder(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.AI.Providers))
	for _, pc := range cfg.AI.Providers {
		provider, err := ai.NewProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init provider %s: %w", pc.Provider, err)
		}
		entries = append(entries, ai.EmbedderEntry{
			Name:     pc.Provider + "/" + pc.Model,
			Embedder: ai.NewEmbedder(provider, pc.Model),
		})
	}
	embedder := ai.NewGroupEmbedder(entries)
	if embedder == nil {
		return nil, fmt.Errorf("no embed providers configured")
	}
	if cfg.EmbedCache.EnableDB && cacheRepo != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	}
	embedder = embedcache.WrapLruCacheToEmbedder(
		embedder,
		cfg.EmbedCache.LruSize,
		time.Duration(cfg.EmbedCache.LruTTLMinutes)*time.Minute,
	)
	return embedder, nil
}

func runServer(cfg *config.Config, db *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("strategy", cfg.Engine.Strategy),
		zap.String("doc_store", cfg.DocStore.Type),
	)

	vectorRepo := repo.NewVectorRepo(db)
	ftsRepo := repo.NewFTSRepo(db)
	cacheRepo := repo.NewEmbeddingCacheRepo(db)

	embedder, err := buildEmbedder(cfg, cacheRepo)
	if err != nil {
		return err
	}
	reranker := rerank.New(cfg.Rerank)

	var docs service.DocumentStore
	if cfg.DocStore.Type != "" {
		store, err := docstore.New(cfg.DocStore)
		if err != nil {
			return fmt.Errorf("init doc store: %w", err)
		}
		docs = store
	}

	retrievalService := service.NewRetrievalService(embedder, vectorRepo, ftsRepo, reranker, docs, service.RetrievalConfig{
		MaxChunkSize:   cfg.Engine.MaxChunkSize,
		ChunkOverlap:   cfg.Engine.ChunkOverlap,
		Strategy:       cfg.Engine.Strategy,
		EmbedBatchSize: cfg.Engine.EmbedBatchSize,
		EmbedWorkers:   cfg.Engine.EmbedWorkers,
		SemanticWeight: cfg.Engine.SemanticWeight,
		KeywordWeight:  cfg.Engine.KeywordWeight,
		TopK:           cfg.Engine.TopK,
		ContextTopK:    cfg.Engine.ContextTopK,
		SearchTimeout:  time.Duration(cfg.Engine.SearchTimeoutSeconds) * time.Second,
		KeywordTimeout: time.Duration(cfg.Engine.KeywordTimeoutSeconds) * time.Second,
	})

	deps := handler.RouterDeps{
		Documents: handler.NewDocumentHandler(retrievalService),
		Search:    handler.NewSearchHandler(retrievalService),
	}

	extraMiddlewares := []gin.HandlerFunc{
		middleware.CORS(nil),
		gzip.Gzip(gzip.DefaultCompression),
	}
	if cfg.RateLimitWindowMS > 0 {
		extraMiddlewares = append(extraMiddlewares,
			middleware.RateLimit(time.Duration(cfg.RateLimitWindowMS)*time.Millisecond))
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(extraMiddlewares...),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler(ctx)
	if cfg.EmbedCache.EnableDB {
		cleanup := job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.EmbedCache.DBKeepDays)
		if err := scheduler.AddJob(cleanup, cfg.EmbedCache.CleanupSpec); err != nil {
			return fmt.Errorf("schedule cleanup job: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
