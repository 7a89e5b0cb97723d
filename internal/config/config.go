package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type ProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Providers    []ProviderConfig `json:"providers"`
	EmbeddingDim int              `json:"embedding_dim"`
}

type EmbedCacheConfig struct {
	LruSize       int  `json:"lru_size"`
	LruTTLMinutes int  `json:"lru_ttl_minutes"`
	EnableDB      bool `json:"enable_db"`
	DBKeepDays    int  `json:"db_keep_days"`
	CleanupSpec   string `json:"cleanup_spec"`
}

type RerankConfig struct {
	Endpoint       string `json:"endpoint"`
	Model          string `json:"model"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type EngineConfig struct {
	MaxChunkSize          int     `json:"max_chunk_size"`
	ChunkOverlap          int     `json:"chunk_overlap"`
	Strategy              string  `json:"strategy"`
	EmbedBatchSize        int     `json:"embed_batch_size"`
	EmbedWorkers          int     `json:"embed_workers"`
	SemanticWeight        float64 `json:"semantic_weight"`
	KeywordWeight         float64 `json:"keyword_weight"`
	TopK                  int     `json:"top_k"`
	ContextTopK           int     `json:"context_top_k"`
	SearchTimeoutSeconds  int     `json:"search_timeout_seconds"`
	KeywordTimeoutSeconds int     `json:"keyword_timeout_seconds"`
}

type DocStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type Config struct {
	Port            int              `json:"port"`
	LogConfig       logger.LogConfig `json:"log_config"`
	DB              DatabaseConfig   `json:"db"`
	AI              AIConfig         `json:"ai"`
	EmbedCache      EmbedCacheConfig `json:"embed_cache"`
	Rerank          RerankConfig     `json:"rerank"`
	Engine          EngineConfig     `json:"engine"`
	DocStore        DocStoreConfig   `json:"doc_store"`
	RateLimitWindowMS int            `json:"rate_limit_window_ms"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.DB.DSN == "" && cfg.DB.Host == "" {
		return nil, fmt.Errorf("db.dsn or db.host is required")
	}
	if len(cfg.AI.Providers) == 0 {
		return nil, fmt.Errorf("ai.providers is required")
	}
	for i, p := range cfg.AI.Providers {
		if p.Provider == "" || p.Model == "" {
			return nil, fmt.Errorf("ai.providers[%d]: provider and model are required", i)
		}
	}
	if cfg.AI.EmbeddingDim == 0 {
		cfg.AI.EmbeddingDim = 768
	}
	if cfg.AI.EmbeddingDim < 0 {
		return nil, fmt.Errorf("ai.embedding_dim must be positive")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.EmbedCache.LruSize == 0 {
		cfg.EmbedCache.LruSize = 10000
	}
	if cfg.EmbedCache.LruTTLMinutes == 0 {
		cfg.EmbedCache.LruTTLMinutes = 120
	}
	if cfg.EmbedCache.DBKeepDays == 0 {
		cfg.EmbedCache.DBKeepDays = 30
	}
	if cfg.EmbedCache.CleanupSpec == "" {
		cfg.EmbedCache.CleanupSpec = "30 3 * * *"
	}
	return &cfg, nil
}
