package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnavailable = errors.New("ai provider unavailable")

// Task type hints forwarded to providers that distinguish document and
// query embeddings.
const (
	TaskTypeDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    = "RETRIEVAL_QUERY"
)

type IEmbedProvider interface {
	Name() string
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error)
}

// IEmbedder is an IEmbedProvider bound to a concrete model.
type IEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error)
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

type embedder struct {
	provider IEmbedProvider
	model    string
}

func NewEmbedder(p IEmbedProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.provider.EmbedBatch(ctx, e.model, texts, taskType)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("provider %s returned %d vectors for %d texts", e.provider.Name(), len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *embedder) ModelName() string {
	return e.model
}

type ProviderFactory func(args interface{}) (IEmbedProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
