package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/ragcore/internal/config"
)

// IReranker scores (query, candidate) pairs with a cross-attention
// relevance model. One score per candidate, in candidate order, larger
// is more relevant.
type IReranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
}

type rerankRequest struct {
	Model string      `json:"model"`
	Pairs [][2]string `json:"pairs"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

type httpReranker struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// New builds an http cross-encoder client, or nil when no endpoint is
// configured (reranking is optional).
func New(cfg config.RerankConfig) IReranker {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpReranker{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *httpReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	pairs := make([][2]string, 0, len(candidates))
	for _, candidate := range candidates {
		pairs = append(pairs, [2]string{query, candidate})
	}
	data, err := json.Marshal(rerankRequest{Model: r.model, Pairs: pairs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Scores) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d candidates", len(out.Scores), len(candidates))
	}
	return out.Scores, nil
}
