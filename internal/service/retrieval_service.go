package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragcore/internal/ai"
	"github.com/xxxsen/ragcore/internal/chunker"
	"github.com/xxxsen/ragcore/internal/model"
	appErr "github.com/xxxsen/ragcore/internal/pkg/errors"
	"github.com/xxxsen/ragcore/internal/rerank"
	"github.com/xxxsen/ragcore/internal/repo"
)

const (
	defaultSemanticWeight = 0.7
	defaultKeywordWeight  = 0.3
	weightSumTolerance    = 0.001

	defaultEmbedBatchSize = 100
	defaultEmbedWorkers   = 4
	defaultTopK           = 10
	defaultContextTopK    = 20
	defaultMaxContextLen  = 4000
)

// VectorIndex is the semantic leg of retrieval. repo.VectorRepo satisfies it.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, chunks []*model.Chunk) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter repo.Filter) ([]repo.Match, error)
	DeleteBySourceDocument(ctx context.Context, namespace, sourceDocument string) error
}

// KeywordIndex is the lexical leg of retrieval. repo.FTSRepo satisfies it.
type KeywordIndex interface {
	Upsert(ctx context.Context, namespace string, chunks []*model.Chunk) error
	Search(ctx context.Context, namespace, query string, topK int, filter repo.Filter) ([]repo.Match, error)
	DeleteBySourceDocument(ctx context.Context, namespace, sourceDocument string) error
}

// DocumentStore keeps the raw source document alongside the indexes.
// Open reports a missing document as fs.ErrNotExist.
type DocumentStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

type RetrievalConfig struct {
	MaxChunkSize   int
	ChunkOverlap   int
	Strategy       string
	EmbedBatchSize int
	EmbedWorkers   int
	SemanticWeight float64
	KeywordWeight  float64
	TopK           int
	ContextTopK    int
	SearchTimeout  time.Duration
	KeywordTimeout time.Duration
}

func (c *RetrievalConfig) normalize() {
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = defaultEmbedBatchSize
	}
	if c.EmbedWorkers <= 0 {
		c.EmbedWorkers = defaultEmbedWorkers
	}
	if c.SemanticWeight == 0 && c.KeywordWeight == 0 {
		c.SemanticWeight = defaultSemanticWeight
		c.KeywordWeight = defaultKeywordWeight
	}
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.ContextTopK <= 0 {
		c.ContextTopK = defaultContextTopK
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 10 * time.Second
	}
	if c.KeywordTimeout <= 0 {
		c.KeywordTimeout = 3 * time.Second
	}
}

type RetrievalService struct {
	chunker  *chunker.Chunker
	embedder ai.IEmbedder
	vectors  VectorIndex
	keywords KeywordIndex
	reranker rerank.IReranker
	docs     DocumentStore
	cfg      RetrievalConfig
}

func NewRetrievalService(embedder ai.IEmbedder, vectors VectorIndex, keywords KeywordIndex, reranker rerank.IReranker, docs DocumentStore, cfg RetrievalConfig) *RetrievalService {
	cfg.normalize()
	ck := chunker.New(chunker.Config{
		MaxChunkSize: cfg.MaxChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Strategy:     chunker.Strategy(cfg.Strategy),
	})
	return &RetrievalService{
		chunker:  ck,
		embedder: embedder,
		vectors:  vectors,
		keywords: keywords,
		reranker: reranker,
		docs:     docs,
		cfg:      cfg,
	}
}

func (s *RetrievalService) ChunkDocument(ctx context.Context, content, sourceDocument string, extra map[string]interface{}) ([]*model.Chunk, error) {
	if strings.TrimSpace(sourceDocument) == "" {
		return nil, fmt.Errorf("%w: source document is required", appErr.ErrInvalid)
	}
	return s.chunker.Chunk(ctx, content, sourceDocument, extra)
}

type embedBatch struct {
	start int
	texts []string
}

// EmbedChunks fills chunk.Embedding for every chunk in place. Any batch
// failure aborts the whole call and no chunk keeps a partial result.
func (s *RetrievalService) EmbedChunks(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	inputs := make([]string, len(chunks))
	for i, ck := range chunks {
		inputs[i] = ck.EmbeddingInput()
	}

	batches := make([]embedBatch, 0, len(inputs)/s.cfg.EmbedBatchSize+1)
	for start := 0; start < len(inputs); start += s.cfg.EmbedBatchSize {
		end := start + s.cfg.EmbedBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batches = append(batches, embedBatch{start: start, texts: inputs[start:end]})
	}

	workers := s.cfg.EmbedWorkers
	if workers > len(batches) {
		workers = len(batches)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs := make(chan embedBatch)
	vectors := make([][]float32, len(inputs))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				vecs, err := s.embedder.EmbedBatch(ctx, b.texts, ai.TaskTypeDocument)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					return
				}
				for j, v := range vecs {
					vectors[b.start+j] = v
				}
			}
		}()
	}
	for _, b := range batches {
		select {
		case jobs <- b:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return fmt.Errorf("%w: %v", appErr.ErrEmbedFailed, firstErr)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrEmbedFailed, err)
	}
	for i, ck := range chunks {
		ck.Embedding = vectors[i]
	}
	return nil
}

// StoreChunks writes chunks to both indexes. Embeddings must already be
// attached; a half-embedded batch is rejected before touching storage.
func (s *RetrievalService) StoreChunks(ctx context.Context, namespace string, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, ck := range chunks {
		if len(ck.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", appErr.ErrInvalid, ck.ID)
		}
	}
	if err := s.vectors.Upsert(ctx, namespace, chunks); err != nil {
		return fmt.Errorf("upsert vector index: %w", err)
	}
	if err := s.keywords.Upsert(ctx, namespace, chunks); err != nil {
		return fmt.Errorf("upsert keyword index: %w", err)
	}
	return nil
}

// IngestDocument runs the whole write path: chunk, embed, store, and
// archive the raw document when a docstore is configured.
func (s *RetrievalService) IngestDocument(ctx context.Context, namespace, content, sourceDocument string, extra map[string]interface{}) ([]*model.Chunk, error) {
	chunks, err := s.ChunkDocument(ctx, content, sourceDocument, extra)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return chunks, nil
	}
	if err := s.EmbedChunks(ctx, chunks); err != nil {
		return nil, err
	}
	if err := s.StoreChunks(ctx, namespace, chunks); err != nil {
		return nil, err
	}
	if s.docs != nil {
		if err := s.docs.Save(ctx, docObjectName(namespace, sourceDocument), []byte(content)); err != nil {
			logutil.GetLogger(ctx).Warn("archive source document failed",
				zap.String("source_document", sourceDocument), zap.Error(err))
		}
	}
	return chunks, nil
}

type fusedResult struct {
	chunk    *model.Chunk
	semantic float64
	keyword  float64
	hasSem   bool
	hasKw    bool
}

// HybridSearch runs both retrieval legs concurrently and fuses their
// scores. The keyword leg degrades to empty on failure; the semantic leg
// is required. Zero weights fall back to the configured pair.
func (s *RetrievalService) HybridSearch(ctx context.Context, namespace, query string, topK int, semanticWeight, keywordWeight float64) ([]*model.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", appErr.ErrInvalid)
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	// over-fetch so fusion has enough overlap to work with
	fetch := topK * 2
	semWeight, kwWeight := s.resolveWeights(ctx, semanticWeight, keywordWeight)

	var (
		wg         sync.WaitGroup
		semMatches []repo.Match
		semErr     error
		kwMatches  []repo.Match
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
		defer cancel()
		vec, err := s.embedder.Embed(sctx, query, ai.TaskTypeQuery)
		if err != nil {
			semErr = fmt.Errorf("embed query: %w", err)
			return
		}
		semMatches, err = s.vectors.Query(sctx, namespace, vec, fetch, nil)
		if err != nil {
			semErr = fmt.Errorf("vector query: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		kctx, cancel := context.WithTimeout(ctx, s.cfg.KeywordTimeout)
		defer cancel()
		matches, err := s.keywords.Search(kctx, namespace, query, fetch, nil)
		if err != nil {
			logutil.GetLogger(ctx).Warn("keyword search failed, degrading to semantic only", zap.Error(err))
			return
		}
		kwMatches = matches
	}()
	wg.Wait()
	if semErr != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrSearchFailed, semErr)
	}

	fused := make(map[string]*fusedResult, len(semMatches)+len(kwMatches))
	for _, m := range semMatches {
		fused[m.Chunk.ID] = &fusedResult{chunk: m.Chunk, semantic: m.Score, hasSem: true}
	}
	for _, m := range kwMatches {
		if f, ok := fused[m.Chunk.ID]; ok {
			f.keyword = m.Score
			f.hasKw = true
			continue
		}
		fused[m.Chunk.ID] = &fusedResult{chunk: m.Chunk, keyword: m.Score, hasKw: true}
	}

	results := make([]*model.RetrievalResult, 0, len(fused))
	for _, f := range fused {
		r := &model.RetrievalResult{Chunk: f.chunk}
		switch {
		case f.hasSem && f.hasKw:
			r.Score = f.semantic*semWeight + f.keyword*kwWeight
			r.Source = model.RetrievalSourceHybrid
		case f.hasSem:
			r.Score = f.semantic * semWeight
			r.Source = model.RetrievalSourceSemantic
		default:
			r.Score = f.keyword * kwWeight
			r.Source = model.RetrievalSourceKeyword
		}
		results = append(results, r)
	}
	sortResults(results)

	results = s.maybeRerank(ctx, query, results)
	if len(results) > topK {
		results = results[:topK]
	}
	for i, r := range results {
		r.Rank = i + 1
	}
	return results, nil
}

// maybeRerank rescores candidates with the cross encoder. Failure keeps
// the fused order untouched.
func (s *RetrievalService) maybeRerank(ctx context.Context, query string, results []*model.RetrievalResult) []*model.RetrievalResult {
	if s.reranker == nil || len(results) < 2 {
		return results
	}
	candidates := make([]string, len(results))
	for i, r := range results {
		candidates[i] = r.Chunk.Content
	}
	scores, err := s.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		logutil.GetLogger(ctx).Warn("rerank failed, keeping fused order", zap.Error(err))
		return results
	}
	for i, r := range results {
		r.Score = scores[i]
	}
	sortResults(results)
	return results
}

// RelevantContext assembles a character-budgeted context bundle from the
// best hybrid matches. Selection is greedy in score order and stops at
// the first chunk that would overflow the budget.
func (s *RetrievalService) RelevantContext(ctx context.Context, namespace, query string, maxContextLength int) (*model.ContextBundle, error) {
	if maxContextLength <= 0 {
		maxContextLength = defaultMaxContextLen
	}
	results, err := s.HybridSearch(ctx, namespace, query, s.cfg.ContextTopK, 0, 0)
	if err != nil {
		return nil, err
	}

	bundle := &model.ContextBundle{
		Query:        query,
		TotalResults: len(results),
		Chunks:       make([]model.ContextChunk, 0, len(results)),
	}
	used := 0
	for _, r := range results {
		if used+len(r.Chunk.Content) > maxContextLength {
			break
		}
		used += len(r.Chunk.Content)
		bundle.Chunks = append(bundle.Chunks, model.ContextChunk{
			ID:             r.Chunk.ID,
			Content:        r.Chunk.Content,
			Score:          r.Score,
			Rank:           len(bundle.Chunks) + 1,
			Source:         r.Source,
			SourceDocument: r.Chunk.Metadata.SourceDocument,
			Metadata:       r.Chunk.Metadata.Extra,
		})
	}
	bundle.SelectedResults = len(bundle.Chunks)
	bundle.ContextLength = used
	return bundle, nil
}

// DeleteDocument removes a document from every store it was written to.
// Each target is attempted regardless of earlier failures.
func (s *RetrievalService) DeleteDocument(ctx context.Context, namespace, sourceDocument string) error {
	if strings.TrimSpace(sourceDocument) == "" {
		return fmt.Errorf("%w: source document is required", appErr.ErrInvalid)
	}
	var errs []error
	if err := s.vectors.DeleteBySourceDocument(ctx, namespace, sourceDocument); err != nil {
		errs = append(errs, fmt.Errorf("vector index: %w", err))
	}
	if err := s.keywords.DeleteBySourceDocument(ctx, namespace, sourceDocument); err != nil {
		errs = append(errs, fmt.Errorf("keyword index: %w", err))
	}
	if s.docs != nil {
		if err := s.docs.Delete(ctx, docObjectName(namespace, sourceDocument)); err != nil {
			errs = append(errs, fmt.Errorf("doc store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetDocument returns the archived raw content of a document from the
// doc store.
func (s *RetrievalService) GetDocument(ctx context.Context, namespace, sourceDocument string) ([]byte, error) {
	if strings.TrimSpace(sourceDocument) == "" {
		return nil, fmt.Errorf("%w: source document is required", appErr.ErrInvalid)
	}
	if s.docs == nil {
		return nil, fmt.Errorf("%w: no document store configured", appErr.ErrNotFound)
	}
	data, err := s.docs.Open(ctx, docObjectName(namespace, sourceDocument))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: document %s", appErr.ErrNotFound, sourceDocument)
		}
		return nil, err
	}
	return data, nil
}

// resolveWeights returns usable fusion weights for one query. An unset
// pair takes the configured weights; a pair that does not sum to 1
// within tolerance falls back to the defaults.
func (s *RetrievalService) resolveWeights(ctx context.Context, sw, kw float64) (float64, float64) {
	if sw == 0 && kw == 0 {
		sw, kw = s.cfg.SemanticWeight, s.cfg.KeywordWeight
	}
	if math.Abs(sw+kw-1.0) > weightSumTolerance {
		logutil.GetLogger(ctx).Warn("fusion weights do not sum to 1, using defaults",
			zap.Float64("semantic_weight", sw), zap.Float64("keyword_weight", kw))
		return defaultSemanticWeight, defaultKeywordWeight
	}
	return sw, kw
}

func sortResults(results []*model.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}

func docObjectName(namespace, sourceDocument string) string {
	return namespace + "/" + sourceDocument
}
