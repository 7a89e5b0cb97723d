package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragcore/internal/model"
	appErr "github.com/xxxsen/ragcore/internal/pkg/errors"
	"github.com/xxxsen/ragcore/internal/repo"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	err     error
	failAt  int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.batches = append(f.batches, texts)
	f.mu.Unlock()
	if f.err != nil && (f.failAt == 0 || call >= f.failAt) {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
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

func (f *fakeEmbedder) ModelName() string { return "fake" }

type fakeVectorIndex struct {
	matches  []repo.Match
	queryErr error
	delErr   error

	upserts [][]*model.Chunk
	deletes []string
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, namespace string, chunks []*model.Chunk) error {
	f.upserts = append(f.upserts, chunks)
	return nil
}

func (f *fakeVectorIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter repo.Filter) ([]repo.Match, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.matches, nil
}

func (f *fakeVectorIndex) DeleteBySourceDocument(ctx context.Context, namespace, sourceDocument string) error {
	f.deletes = append(f.deletes, sourceDocument)
	return f.delErr
}

type fakeKeywordIndex struct {
	matches   []repo.Match
	searchErr error

	upserts [][]*model.Chunk
	deletes []string
}

func (f *fakeKeywordIndex) Upsert(ctx context.Context, namespace string, chunks []*model.Chunk) error {
	f.upserts = append(f.upserts, chunks)
	return nil
}

func (f *fakeKeywordIndex) Search(ctx context.Context, namespace, query string, topK int, filter repo.Filter) ([]repo.Match, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeKeywordIndex) DeleteBySourceDocument(ctx context.Context, namespace, sourceDocument string) error {
	f.deletes = append(f.deletes, sourceDocument)
	return nil
}

type fakeReranker struct {
	scores []float64
	err    error
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[:len(candidates)], nil
}

type fakeDocStore struct {
	objects map[string][]byte
}

func (f *fakeDocStore) Save(ctx context.Context, name string, data []byte) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[name] = data
	return nil
}

func (f *fakeDocStore) Open(ctx context.Context, name string) ([]byte, error) {
	data, ok := f.objects[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
	}
	return data, nil
}

func (f *fakeDocStore) Delete(ctx context.Context, name string) error {
	delete(f.objects, name)
	return nil
}

func mkMatch(id string, score float64) repo.Match {
	return repo.Match{
		Chunk: &model.Chunk{ID: id, Content: "content of " + id, Metadata: model.ChunkMetadata{SourceDocument: "doc.md"}},
		Score: score,
	}
}

func newTestService(vec *fakeVectorIndex, kw *fakeKeywordIndex, cfg RetrievalConfig) *RetrievalService {
	return NewRetrievalService(&fakeEmbedder{}, vec, kw, nil, nil, cfg)
}

func TestHybridSearchFusesOverlap(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 0.9), mkMatch("b", 0.5)}}
	kw := &fakeKeywordIndex{matches: []repo.Match{mkMatch("a", 0.8)}}
	svc := newTestService(vec, kw, RetrievalConfig{SemanticWeight: 0.7, KeywordWeight: 0.3})

	results, err := svc.HybridSearch(context.Background(), "ns", "hybrid query", 10, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "a", results[0].Chunk.ID)
	require.InDelta(t, 0.9*0.7+0.8*0.3, results[0].Score, 1e-9)
	require.Equal(t, model.RetrievalSourceHybrid, results[0].Source)

	require.Equal(t, "b", results[1].Chunk.ID)
	require.InDelta(t, 0.5*0.7, results[1].Score, 1e-9)
	require.Equal(t, model.RetrievalSourceSemantic, results[1].Source)

	require.Equal(t, 1, results[0].Rank)
	require.Equal(t, 2, results[1].Rank)
}

func TestHybridSearchKeywordOnlyScaledByWeight(t *testing.T) {
	vec := &fakeVectorIndex{}
	kw := &fakeKeywordIndex{matches: []repo.Match{mkMatch("k", 1.0)}}
	svc := newTestService(vec, kw, RetrievalConfig{SemanticWeight: 0.7, KeywordWeight: 0.3})

	results, err := svc.HybridSearch(context.Background(), "ns", "exact phrase", 10, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 0.3, results[0].Score, 1e-9)
	require.Equal(t, model.RetrievalSourceKeyword, results[0].Source)
}

func TestHybridSearchInvalidWeightsFallBack(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 1.0)}}
	kw := &fakeKeywordIndex{}
	svc := newTestService(vec, kw, RetrievalConfig{SemanticWeight: 0.6, KeywordWeight: 0.6})

	results, err := svc.HybridSearch(context.Background(), "ns", "query", 10, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 0.7, results[0].Score, 1e-9)
}

func TestHybridSearchPerCallWeights(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 1.0)}}
	svc := newTestService(vec, &fakeKeywordIndex{}, RetrievalConfig{SemanticWeight: 0.7, KeywordWeight: 0.3})

	// caller overrides the configured pair
	results, err := svc.HybridSearch(context.Background(), "ns", "query", 10, 0.5, 0.5)
	require.NoError(t, err)
	require.InDelta(t, 0.5, results[0].Score, 1e-9)

	// an invalid per-call pair resets to defaults, not to config
	results, err = svc.HybridSearch(context.Background(), "ns", "query", 10, 0.6, 0.6)
	require.NoError(t, err)
	require.InDelta(t, 0.7, results[0].Score, 1e-9)

	// zero pair falls back to config
	results, err = svc.HybridSearch(context.Background(), "ns", "query", 10, 0, 0)
	require.NoError(t, err)
	require.InDelta(t, 0.7, results[0].Score, 1e-9)
}

func TestHybridSearchWeightMonotonicity(t *testing.T) {
	scoreWith := func(t *testing.T, sw, kw float64, vecMatches, kwMatches []repo.Match, id string) float64 {
		t.Helper()
		svc := newTestService(&fakeVectorIndex{matches: vecMatches}, &fakeKeywordIndex{matches: kwMatches}, RetrievalConfig{})
		results, err := svc.HybridSearch(context.Background(), "ns", "query", 10, sw, kw)
		require.NoError(t, err)
		for _, r := range results {
			if r.Chunk.ID == id {
				return r.Score
			}
		}
		t.Fatalf("chunk %s not in results", id)
		return 0
	}

	semOnly := []repo.Match{mkMatch("s", 0.8)}
	lo := scoreWith(t, 0.6, 0.4, semOnly, nil, "s")
	hi := scoreWith(t, 0.8, 0.2, semOnly, nil, "s")
	require.GreaterOrEqual(t, hi, lo)

	kwOnly := []repo.Match{mkMatch("k", 0.8)}
	lo = scoreWith(t, 0.8, 0.2, nil, kwOnly, "k")
	hi = scoreWith(t, 0.6, 0.4, nil, kwOnly, "k")
	require.GreaterOrEqual(t, hi, lo)
}

func TestHybridSearchKeywordFailureDegrades(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 0.9)}}
	kw := &fakeKeywordIndex{searchErr: errors.New("fts down")}
	svc := newTestService(vec, kw, RetrievalConfig{})

	results, err := svc.HybridSearch(context.Background(), "ns", "query", 10, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.RetrievalSourceSemantic, results[0].Source)
}

func TestHybridSearchSemanticFailureFatal(t *testing.T) {
	vec := &fakeVectorIndex{queryErr: errors.New("pg down")}
	kw := &fakeKeywordIndex{matches: []repo.Match{mkMatch("k", 1.0)}}
	svc := newTestService(vec, kw, RetrievalConfig{})

	_, err := svc.HybridSearch(context.Background(), "ns", "query", 10, 0, 0)
	require.ErrorIs(t, err, appErr.ErrSearchFailed)
}

func TestHybridSearchEmptyQueryRejected(t *testing.T) {
	svc := newTestService(&fakeVectorIndex{}, &fakeKeywordIndex{}, RetrievalConfig{})
	_, err := svc.HybridSearch(context.Background(), "ns", "   ", 10, 0, 0)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestHybridSearchTrimsToTopK(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 0.9), mkMatch("b", 0.8), mkMatch("c", 0.7)}}
	svc := newTestService(vec, &fakeKeywordIndex{}, RetrievalConfig{})

	results, err := svc.HybridSearch(context.Background(), "ns", "query", 2, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].Chunk.ID)
	require.Equal(t, "b", results[1].Chunk.ID)
}

func TestRerankReorders(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 0.9), mkMatch("b", 0.5)}}
	kw := &fakeKeywordIndex{}
	// cross encoder disagrees with the fused order
	rr := &fakeReranker{scores: []float64{0.1, 0.95}}
	svc := NewRetrievalService(&fakeEmbedder{}, vec, kw, rr, nil, RetrievalConfig{})

	results, err := svc.HybridSearch(context.Background(), "ns", "query", 10, 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "b", results[0].Chunk.ID)
	require.InDelta(t, 0.95, results[0].Score, 1e-9)
	require.Equal(t, 1, results[0].Rank)
	require.Equal(t, "a", results[1].Chunk.ID)
	require.Equal(t, 2, results[1].Rank)
}

func TestRerankFailureKeepsFusedOrder(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 0.9), mkMatch("b", 0.5)}}
	rr := &fakeReranker{err: errors.New("rerank down")}
	svc := NewRetrievalService(&fakeEmbedder{}, vec, &fakeKeywordIndex{}, rr, nil, RetrievalConfig{})

	results, err := svc.HybridSearch(context.Background(), "ns", "query", 10, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "a", results[0].Chunk.ID)
	require.InDelta(t, 0.9*0.7, results[0].Score, 1e-9)
}

func TestRelevantContextRespectsBudget(t *testing.T) {
	long := func(id string, n int, score float64) repo.Match {
		m := mkMatch(id, score)
		m.Chunk.Content = strings.Repeat("x", n)
		return m
	}
	vec := &fakeVectorIndex{matches: []repo.Match{
		long("a", 100, 0.9),
		long("b", 100, 0.8),
		long("c", 10, 0.7),
	}}
	svc := newTestService(vec, &fakeKeywordIndex{}, RetrievalConfig{})

	// 150 fits a but not a+b; selection stops at the first overflow even
	// though c alone would still fit
	bundle, err := svc.RelevantContext(context.Background(), "ns", "query", 150)
	require.NoError(t, err)
	require.Equal(t, 3, bundle.TotalResults)
	require.Equal(t, 1, bundle.SelectedResults)
	require.Equal(t, 100, bundle.ContextLength)
	require.Equal(t, "a", bundle.Chunks[0].ID)
	require.Equal(t, 1, bundle.Chunks[0].Rank)
}

func TestRelevantContextBundleFields(t *testing.T) {
	vec := &fakeVectorIndex{matches: []repo.Match{mkMatch("a", 0.9), mkMatch("b", 0.5)}}
	svc := newTestService(vec, &fakeKeywordIndex{}, RetrievalConfig{})

	bundle, err := svc.RelevantContext(context.Background(), "ns", "the query", 10000)
	require.NoError(t, err)
	require.Equal(t, "the query", bundle.Query)
	require.Equal(t, 2, bundle.SelectedResults)
	require.Equal(t, len(bundle.Chunks[0].Content)+len(bundle.Chunks[1].Content), bundle.ContextLength)
	require.Equal(t, "doc.md", bundle.Chunks[0].SourceDocument)
}

func TestEmbedChunksAssignsByPosition(t *testing.T) {
	chunks := make([]*model.Chunk, 5)
	for i := range chunks {
		chunks[i] = &model.Chunk{ID: fmt.Sprintf("c%d", i), Content: fmt.Sprintf("%0*d", i+1, 0)}
	}
	emb := &fakeEmbedder{}
	svc := NewRetrievalService(emb, &fakeVectorIndex{}, &fakeKeywordIndex{}, nil, nil, RetrievalConfig{EmbedBatchSize: 2, EmbedWorkers: 2})

	require.NoError(t, svc.EmbedChunks(context.Background(), chunks))
	for i, ck := range chunks {
		require.Equal(t, []float32{float32(i + 1)}, ck.Embedding, "chunk %d", i)
	}
	require.Equal(t, 3, emb.calls)
}

func TestEmbedChunksErrorAborts(t *testing.T) {
	chunks := make([]*model.Chunk, 4)
	for i := range chunks {
		chunks[i] = &model.Chunk{ID: fmt.Sprintf("c%d", i), Content: "text"}
	}
	emb := &fakeEmbedder{err: errors.New("provider down"), failAt: 2}
	svc := NewRetrievalService(emb, &fakeVectorIndex{}, &fakeKeywordIndex{}, nil, nil, RetrievalConfig{EmbedBatchSize: 1, EmbedWorkers: 1})

	err := svc.EmbedChunks(context.Background(), chunks)
	require.ErrorIs(t, err, appErr.ErrEmbedFailed)
	for _, ck := range chunks {
		require.Nil(t, ck.Embedding)
	}
}

func TestStoreChunksRequiresEmbeddings(t *testing.T) {
	svc := newTestService(&fakeVectorIndex{}, &fakeKeywordIndex{}, RetrievalConfig{})
	err := svc.StoreChunks(context.Background(), "ns", []*model.Chunk{{ID: "a", Content: "x"}})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestStoreChunksWritesBothIndexes(t *testing.T) {
	vec := &fakeVectorIndex{}
	kw := &fakeKeywordIndex{}
	svc := newTestService(vec, kw, RetrievalConfig{})
	chunks := []*model.Chunk{{ID: "a", Content: "x", Embedding: []float32{1}}}

	require.NoError(t, svc.StoreChunks(context.Background(), "ns", chunks))
	require.Len(t, vec.upserts, 1)
	require.Len(t, kw.upserts, 1)
}

func TestDeleteDocumentBestEffort(t *testing.T) {
	vec := &fakeVectorIndex{delErr: errors.New("vector delete failed")}
	kw := &fakeKeywordIndex{}
	svc := newTestService(vec, kw, RetrievalConfig{})

	err := svc.DeleteDocument(context.Background(), "ns", "doc.md")
	require.Error(t, err)
	require.Equal(t, []string{"doc.md"}, vec.deletes)
	require.Equal(t, []string{"doc.md"}, kw.deletes)
}

func TestIngestDocumentFullPath(t *testing.T) {
	vec := &fakeVectorIndex{}
	kw := &fakeKeywordIndex{}
	svc := NewRetrievalService(&fakeEmbedder{}, vec, kw, nil, nil, RetrievalConfig{MaxChunkSize: 50})

	chunks, err := svc.IngestDocument(context.Background(), "ns", "one short paragraph of plain text", "doc.md", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NotEmpty(t, chunks[0].Embedding)
	require.Len(t, vec.upserts, 1)
	require.Len(t, kw.upserts, 1)
}

func TestGetDocumentRoundTrip(t *testing.T) {
	docs := &fakeDocStore{}
	svc := NewRetrievalService(&fakeEmbedder{}, &fakeVectorIndex{}, &fakeKeywordIndex{}, nil, docs, RetrievalConfig{MaxChunkSize: 50})

	_, err := svc.IngestDocument(context.Background(), "ns", "archived text", "doc.md", nil)
	require.NoError(t, err)

	data, err := svc.GetDocument(context.Background(), "ns", "doc.md")
	require.NoError(t, err)
	require.Equal(t, "archived text", string(data))

	_, err = svc.GetDocument(context.Background(), "ns", "missing.md")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestGetDocumentWithoutStore(t *testing.T) {
	svc := newTestService(&fakeVectorIndex{}, &fakeKeywordIndex{}, RetrievalConfig{})
	_, err := svc.GetDocument(context.Background(), "ns", "doc.md")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
