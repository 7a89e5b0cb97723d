package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragcore/internal/model"
	"github.com/xxxsen/ragcore/internal/repo"
	"github.com/xxxsen/ragcore/test/testutil"
)

func TestIndexUpsertIdempotent(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	ctx := context.Background()
	vectors := repo.NewVectorRepo(db)
	fts := repo.NewFTSRepo(db)
	const ns = "upsert-test"

	chunk := &model.Chunk{
		ID:        "chunk-1",
		Content:   "first version",
		Embedding: make([]float32, testutil.EmbeddingDim),
		Metadata: model.ChunkMetadata{
			SourceDocument: "doc.md",
			ChunkIndex:     0,
			TotalChunks:    1,
			TokenCount:     2,
			ContentLength:  len("first version"),
			Strategy:       "structure",
		},
	}
	chunk.Embedding[0] = 1

	require.NoError(t, vectors.Upsert(ctx, ns, []*model.Chunk{chunk}))
	require.NoError(t, fts.Upsert(ctx, ns, []*model.Chunk{chunk}))

	chunk.Content = "second version"
	chunk.Metadata.ContentLength = len(chunk.Content)
	require.NoError(t, vectors.Upsert(ctx, ns, []*model.Chunk{chunk}))
	require.NoError(t, fts.Upsert(ctx, ns, []*model.Chunk{chunk}))

	for _, table := range []string{"chunk_vectors", "chunk_fts"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE namespace = $1 AND id = $2", ns, chunk.ID).Scan(&count)
		require.NoError(t, err, table)
		require.Equal(t, 1, count, table)

		var content string
		err = db.QueryRow("SELECT content FROM "+table+" WHERE namespace = $1 AND id = $2", ns, chunk.ID).Scan(&content)
		require.NoError(t, err, table)
		require.Equal(t, "second version", content, table)
	}

	require.NoError(t, vectors.DeleteBySourceDocument(ctx, ns, "doc.md"))
	require.NoError(t, fts.DeleteBySourceDocument(ctx, ns, "doc.md"))
}
