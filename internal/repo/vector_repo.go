package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/ragcore/internal/model"
	"github.com/xxxsen/ragcore/internal/pkg/dbutil"
)

// Match is one ranked row from an index adapter.
type Match struct {
	Chunk *model.Chunk
	Score float64
}

// Filter narrows index queries by chunk metadata. The source_document
// key maps to its own column; every other key matches against the
// extra JSONB payload by containment.
type Filter map[string]interface{}

func applyFilter(sqlStr string, args []interface{}, filter Filter) (string, []interface{}, error) {
	if len(filter) == 0 {
		return sqlStr, args, nil
	}
	extra := make(map[string]interface{}, len(filter))
	for key, value := range filter {
		if key == "source_document" {
			args = append(args, value)
			sqlStr += fmt.Sprintf(" AND source_document = $%d", len(args))
			continue
		}
		extra[key] = value
	}
	if len(extra) > 0 {
		data, err := json.Marshal(extra)
		if err != nil {
			return "", nil, err
		}
		args = append(args, string(data))
		sqlStr += fmt.Sprintf(" AND extra @> $%d::jsonb", len(args))
	}
	return sqlStr, args, nil
}

// VectorRepo is the semantic index adapter over a pgvector-backed
// table. Pure I/O, namespace scoped: nothing here ever crosses
// namespaces.
type VectorRepo struct {
	db *sql.DB
}

func NewVectorRepo(db *sql.DB) *VectorRepo {
	return &VectorRepo{db: db}
}

func (r *VectorRepo) Upsert(ctx context.Context, namespace string, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	const query = `
		INSERT INTO chunk_vectors
			(id, namespace, source_document, chunk_index, total_chunks, content, token_count, content_length, strategy, extra, embedding, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (namespace, id) DO UPDATE SET
			source_document = EXCLUDED.source_document,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			content = EXCLUDED.content,
			token_count = EXCLUDED.token_count,
			content_length = EXCLUDED.content_length,
			strategy = EXCLUDED.strategy,
			extra = EXCLUDED.extra,
			embedding = EXCLUDED.embedding,
			mtime = EXCLUDED.mtime
	`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UnixMilli()
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", chunk.ID)
		}
		extra, err := marshalExtra(chunk.Metadata.Extra)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			chunk.ID,
			namespace,
			chunk.Metadata.SourceDocument,
			chunk.Metadata.ChunkIndex,
			chunk.Metadata.TotalChunks,
			chunk.Content,
			chunk.Metadata.TokenCount,
			chunk.Metadata.ContentLength,
			chunk.Metadata.Strategy,
			extra,
			pgvector.NewVector(chunk.Embedding),
			now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query returns the topK nearest chunks by cosine distance, scored as
// 1 - distance so larger is better.
func (r *VectorRepo) Query(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	sqlStr := `
		SELECT id, source_document, chunk_index, total_chunks, content, token_count, content_length, strategy, extra,
			1 - (embedding <=> $2) AS score
		FROM chunk_vectors
		WHERE namespace = $1`
	args := []interface{}{namespace, pgvector.NewVector(vector)}
	sqlStr, args, err := applyFilter(sqlStr, args, filter)
	if err != nil {
		return nil, err
	}
	args = append(args, topK)
	sqlStr += fmt.Sprintf(" ORDER BY embedding <=> $2 LIMIT $%d", len(args))
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatches(rows)
}

func (r *VectorRepo) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	where := map[string]interface{}{
		"namespace": namespace,
		"id in":     ids,
	}
	sqlStr, args, err := builder.BuildDelete("chunk_vectors", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *VectorRepo) DeleteBySourceDocument(ctx context.Context, namespace, sourceDocument string) error {
	where := map[string]interface{}{
		"namespace":       namespace,
		"source_document": sourceDocument,
	}
	sqlStr, args, err := builder.BuildDelete("chunk_vectors", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func marshalExtra(extra map[string]interface{}) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	return json.Marshal(extra)
}

func scanMatches(rows *sql.Rows) ([]Match, error) {
	var matches []Match
	for rows.Next() {
		chunk := &model.Chunk{}
		var extra []byte
		var score float64
		if err := rows.Scan(
			&chunk.ID,
			&chunk.Metadata.SourceDocument,
			&chunk.Metadata.ChunkIndex,
			&chunk.Metadata.TotalChunks,
			&chunk.Content,
			&chunk.Metadata.TokenCount,
			&chunk.Metadata.ContentLength,
			&chunk.Metadata.Strategy,
			&extra,
			&score,
		); err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &chunk.Metadata.Extra); err != nil {
				return nil, err
			}
		}
		matches = append(matches, Match{Chunk: chunk, Score: score})
	}
	return matches, rows.Err()
}
