package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/ragcore/internal/model"
	"github.com/xxxsen/ragcore/internal/pkg/dbutil"
)

// FTSRepo is the keyword index adapter over a tsvector-backed table.
// It mirrors the vector index rows so either path can serve a chunk on
// its own.
type FTSRepo struct {
	db *sql.DB
}

func NewFTSRepo(db *sql.DB) *FTSRepo {
	return &FTSRepo{db: db}
}

func (r *FTSRepo) Upsert(ctx context.Context, namespace string, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	const query = `
		INSERT INTO chunk_fts
			(id, namespace, source_document, chunk_index, total_chunks, content, token_count, content_length, strategy, extra, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (namespace, id) DO UPDATE SET
			source_document = EXCLUDED.source_document,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			content = EXCLUDED.content,
			token_count = EXCLUDED.token_count,
			content_length = EXCLUDED.content_length,
			strategy = EXCLUDED.strategy,
			extra = EXCLUDED.extra,
			mtime = EXCLUDED.mtime
	`
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UnixMilli()
	for _, chunk := range chunks {
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
			now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search runs ranked full-text search. Scores are normalized into
// (0, 1] by the best match so they can be fused against semantic
// similarity scores.
func (r *FTSRepo) Search(ctx context.Context, namespace, query string, topK int, filter Filter) ([]Match, error) {
	cleaned := sanitizeQuery(query)
	if cleaned == "" {
		return nil, nil
	}
	sqlStr := `
		SELECT id, source_document, chunk_index, total_chunks, content, token_count, content_length, strategy, extra,
			ts_rank(tsv, plainto_tsquery('simple', $2)) AS score
		FROM chunk_fts
		WHERE namespace = $1 AND tsv @@ plainto_tsquery('simple', $2)`
	args := []interface{}{namespace, cleaned}
	sqlStr, args, err := applyFilter(sqlStr, args, filter)
	if err != nil {
		return nil, err
	}
	args = append(args, topK)
	sqlStr += fmt.Sprintf(" ORDER BY score DESC LIMIT $%d", len(args))
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches, err := scanMatches(rows)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 && matches[0].Score > 0 {
		max := matches[0].Score
		for i := range matches {
			matches[i].Score /= max
		}
	}
	return matches, nil
}

func (r *FTSRepo) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	where := map[string]interface{}{
		"namespace": namespace,
		"id in":     ids,
	}
	sqlStr, args, err := builder.BuildDelete("chunk_fts", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *FTSRepo) DeleteBySourceDocument(ctx context.Context, namespace, sourceDocument string) error {
	where := map[string]interface{}{
		"namespace":       namespace,
		"source_document": sourceDocument,
	}
	sqlStr, args, err := builder.BuildDelete("chunk_fts", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func sanitizeQuery(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var sb strings.Builder
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
