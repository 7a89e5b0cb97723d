package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragcore/internal/model"
	"github.com/xxxsen/ragcore/internal/token"
)

type Strategy string

const (
	StrategyContextual Strategy = "contextual"
	StrategyFixedSize  Strategy = "fixed_size"
	StrategyMarkdown   Strategy = "markdown"
)

const (
	defaultMaxChunkSize = 400
	defaultChunkOverlap = 80
	// Neighbor context attached to each chunk is capped independently
	// of the chunk size itself.
	contextWindowTokens = 100
)

type Config struct {
	MaxChunkSize int      `json:"max_chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
	Strategy     Strategy `json:"strategy"`
}

func (c *Config) normalize() {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = defaultMaxChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.MaxChunkSize {
		c.ChunkOverlap = c.MaxChunkSize / 4
	}
	if c.Strategy == "" {
		c.Strategy = StrategyContextual
	}
}

type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	cfg.normalize()
	return &Chunker{cfg: cfg}
}

// Chunk splits content into size-bounded chunks with neighbor context.
// Chunk ids are deterministic over (source document, index, content).
func (c *Chunker) Chunk(ctx context.Context, content, sourceDocument string, extra map[string]interface{}) ([]*model.Chunk, error) {
	if strings.TrimSpace(sourceDocument) == "" {
		return nil, fmt.Errorf("source document is required")
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("source_document", sourceDocument),
		zap.String("strategy", string(c.cfg.Strategy)),
	)
	if strings.TrimSpace(content) == "" {
		logger.Debug("empty document, no chunks produced")
		return nil, nil
	}

	var chunks []*model.Chunk
	switch c.cfg.Strategy {
	case StrategyFixedSize:
		chunks = c.chunkFixed(content)
	case StrategyMarkdown:
		chunks = c.chunkSections(markdownSections(content))
	default:
		chunks = c.chunkSections(paragraphSections(content))
	}

	for i, chunk := range chunks {
		chunk.ID = chunkID(sourceDocument, i, chunk.Content)
		chunk.Metadata.SourceDocument = sourceDocument
		chunk.Metadata.ChunkIndex = i
		chunk.Metadata.TotalChunks = len(chunks)
		chunk.Metadata.TokenCount = token.Count(chunk.Content)
		chunk.Metadata.ContentLength = len(chunk.Content)
		chunk.Metadata.Strategy = string(c.cfg.Strategy)
		chunk.Metadata.Extra = extra
	}
	logger.Info("document chunked", zap.Int("total_chunks", len(chunks)))
	return chunks, nil
}

// chunkSections walks the section list accumulating tokens until the
// next section would overflow, then finalizes the buffer and seeds the
// next one with the token-level overlap tail of the finished chunk.
func (c *Chunker) chunkSections(sections []string) []*model.Chunk {
	sections = boundSections(sections, c.cfg.MaxChunkSize)
	if len(sections) == 0 {
		return nil
	}

	var chunks []*model.Chunk
	var parts []string
	bufTokens := 0
	realParts := 0 // sections in the buffer, overlap seed excluded
	firstSec := 0

	finalize := func(nextSec int) {
		if realParts == 0 {
			return
		}
		content := strings.Join(parts, "\n\n")
		chunk := &model.Chunk{Content: content}
		if firstSec > 0 {
			chunk.ContextPrefix = token.Tail(sections[firstSec-1], contextWindowTokens)
		}
		if nextSec >= 0 && nextSec < len(sections) {
			chunk.ContextSuffix = token.Head(sections[nextSec], contextWindowTokens)
		}
		chunks = append(chunks, chunk)

		parts = nil
		bufTokens = 0
		realParts = 0
		if c.cfg.ChunkOverlap > 0 {
			overlap := token.Tail(content, c.cfg.ChunkOverlap)
			if overlap != "" {
				parts = []string{overlap}
				bufTokens = token.Count(overlap)
			}
		}
	}

	for i, sec := range sections {
		secTokens := token.Count(sec)
		if realParts > 0 && bufTokens+secTokens > c.cfg.MaxChunkSize {
			finalize(i)
		}
		if realParts == 0 && bufTokens > 0 && bufTokens+secTokens > c.cfg.MaxChunkSize {
			// The overlap seed leaves no room for the section itself,
			// shrink it until the section fits.
			keep := c.cfg.MaxChunkSize - secTokens
			parts = nil
			bufTokens = 0
			if keep > 0 && len(chunks) > 0 {
				overlap := token.Tail(chunks[len(chunks)-1].Content, keep)
				if overlap != "" {
					parts = []string{overlap}
					bufTokens = token.Count(overlap)
				}
			}
		}
		if realParts == 0 {
			firstSec = i
		}
		parts = append(parts, sec)
		realParts++
		bufTokens += secTokens
	}
	finalize(-1)
	return chunks
}

// chunkFixed slices the raw token stream into consecutive windows. No
// overlap and no neighbor context.
func (c *Chunker) chunkFixed(content string) []*model.Chunk {
	tokens := token.Encode(content)
	if len(tokens) == 0 {
		return nil
	}
	var chunks []*model.Chunk
	for start := 0; start < len(tokens); start += c.cfg.MaxChunkSize {
		end := start + c.cfg.MaxChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, &model.Chunk{Content: token.Decode(tokens[start:end])})
	}
	return chunks
}

func chunkID(sourceDocument string, index int, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s:%d:%s", sourceDocument, index, hex.EncodeToString(sum[:6]))
}
