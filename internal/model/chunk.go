package model

// ChunkMetadata carries the fields the engine itself depends on.
// Caller-supplied tags go into Extra untouched.
type ChunkMetadata struct {
	SourceDocument string                 `json:"source_document"`
	ChunkIndex     int                    `json:"chunk_index"`
	TotalChunks    int                    `json:"total_chunks"`
	TokenCount     int                    `json:"token_count"`
	ContentLength  int                    `json:"content_length"`
	Strategy       string                 `json:"strategy"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// Chunk is the smallest retrievable unit of a source document.
// ContextPrefix/ContextSuffix enrich the embedding input only; they are
// not part of the chunk identity.
type Chunk struct {
	ID            string        `json:"id"`
	Content       string        `json:"content"`
	ContextPrefix string        `json:"context_prefix,omitempty"`
	ContextSuffix string        `json:"context_suffix,omitempty"`
	Metadata      ChunkMetadata `json:"metadata"`
	Embedding     []float32     `json:"-"`
}

// EmbeddingInput is the text handed to the embedding provider for this
// chunk: neighbor context folded around the content.
func (c *Chunk) EmbeddingInput() string {
	text := c.Content
	if c.ContextPrefix != "" {
		text = c.ContextPrefix + " " + text
	}
	if c.ContextSuffix != "" {
		text = text + " " + c.ContextSuffix
	}
	return text
}
