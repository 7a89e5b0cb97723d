package model

type RetrievalSource string

const (
	RetrievalSourceSemantic RetrievalSource = "semantic"
	RetrievalSourceKeyword  RetrievalSource = "keyword"
	RetrievalSourceHybrid   RetrievalSource = "hybrid"
)

// RetrievalResult is a per-query scoring of one chunk. It only lives
// between retrieval and context assembly.
type RetrievalResult struct {
	Chunk  *Chunk          `json:"chunk"`
	Score  float64         `json:"score"`
	Rank   int             `json:"rank"`
	Source RetrievalSource `json:"source"`
}

type ContextChunk struct {
	ID             string                 `json:"id"`
	Content        string                 `json:"content"`
	Score          float64                `json:"score"`
	Rank           int                    `json:"rank"`
	Source         RetrievalSource        `json:"source"`
	SourceDocument string                 `json:"source_document"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ContextBundle is the final budgeted payload handed to the downstream
// generation consumer.
type ContextBundle struct {
	Query           string         `json:"query"`
	TotalResults    int            `json:"total_results"`
	SelectedResults int            `json:"selected_results"`
	ContextLength   int            `json:"context_length"`
	Chunks          []ContextChunk `json:"chunks"`
}
