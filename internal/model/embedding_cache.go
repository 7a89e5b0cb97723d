package model

// EmbeddingCache is one persisted embedding, keyed by the producing
// model, the task type, and a hash of the embedded text.
type EmbeddingCache struct {
	ModelName   string    `json:"model_name"`
	TaskType    string    `json:"task_type"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"embedding"`
	CreatedAt   int64     `json:"created_at"`
}
