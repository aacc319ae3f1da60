package models

// Document is a named blob of raw text submitted for ingestion.
type Document struct {
	Name    string
	RawText string
}

// Chunk represents a slice of a document together with its embedding
type Chunk struct {
	ID         string    `json:"id,omitempty"`
	Content    string    `json:"content"`
	SourceName string    `json:"source_name"`
	Index      int       `json:"index"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// SearchResult is a stored chunk ranked against a query
type SearchResult struct {
	Chunk      Chunk
	Similarity float32
}

type PromptResponse struct {
	Query   string `json:"query"`
	Mode    Mode   `json:"mode"`
	Content string `json:"answer"`
}
