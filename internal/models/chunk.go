package models

import "time"

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	PageNumber int    `json:"page_number"`
	ChunkID    int    `json:"chunk_id"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// ChunkEmbedding pairs a chunk with its vector.
type ChunkEmbedding struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// SearchResult is one retrieved chunk. Score is cosine similarity; Distance is 1 - Score.
type SearchResult struct {
	Chunk    Chunk   `json:"chunk"`
	Score    float64 `json:"score"`
	Distance float64 `json:"distance"`
}

type Citation struct {
	Index      int    `json:"index"`
	Source     string `json:"source"`
	PageNumber int    `json:"page_number"`
	ChunkID    int    `json:"chunk_id"`
	Preview    string `json:"preview"`
}

type Answer struct {
	Question  string         `json:"question"`
	Content   string         `json:"content"`
	Sources   []SearchResult `json:"sources"`
	Citations []Citation     `json:"citations"`
}

// Turn is one exchange of a conversation; it lives only in session memory.
type Turn struct {
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	Mode      string         `json:"mode,omitempty"`
	Sources   []SearchResult `json:"sources"`
	CreatedAt time.Time      `json:"created_at"`
}
