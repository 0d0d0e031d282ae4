package models

import "time"

// Repository identifies a code-host repository.
type Repository struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (r Repository) String() string { return r.Owner + "/" + r.Name }

// CodeChunk is the store-side metadata for one indexed code fragment.
// Embeddings live in the vector store; this row lets the dashboard and
// retention service reason about what is indexed without touching it.
type CodeChunk struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Repo      Repository `json:"repo"`
	FilePath  string     `json:"file_path"`
	ChunkType string     `json:"chunk_type"` // function, type, block
	ChunkName string     `json:"chunk_name"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Language  string     `json:"language"`
	IndexedAt time.Time  `json:"indexed_at"`
}
