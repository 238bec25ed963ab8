package core

import "context"

// Document is a unit of text ingested into a MemoryStore.
type Document struct {
	ID       string
	Source   string
	Content  string
	Metadata map[string]any
}

// MemoryStore indexes documents per namespace (usually a chat id) and
// answers keyword searches over them. Implementations may back search with
// embeddings, keywords or any heuristic.
type MemoryStore interface {
	Store(ctx context.Context, namespace string, docs ...Document) error
	Search(ctx context.Context, namespace, query string, limit int) ([]SearchResult, error)
	Clear(ctx context.Context, namespace string) error
}

// SearchResult is a document returned by MemoryStore.Search. Higher scores
// rank first.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}
