package memory

import "context"

// SearchOptions narrows a store search.
type SearchOptions struct {
	Limit int
	// Categories restricts results to records whose category metadata is in
	// the set. Empty means no category filter.
	Categories []Category
	// Threshold drops results scoring below it. Zero means no floor.
	Threshold float64
}

// Store is the opaque persistent memory store. Implementations own record
// identity and concurrency; conflicting writes on the same id are assumed
// to be serialized by the store itself.
type Store interface {
	// Add persists text for userID and returns the new record id. When infer
	// is false the text must be stored verbatim, never re-summarized.
	Add(ctx context.Context, text, userID string, metadata map[string]string, infer bool) (string, error)
	Search(ctx context.Context, query, userID string, opts SearchOptions) ([]SearchResult, error)
	Update(ctx context.Context, id, text string) error
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}

// Model is the single LLM exchange the gatekeeper needs: a system
// instruction plus a JSON user payload, answered with a JSON completion.
type Model interface {
	GenerateJSON(ctx context.Context, system, user string) (string, error)
}

// Counter receives one tick per gatekeeper model request.
type Counter interface {
	Increment()
}
