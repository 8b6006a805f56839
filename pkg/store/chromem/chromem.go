// Package chromem backs the memory store with chromem-go, a pure Go
// embedded vector database. Embeddings are produced by the caller-supplied
// Embedder; the store itself never talks to a model.
package chromem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/bmolabs/bmo-agent/pkg/memory"
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store implements memory.Store over per-user chromem collections.
type Store struct {
	db       *chromem.DB
	embedder Embedder

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	// chromem has no list-all operation, so the adapter keeps its own
	// id index per user for GetAll and update bookkeeping.
	index map[string][]string
	idGen func() string
}

// New creates an in-memory chromem store.
func New(embedder Embedder, idGen func() string) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &Store{
		db:          chromem.NewDB(),
		embedder:    embedder,
		collections: map[string]*chromem.Collection{},
		index:       map[string][]string{},
		idGen:       idGen,
	}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	name := "user_" + userID
	if userID == "" {
		name = "global"
	}
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// Add stores text verbatim with its embedding. infer is accepted for
// contract parity; this backend never rewrites content.
func (s *Store) Add(ctx context.Context, text, userID string, metadata map[string]string, infer bool) (string, error) {
	_ = infer
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("memory text is empty")
	}

	col, err := s.collection(userID)
	if err != nil {
		return "", err
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed memory: %w", err)
	}

	meta := map[string]string{}
	for k, v := range metadata {
		meta[k] = v
	}

	id := s.idGen()
	if err := col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: vec,
		Metadata:  meta,
	}); err != nil {
		return "", fmt.Errorf("add document: %w", err)
	}

	s.mu.Lock()
	s.index[userID] = append(s.index[userID], id)
	s.mu.Unlock()
	return id, nil
}

func (s *Store) Search(ctx context.Context, query, userID string, opts memory.SearchOptions) ([]memory.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 25
	}

	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Category filtering happens after the query; chromem's where clause
	// only supports single-value equality.
	n := count
	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	allowed := map[memory.Category]bool{}
	for _, c := range opts.Categories {
		allowed[c] = true
	}

	out := make([]memory.SearchResult, 0, len(results))
	for _, res := range results {
		score := float64(res.Similarity)
		if score < opts.Threshold {
			continue
		}
		rec := memory.Record{ID: res.ID, Memory: res.Content, Metadata: res.Metadata}
		if len(allowed) > 0 {
			cat, ok := rec.DurableCategory()
			if !ok || !allowed[cat] {
				continue
			}
		}
		out = append(out, memory.SearchResult{Record: rec, Score: score})
		if len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Update replaces the document text, preserving id and metadata. AddDocument
// overwrites an existing id, so the replace is a single write and a failure
// anywhere leaves the original record in place.
func (s *Store) Update(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("memory text is empty")
	}

	col, _, err := s.findCollection(id)
	if err != nil {
		return err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("memory %s not found: %w", id, err)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   text,
		Embedding: vec,
		Metadata:  doc.Metadata,
	}); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	col, userID, err := s.findCollection(id)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	s.mu.Lock()
	ids := s.index[userID]
	for i, existing := range ids {
		if existing == id {
			s.index[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// GetAll returns records for userID in insertion order. limit <= 0 means
// no limit.
func (s *Store) GetAll(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	col, err := s.collection(userID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := append([]string{}, s.index[userID]...)
	s.mu.RUnlock()

	out := make([]memory.Record, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, memory.Record{ID: doc.ID, Memory: doc.Content, Metadata: doc.Metadata})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) findCollection(id string) (*chromem.Collection, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for userID, ids := range s.index {
		for _, existing := range ids {
			if existing == id {
				return s.collections[userID], userID, nil
			}
		}
	}
	return nil, "", fmt.Errorf("memory %s not found", id)
}
