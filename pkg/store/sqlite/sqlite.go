// Package sqlite persists memories in a local SQLite database. It is the
// default store backend when no vector store is configured; search ranks by
// token overlap between the query and the stored text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bmolabs/bmo-agent/pkg/memory"
)

// Store implements memory.Store on modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

// New creates/opens the memory database at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention under concurrent background writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			body TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS memories_user_idx ON memories(user_id, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

// Add stores text verbatim; the infer flag is accepted for contract parity
// but this backend never re-summarizes content.
func (s *Store) Add(ctx context.Context, text, userID string, metadata map[string]string, infer bool) (string, error) {
	_ = infer
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("memory text is empty")
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal memory metadata: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, body, metadata_json, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, text, string(raw), now, now)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

func (s *Store) Search(ctx context.Context, query, userID string, opts memory.SearchOptions) ([]memory.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 25
	}

	records, err := s.GetAll(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	allowed := map[memory.Category]bool{}
	for _, c := range opts.Categories {
		allowed[c] = true
	}

	queryTokens := tokenize(query)
	results := make([]memory.SearchResult, 0, len(records))
	for _, rec := range records {
		if len(allowed) > 0 {
			cat, ok := rec.DurableCategory()
			if !ok || !allowed[cat] {
				continue
			}
		}
		score := overlapScore(queryTokens, tokenize(rec.Memory))
		if score < opts.Threshold {
			continue
		}
		// Unfiltered searches drop zero-overlap rows; category-filtered
		// searches keep them so a broad profile query still returns the
		// durable set, recency-ordered.
		if score <= 0 && len(allowed) == 0 {
			continue
		}
		results = append(results, memory.SearchResult{Record: rec, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (s *Store) Update(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("memory text is empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET body = ?, updated_at_ms = ? WHERE id = ?`,
		text, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("memory %s not found", id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// GetAll returns records for userID, most recent first. limit <= 0 means
// no limit.
func (s *Store) GetAll(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	q := `SELECT id, body, metadata_json FROM memories WHERE user_id = ? ORDER BY created_at_ms DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	out := []memory.Record{}
	for rows.Next() {
		var rec memory.Record
		var rawMeta string
		if err := rows.Scan(&rec.ID, &rec.Memory, &rawMeta); err != nil {
			return nil, err
		}
		rec.Metadata = map[string]string{}
		if rawMeta != "" {
			_ = json.Unmarshal([]byte(rawMeta), &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func tokenize(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?:;\"'")
		if len(f) < 2 {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

// overlapScore is the fraction of query tokens present in the record text.
func overlapScore(query, body map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if _, ok := body[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
