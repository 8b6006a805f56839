package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bmolabs/bmo-agent/pkg/memory"
	"github.com/bmolabs/bmo-agent/pkg/status"
)

// fakeStore is a minimal in-memory memory.Store for handler tests.
type fakeStore struct {
	records   []memory.Record
	updateErr error
	updated   map[string]string
}

func (f *fakeStore) Add(ctx context.Context, text, userID string, metadata map[string]string, infer bool) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (f *fakeStore) Search(ctx context.Context, query, userID string, opts memory.SearchOptions) ([]memory.SearchResult, error) {
	return nil, nil
}

func (f *fakeStore) Update(ctx context.Context, id, text string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updated == nil {
		f.updated = map[string]string{}
	}
	f.updated[id] = text
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeStore) GetAll(ctx context.Context, userID string, limit int) ([]memory.Record, error) {
	return f.records, nil
}

func (f *fakeStore) Close() error { return nil }

func newTestHandler(store *fakeStore) http.Handler {
	tracker := status.NewTracker(time.UTC)
	tracker.Increment()
	tracker.Increment()
	return NewServer(store, tracker, "4869", "primary").Handler()
}

func TestListMemoriesRequiresPIN(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/memories", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/memories?pin=0000", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListMemories(t *testing.T) {
	store := &fakeStore{records: []memory.Record{
		{ID: "mem-1", Memory: "Favorite color: blue.", Metadata: map[string]string{"category": "preferences"}},
		{ID: "mem-2", Memory: "raw utterance without category"},
	}}
	handler := newTestHandler(store)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/memories?pin=4869", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body struct {
		Memories []struct {
			ID       string `json:"id"`
			Memory   string `json:"memory"`
			Category string `json:"category"`
		} `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Memories, 2)
	assert.Equal(t, "preferences", body.Memories[0].Category)
	assert.Equal(t, "uncategorized", body.Memories[1].Category)
}

func TestUpdateMemory(t *testing.T) {
	store := &fakeStore{}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPut, "/api/memories/mem-1?pin=4869",
		strings.NewReader(`{"memory": "Favorite color: green."}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Favorite color: green.", store.updated["mem-1"])
}

func TestUpdateMemoryBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{broken`},
		{"missing field", `{}`},
		{"empty memory", `{"memory": "   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestHandler(&fakeStore{})
			req := httptest.NewRequest(http.MethodPut, "/api/memories/mem-1?pin=4869", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUpdateMemoryStoreFailure(t *testing.T) {
	store := &fakeStore{updateErr: fmt.Errorf("not found")}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPut, "/api/memories/mem-1?pin=4869",
		strings.NewReader(`{"memory": "text"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status?pin=4869", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Requests int `json:"llm_requests_today"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Requests)
}

func TestOptionsPreflight(t *testing.T) {
	handler := newTestHandler(&fakeStore{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/memories", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, PUT, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
