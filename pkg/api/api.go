// Package api exposes the memory CRUD surface used by the companion
// frontend: list memories, edit one, read runtime status. Auth is a simple
// PIN query parameter; the server is meant for a trusted LAN.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bmolabs/bmo-agent/pkg/logger"
	"github.com/bmolabs/bmo-agent/pkg/memory"
	"github.com/bmolabs/bmo-agent/pkg/status"
)

const listLimit = 5000

// Server serves the memory CRUD API for one user's store.
type Server struct {
	store   memory.Store
	tracker *status.Tracker
	pin     string
	userID  string
}

func NewServer(store memory.Store, tracker *status.Tracker, pin, userID string) *Server {
	return &Server{store: store, tracker: tracker, pin: pin, userID: userID}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("OPTIONS /api/memories", s.handleOptions)
	mux.HandleFunc("OPTIONS /api/memories/{id}", s.handleOptions)
	mux.HandleFunc("GET /api/memories", s.handleListMemories)
	mux.HandleFunc("PUT /api/memories/{id}", s.handleUpdateMemory)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return mux
}

type memoryView struct {
	ID       string `json:"id"`
	Memory   string `json:"memory"`
	Category string `json:"category"`
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	records, err := s.store.GetAll(r.Context(), s.userID, listLimit)
	if err != nil {
		logger.WarnCF("api", "Memory list failed", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch memories"})
		return
	}

	views := make([]memoryView, 0, len(records))
	for _, rec := range records {
		category := "uncategorized"
		if cat, ok := rec.DurableCategory(); ok {
			category = string(cat)
		}
		views = append(views, memoryView{ID: rec.ID, Memory: rec.Memory, Category: category})
	}

	writeJSON(w, http.StatusOK, map[string]any{"memories": views})
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing memory id"})
		return
	}

	var body struct {
		Memory string `json:"memory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	text := strings.TrimSpace(body.Memory)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or empty memory field"})
		return
	}

	if err := s.store.Update(r.Context(), id, text); err != nil {
		logger.WarnCF("api", "Memory update failed", map[string]interface{}{"id": id, "error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update memory"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "memory": text})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"llm_requests_today": s.tracker.RequestsToday(),
	})
}

func (s *Server) authorized(r *http.Request) bool {
	return s.pin != "" && r.URL.Query().Get("pin") == s.pin
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
