package http

import (
	"encoding/json"
	"net/http"
	"time"
)

type rememberRequest struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	TTLSeconds int             `json:"ttl_seconds,omitempty"`
}

// RememberMemory stores a value in the agent's key-value memory.
func (h *Handlers) RememberMemory(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[rememberRequest](w, r)
	if !ok {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := h.Memory.Remember(r.Context(), urlParam(r, "id"), req.Key, req.Value, ttl); err != nil {
		writeDomainError(w, err, "failed to store memory")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

// RecallMemory reads a value from the agent's key-value memory.
func (h *Handlers) RecallMemory(w http.ResponseWriter, r *http.Request) {
	val, found, err := h.Memory.Recall(r.Context(), urlParam(r, "id"), urlParam(r, "key"))
	if err != nil {
		writeDomainError(w, err, "failed to read memory")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"value": val})
}

// ForgetMemory removes one key from the agent's key-value memory.
func (h *Handlers) ForgetMemory(w http.ResponseWriter, r *http.Request) {
	if err := h.Memory.Forget(r.Context(), urlParam(r, "id"), urlParam(r, "key")); err != nil {
		writeDomainError(w, err, "failed to delete memory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type memorizeRequest struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MemorizeContent adds content to the agent's semantic memory.
func (h *Handlers) MemorizeContent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[memorizeRequest](w, r)
	if !ok {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	id, err := h.Memory.Memorize(r.Context(), urlParam(r, "id"), req.Content, req.Metadata)
	if err != nil {
		writeDomainError(w, err, "failed to index content")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// SearchMemory queries the agent's semantic memory by similarity.
func (h *Handlers) SearchMemory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	results, err := h.Memory.Search(r.Context(), urlParam(r, "id"), query, queryInt(r, "top_k", 0))
	if err != nil {
		writeDomainError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// AgentMetrics returns an agent's resource samples since a given time.
func (h *Handlers) AgentMetrics(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}

	samples, err := h.Metrics.History(r.Context(), urlParam(r, "id"), since)
	if err != nil {
		writeDomainError(w, err, "failed to list metrics")
		return
	}
	writeJSON(w, http.StatusOK, samples)
}
