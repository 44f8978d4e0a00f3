package http

import (
	"encoding/json"
	"net/http"

	"github.com/meshworks/agentmesh/internal/domain/agent"
)

// ListAgents returns all agents with their current state.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := h.Pool.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetAgent returns one agent record.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Pool.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SpawnAgent creates an agent from a raw config.
func (h *Handlers) SpawnAgent(w http.ResponseWriter, r *http.Request) {
	cfg, ok := readJSON[agent.Config](w, r)
	if !ok {
		return
	}

	rec, err := h.Pool.Spawn(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, err, "failed to spawn agent")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// RegisterAgent adopts a runtime that was launched outside the pool.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	cfg, ok := readJSON[agent.Config](w, r)
	if !ok {
		return
	}

	rec, err := h.Pool.Register(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, err, "failed to register agent")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type stopRequest struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// StopAgent shuts an agent down, gracefully by default. force kills the
// runtime without waiting for in-flight tasks.
func (h *Handlers) StopAgent(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req) // body optional
	if req.Reason == "" {
		req.Reason = "requested via API"
	}

	if err := h.Pool.Stop(r.Context(), urlParam(r, "id"), req.Reason, req.Force); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// PauseAgent suspends task intake for an agent.
func (h *Handlers) PauseAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Pool.Pause(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeAgent returns a paused agent to service.
func (h *Handlers) ResumeAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Pool.Resume(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// RestartAgent tears down and relaunches an agent's runtime.
func (h *Handlers) RestartAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Pool.Restart(r.Context(), urlParam(r, "id"), "requested via API"); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarting"})
}

// ArchiveAgent moves a dead agent to the archived state.
func (h *Handlers) ArchiveAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.Pool.Archive(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// AgentActivity returns an agent's recent activity log.
func (h *Handlers) AgentActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Pool.Activity(r.Context(), urlParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
