package http

import (
	"net/http"

	"github.com/meshworks/agentmesh/internal/domain/snapshot"
)

// CaptureSnapshot records an agent's current state as a new snapshot.
func (h *Handlers) CaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Capture(r.Context(), urlParam(r, "id"), snapshot.ReasonManual)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// ListSnapshots returns an agent's snapshots, newest first.
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Snapshots.List(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// LatestSnapshot returns an agent's most recent snapshot.
func (h *Handlers) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Latest(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "no snapshots for agent")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetSnapshot returns one snapshot by ID.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "snapshot not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RestoreSnapshot rebuilds an agent from a snapshot.
func (h *Handlers) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Snapshots.Restore(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "snapshot not found")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
