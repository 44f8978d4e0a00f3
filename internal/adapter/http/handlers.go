package http

import (
	"net/http"

	"github.com/meshworks/agentmesh/internal/service"
)

// Handlers bundles the services the HTTP layer dispatches to.
type Handlers struct {
	Pool         *service.PoolService
	Orchestrator *service.OrchestratorService
	Factory      *service.FactoryService
	Snapshots    *service.SnapshotService
	Gaps         *service.GapService
	Memory       *service.MemoryService
	Metrics      *service.MetricsService
}

// SystemStatus reports broker connectivity and pool aggregates.
func (h *Handlers) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Orchestrator.Status(r.Context(), h.Pool)
	if err != nil {
		writeDomainError(w, err, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Dashboard is the pull variant of the WebSocket feed: system status and
// the full agent list in one response.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	status, err := h.Orchestrator.Status(r.Context(), h.Pool)
	if err != nil {
		writeDomainError(w, err, "status unavailable")
		return
	}
	agents, err := h.Pool.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"agents": agents,
	})
}

// PoolStats returns aggregate agent counts and reserved resources.
func (h *Handlers) PoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Pool.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
