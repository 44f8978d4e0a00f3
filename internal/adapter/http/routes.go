package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// System
		r.Get("/status", h.SystemStatus)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/pool/stats", h.PoolStats)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents", h.SpawnAgent)
		r.Post("/agents/register", h.RegisterAgent)
		r.Get("/agents/{id}", h.GetAgent)
		r.Post("/agents/{id}/stop", h.StopAgent)
		r.Post("/agents/{id}/pause", h.PauseAgent)
		r.Post("/agents/{id}/resume", h.ResumeAgent)
		r.Post("/agents/{id}/restart", h.RestartAgent)
		r.Post("/agents/{id}/archive", h.ArchiveAgent)
		r.Get("/agents/{id}/activity", h.AgentActivity)
		r.Get("/agents/{id}/messages", h.ListMessages)
		r.Get("/agents/{id}/metrics", h.AgentMetrics)

		// Tasks
		r.Post("/tasks", h.SubmitTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)

		// Messages
		r.Post("/messages", h.SendMessage)
		r.Post("/messages/request", h.RequestMessage)

		// Factory
		r.Get("/templates", h.ListTemplates)
		r.Get("/templates/{name}", h.GetTemplate)
		r.Post("/factory/agents", h.CreateFromTemplate)
		r.Get("/factory/approvals", h.ListApprovals)
		r.Post("/factory/approvals/{id}/approve", h.ApproveRequest)
		r.Post("/factory/approvals/{id}/reject", h.RejectRequest)

		// Snapshots
		r.Post("/agents/{id}/snapshots", h.CaptureSnapshot)
		r.Get("/agents/{id}/snapshots", h.ListSnapshots)
		r.Get("/agents/{id}/snapshots/latest", h.LatestSnapshot)
		r.Get("/snapshots/{id}", h.GetSnapshot)
		r.Post("/snapshots/{id}/restore", h.RestoreSnapshot)

		// Gap detection
		r.Get("/gaps", h.ScanGaps)
		r.Post("/gaps/scan", h.ScanGaps)

		// Memory
		r.Post("/agents/{id}/memory", h.RememberMemory)
		r.Get("/agents/{id}/memory/{key}", h.RecallMemory)
		r.Delete("/agents/{id}/memory/{key}", h.ForgetMemory)
		r.Post("/agents/{id}/memory/semantic", h.MemorizeContent)
		r.Get("/agents/{id}/memory/semantic/search", h.SearchMemory)
	})
}
