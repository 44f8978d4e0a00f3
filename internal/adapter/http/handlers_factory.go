package http

import (
	"errors"
	"net/http"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/template"
)

// ListTemplates returns the available agent templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Factory.Templates())
}

// GetTemplate returns one template by name.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.Factory.Template(urlParam(r, "name"))
	if err != nil {
		writeDomainError(w, err, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

type createFromTemplateRequest struct {
	Template    string             `json:"template"`
	Overrides   template.Overrides `json:"overrides"`
	RequestedBy string             `json:"requested_by,omitempty"`
}

// CreateFromTemplate spawns an agent from a named template. Approval-gated
// templates answer 202 with the pending approval instead of an agent.
func (h *Handlers) CreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createFromTemplateRequest](w, r)
	if !ok {
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "api"
	}

	rec, err := h.Factory.CreateFromTemplate(r.Context(), req.Template, req.Overrides, req.RequestedBy)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalPending) {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "approval_pending",
				"detail": err.Error(),
			})
			return
		}
		writeDomainError(w, err, "failed to create agent")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListApprovals returns factory approvals, optionally filtered by status.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.Factory.ListApprovals(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, err, "failed to list approvals")
		return
	}
	writeJSON(w, http.StatusOK, approvals)
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// ApproveRequest grants a pending approval and spawns the parked agent.
func (h *Handlers) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[approveRequest](w, r)
	if !ok {
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "approved_by is required")
		return
	}

	rec, err := h.Factory.Approve(r.Context(), urlParam(r, "id"), req.ApprovedBy)
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectRequest denies a pending approval.
func (h *Handlers) RejectRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[rejectRequest](w, r)
	if !ok {
		return
	}

	if err := h.Factory.Reject(r.Context(), urlParam(r, "id"), req.Reason); err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
