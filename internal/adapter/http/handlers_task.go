package http

import (
	"net/http"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/message"
	"github.com/meshworks/agentmesh/internal/domain/task"
)

// SubmitTask accepts a new task and dispatches it to the resolved agent.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.SubmitRequest](w, r)
	if !ok {
		return
	}

	t, err := h.Orchestrator.SubmitTask(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "failed to submit task")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask returns one task by ID.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Orchestrator.GetTask(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTasks returns recent tasks, optionally filtered by agent.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Orchestrator.ListTasks(r.Context(),
		r.URL.Query().Get("agent_id"), queryInt(r, "limit", 100))
	if err != nil {
		writeDomainError(w, err, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// SendMessage routes an inter-agent message.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := readJSON[message.Message](w, r)
	if !ok {
		return
	}

	if err := h.Orchestrator.SendMessage(r.Context(), m); err != nil {
		writeDomainError(w, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type requestMessage struct {
	message.Message
	TimeoutSeconds int `json:"request_timeout_seconds,omitempty"`
}

// RequestMessage sends a request and blocks until the matching response
// arrives or the timeout elapses.
func (h *Handlers) RequestMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[requestMessage](w, r)
	if !ok {
		return
	}

	timeout := 30 * time.Second
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	resp, err := h.Orchestrator.Request(r.Context(), req.Message, timeout)
	if err != nil {
		writeDomainError(w, err, "request failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages returns an agent's message history.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Orchestrator.ListMessages(r.Context(), urlParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		writeDomainError(w, err, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
