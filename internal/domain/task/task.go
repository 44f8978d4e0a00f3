// Package task defines the unit of work dispatched to agents.
package task

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/message"
)

// Status represents the current state of a task.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// IsTerminal reports whether the task can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// Task is a unit of work. Exactly one agent owns a task at any instant:
// the orchestrator until dispatch, the executing runtime afterwards.
type Task struct {
	ID             string           `json:"id"`
	AgentID        string           `json:"agent_id,omitempty"`  // resolved target
	Category       agent.Category   `json:"category,omitempty"`  // routing hint when no agent named
	TaskType       string           `json:"task_type"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
	Priority       message.Priority `json:"priority"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	Status         Status           `json:"status"`
	Result         json.RawMessage  `json:"result,omitempty"`
	Error          string           `json:"error,omitempty"`
	RequesterAgent string           `json:"requester_agent,omitempty"`
	Retries        int              `json:"retries"`
	MaxRetries     int              `json:"max_retries"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// SubmitRequest holds the fields a caller provides when submitting a task.
type SubmitRequest struct {
	AgentID        string           `json:"agent_id,omitempty"`
	Category       agent.Category   `json:"category,omitempty"`
	TaskType       string           `json:"task_type"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
	Priority       message.Priority `json:"priority,omitempty"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
	RequesterAgent string           `json:"requester_agent,omitempty"`
}

// Validate checks that the request names a target and a task type.
func (r *SubmitRequest) Validate() error {
	if r.TaskType == "" {
		return errors.New("task_type is required")
	}
	if r.AgentID == "" && r.Category == "" {
		return errors.New("agent_id or category is required")
	}
	if r.Category != "" && !agent.ValidCategory(r.Category) {
		return errors.New("invalid category")
	}
	if r.Priority == 0 {
		r.Priority = message.PriorityNormal
	}
	if r.TimeoutSeconds <= 0 {
		r.TimeoutSeconds = 300
	}
	return nil
}

// Timeout returns the task's execution deadline as a duration.
func (t *Task) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}
