package task

import "encoding/json"

// Result is the outcome a runtime reports after executing a task.
type Result struct {
	TaskID     string          `json:"task_id"`
	AgentID    string          `json:"agent_id"`
	Status     Status          `json:"status"` // completed | failed | timed_out
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}
