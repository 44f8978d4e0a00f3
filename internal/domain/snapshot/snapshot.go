// Package snapshot defines the point-in-time agent capture used for recovery.
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/task"
)

// Reason records why a snapshot was taken.
type Reason string

const (
	ReasonManual     Reason = "manual"
	ReasonPreRestart Reason = "pre_restart"
	ReasonScheduled  Reason = "scheduled"
)

// Snapshot is a write-once capture of one agent at a point in time.
// Snapshots per agent are monotonically ordered by TakenAt.
type Snapshot struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agent_id"`
	TakenAt      time.Time       `json:"taken_at"`
	Reason       Reason          `json:"reason"`
	State        agent.State     `json:"state"`
	Config       agent.Config    `json:"config"`
	PendingTasks []task.Task     `json:"pending_tasks,omitempty"`
	MemoryState  json.RawMessage `json:"memory_state,omitempty"`
}
