// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/message"
	"github.com/meshworks/agentmesh/internal/domain/metrics"
	"github.com/meshworks/agentmesh/internal/domain/snapshot"
	"github.com/meshworks/agentmesh/internal/domain/task"
	"github.com/meshworks/agentmesh/internal/domain/template"
)

// AgentRecord joins an agent's config with its last observed state.
type AgentRecord struct {
	Config agent.Config `json:"config"`
	State  agent.State  `json:"state"`
}

// ActivityEntry is one row of the per-agent activity log.
type ActivityEntry struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Kind      string    `json:"kind"` // spawned | stopped | restarted | status_change | task | error
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Approval is a pending or resolved factory approval request.
type Approval struct {
	ID          string            `json:"id"`
	Template    string            `json:"template"`
	Overrides   template.Overrides `json:"overrides"`
	RequestedBy string            `json:"requested_by"`
	Status      string            `json:"status"` // pending | approved | rejected
	Reason      string            `json:"reason"`
	CreatedAt   time.Time         `json:"created_at"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// Store is the port interface for database operations.
type Store interface {
	// Agents
	ListAgents(ctx context.Context) ([]AgentRecord, error)
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	CreateAgent(ctx context.Context, cfg agent.Config, st agent.State) error
	UpdateAgentState(ctx context.Context, st agent.State) error
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error
	DeleteAgent(ctx context.Context, id string) error

	// Tasks
	ListTasks(ctx context.Context, agentID string, limit int) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, t task.Task) error
	UpdateTask(ctx context.Context, t task.Task) error
	PendingTasks(ctx context.Context, agentID string) ([]task.Task, error)
	QueuedTasks(ctx context.Context) ([]task.Task, error)
	CountPendingTasks(ctx context.Context) (int, error)

	// Messages
	RecordMessage(ctx context.Context, m message.Message) error
	ListMessages(ctx context.Context, agentID string, limit int) ([]message.Message, error)
	PruneMessages(ctx context.Context, before time.Time) (int64, error)

	// Metrics
	RecordMetrics(ctx context.Context, s metrics.Sample) error
	ListMetrics(ctx context.Context, agentID string, since time.Time) ([]metrics.Sample, error)
	PruneMetrics(ctx context.Context, before time.Time) (int64, error)

	// Snapshots
	CreateSnapshot(ctx context.Context, s snapshot.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*snapshot.Snapshot, error)
	LatestSnapshot(ctx context.Context, agentID string) (*snapshot.Snapshot, error)
	ListSnapshots(ctx context.Context, agentID string) ([]snapshot.Snapshot, error)
	PruneSnapshots(ctx context.Context, agentID string, keepLast int, keepFor time.Duration) (int64, error)

	// Activity
	RecordActivity(ctx context.Context, e ActivityEntry) error
	ListActivity(ctx context.Context, agentID string, limit int) ([]ActivityEntry, error)

	// Factory approvals
	CreateApproval(ctx context.Context, a Approval) error
	GetApproval(ctx context.Context, id string) (*Approval, error)
	ListApprovals(ctx context.Context, status string) ([]Approval, error)
	ResolveApproval(ctx context.Context, id, status, reason string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close()
}
