// Package event defines the lifecycle events published on the broker.
package event

import (
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
)

// Type identifies what happened to an agent.
type Type string

const (
	TypeSpawned      Type = "spawned"
	TypeStopped      Type = "stopped"
	TypeRestarted    Type = "restarted"
	TypeStatusChange Type = "status_change"
	TypeErrored      Type = "errored"
	TypeArchived     Type = "archived"
)

// Event is a lifecycle notification published on the events subject and
// mirrored to the dashboard feed.
type Event struct {
	AgentID   string       `json:"agent_id"`
	Type      Type         `json:"type"`
	From      agent.Status `json:"from,omitempty"`
	To        agent.Status `json:"to,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
