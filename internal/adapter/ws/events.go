package ws

import (
	"context"
	"encoding/json"
	"time"
)

// Event type constants for WebSocket messages.
const (
	EventAgentList    = "agent.list"      // initial snapshot on connect
	EventAgentSpawned = "agent.spawned"
	EventAgentStopped = "agent.stopped"
	EventAgentStatus  = "agent.status"
	EventHeartbeat    = "agent.heartbeat"
	EventTaskUpdate   = "task.update"
	EventGapDetected  = "gap.detected"
	EventPoolStats    = "pool.stats"
)

// AgentStatusEvent is broadcast when an agent's lifecycle status changes.
type AgentStatusEvent struct {
	AgentID  string `json:"agent_id"`
	Status   string `json:"status"`
	Previous string `json:"previous,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// HeartbeatEvent relays a runtime heartbeat to the dashboard.
type HeartbeatEvent struct {
	AgentID     string    `json:"agent_id"`
	Status      string    `json:"status"`
	InFlight    int       `json:"in_flight"`
	Completed   int64     `json:"completed"`
	Failed      int64     `json:"failed"`
	Timestamp   time.Time `json:"timestamp"`
}

// TaskUpdateEvent is broadcast when a task changes status.
type TaskUpdateEvent struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// GapDetectedEvent is broadcast when the gap detector finds a coverage hole.
type GapDetectedEvent struct {
	GapID       string `json:"gap_id"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// PoolStatsEvent carries aggregate pool counters.
type PoolStatsEvent struct {
	Total       int     `json:"total"`
	Active      int     `json:"active"`
	Idle        int     `json:"idle"`
	Busy        int     `json:"busy"`
	Errored     int     `json:"errored"`
	CPUReserved float64 `json:"cpu_reserved"`
	MemReserved int     `json:"mem_reserved_mb"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
