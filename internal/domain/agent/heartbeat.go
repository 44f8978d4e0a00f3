package agent

import "time"

// Heartbeat is the periodic liveness report a runtime publishes.
type Heartbeat struct {
	AgentID        string    `json:"agent_id"`
	Status         Status    `json:"status"`
	InFlightTasks  int       `json:"in_flight_tasks"`
	TasksCompleted int       `json:"tasks_completed"`
	TasksFailed    int       `json:"tasks_failed"`
	CPUPercent     float64   `json:"cpu_percent,omitempty"`
	MemoryMB       float64   `json:"memory_mb,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
