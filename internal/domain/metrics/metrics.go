// Package metrics defines the periodic per-agent resource and throughput sample.
package metrics

import "time"

// Sample is one append-only time-series point for an agent.
type Sample struct {
	AgentID           string    `json:"agent_id"`
	Timestamp         time.Time `json:"timestamp"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryMB          int       `json:"memory_mb"`
	TasksCompleted    int       `json:"tasks_completed"`
	TasksFailed       int       `json:"tasks_failed"`
	AvgTaskDurationMS float64   `json:"avg_task_duration_ms"`
	MessagesSent      int       `json:"messages_sent"`
	MessagesReceived  int       `json:"messages_received"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	ErrorCount        int       `json:"error_count"`
}
