// Package agent defines the agent domain entities: the immutable spawn
// configuration and the mutable runtime state.
package agent

import (
	"time"
)

// Status represents the current lifecycle state of an agent.
type Status string

const (
	StatusSpawning Status = "spawning" // execution unit initializing
	StatusActive   Status = "active"   // registered and ready
	StatusIdle     Status = "idle"     // waiting for work
	StatusBusy     Status = "busy"     // executing one or more tasks
	StatusPaused   Status = "paused"   // accepts no new tasks, still heartbeats
	StatusError    Status = "error"    // faulted; restart decision pending
	StatusShutdown Status = "shutdown" // graceful stop in progress
	StatusDead     Status = "dead"     // unresponsive; requires fresh spawn
	StatusArchived Status = "archived" // preserved, never scheduled again
)

// transitions lists the allowed next states for each status.
// Any state may additionally transition to error on fault.
var transitions = map[Status][]Status{
	StatusSpawning: {StatusActive},
	StatusActive:   {StatusIdle, StatusBusy, StatusPaused, StatusShutdown},
	StatusIdle:     {StatusBusy, StatusPaused, StatusShutdown},
	StatusBusy:     {StatusIdle, StatusActive, StatusPaused, StatusShutdown},
	StatusPaused:   {StatusIdle, StatusShutdown},
	StatusError:    {StatusSpawning, StatusDead, StatusArchived},
	StatusShutdown: {StatusDead},
	StatusDead:     {StatusArchived},
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle transition. Transitioning to error is always allowed from a
// non-terminal state.
func (s Status) CanTransition(next Status) bool {
	if next == StatusError {
		return s != StatusDead && s != StatusArchived
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsSchedulable reports whether an agent in this status may receive tasks.
func (s Status) IsSchedulable() bool {
	return s == StatusActive || s == StatusIdle
}

// IsTerminal reports whether the status is a terminal lifecycle state.
func (s Status) IsTerminal() bool {
	return s == StatusDead || s == StatusArchived
}

// Category classifies an agent's purpose for routing and gap requirements.
type Category string

const (
	CategoryCore           Category = "core"
	CategoryCorporate      Category = "corporate"
	CategoryFinancial      Category = "financial"
	CategoryData           Category = "data"
	CategoryInfrastructure Category = "infrastructure"
	CategoryDevice         Category = "device"
	CategoryIntegration    Category = "integration"
	CategorySecurity       Category = "security"
	CategoryCommunication  Category = "communication"
	CategoryCustom         Category = "custom"
)

// ValidCategories lists all recognized categories.
var ValidCategories = []Category{
	CategoryCore, CategoryCorporate, CategoryFinancial, CategoryData,
	CategoryInfrastructure, CategoryDevice, CategoryIntegration,
	CategorySecurity, CategoryCommunication, CategoryCustom,
}

// ValidCategory reports whether c is a recognized category.
func ValidCategory(c Category) bool {
	for _, v := range ValidCategories {
		if v == c {
			return true
		}
	}
	return false
}

// Config is the immutable creation spec for an agent. Configs are created
// once at spawn time and replaced rather than edited.
type Config struct {
	AgentID            string            `json:"agent_id" yaml:"agent_id"`
	AgentType          string            `json:"agent_type" yaml:"agent_type"`
	Category           Category          `json:"category" yaml:"category"`
	DisplayName        string            `json:"display_name" yaml:"display_name"`
	Description        string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version            string            `json:"version,omitempty" yaml:"version,omitempty"`
	CPULimit           float64           `json:"cpu_limit" yaml:"cpu_limit"`          // fraction of cores
	MemoryLimitMB      int               `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	MaxConcurrentTasks int               `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	TaskTimeout        time.Duration     `json:"task_timeout" yaml:"task_timeout"`
	HeartbeatInterval  time.Duration     `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxRetries         int               `json:"max_retries" yaml:"max_retries"`
	Capabilities       []string          `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	AutoRestart        bool              `json:"auto_restart" yaml:"auto_restart"`
	Settings           map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Normalize fills zero-valued fields with defaults so every spawned agent
// has workable limits.
func (c *Config) Normalize() {
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.CPULimit <= 0 {
		c.CPULimit = 1.0
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = 512
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 1
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DisplayName == "" {
		c.DisplayName = c.AgentID
	}
}

// State is the mutable runtime record for an agent. It is owned by the
// agent pool; other components read it or request changes through the pool.
type State struct {
	AgentID        string     `json:"agent_id"`
	Status         Status     `json:"status"`
	ContainerID    string     `json:"container_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
	CurrentTaskID  string     `json:"current_task_id,omitempty"`
	InFlightTasks  int        `json:"in_flight_tasks"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	RestartCount   int        `json:"restart_count"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// HeartbeatAge returns how long ago the agent last heartbeat, or a very
// large duration when it never has.
func (s *State) HeartbeatAge(now time.Time) time.Duration {
	if s.LastHeartbeat == nil {
		if s.StartedAt != nil {
			return now.Sub(*s.StartedAt)
		}
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(*s.LastHeartbeat)
}
