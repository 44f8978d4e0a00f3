package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentmesh"

// Metrics holds all AgentMesh metric instruments.
type Metrics struct {
	AgentsSpawned   metric.Int64Counter
	AgentsStopped   metric.Int64Counter
	AgentsRestarted metric.Int64Counter
	TasksSubmitted  metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	TaskDuration    metric.Float64Histogram
	GapsDetected    metric.Int64Counter
	SnapshotsTaken  metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AgentsSpawned, err = meter.Int64Counter("agentmesh.agents.spawned",
		metric.WithDescription("Number of agents spawned"))
	if err != nil {
		return nil, err
	}

	m.AgentsStopped, err = meter.Int64Counter("agentmesh.agents.stopped",
		metric.WithDescription("Number of agents stopped"))
	if err != nil {
		return nil, err
	}

	m.AgentsRestarted, err = meter.Int64Counter("agentmesh.agents.restarted",
		metric.WithDescription("Number of agent restarts"))
	if err != nil {
		return nil, err
	}

	m.TasksSubmitted, err = meter.Int64Counter("agentmesh.tasks.submitted",
		metric.WithDescription("Number of tasks submitted"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("agentmesh.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("agentmesh.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("agentmesh.task.duration_seconds",
		metric.WithDescription("Task duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.GapsDetected, err = meter.Int64Counter("agentmesh.gaps.detected",
		metric.WithDescription("Number of coverage gaps detected"))
	if err != nil {
		return nil, err
	}

	m.SnapshotsTaken, err = meter.Int64Counter("agentmesh.snapshots.taken",
		metric.WithDescription("Number of agent snapshots taken"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
