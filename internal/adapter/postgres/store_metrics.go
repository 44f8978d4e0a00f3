package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/metrics"
)

func (s *Store) RecordMetrics(ctx context.Context, sample metrics.Sample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_metrics (agent_id, ts, cpu_percent, memory_mb, tasks_completed,
		                            tasks_failed, avg_task_duration_ms, messages_sent,
		                            messages_received, uptime_seconds, error_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sample.AgentID, sample.Timestamp, sample.CPUPercent, sample.MemoryMB,
		sample.TasksCompleted, sample.TasksFailed, sample.AvgTaskDurationMS,
		sample.MessagesSent, sample.MessagesReceived, sample.UptimeSeconds, sample.ErrorCount)
	if err != nil {
		return fmt.Errorf("record metrics %s: %w", sample.AgentID, err)
	}
	return nil
}

// PruneMetrics deletes samples older than the cutoff.
func (s *Store) PruneMetrics(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_metrics WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListMetrics(ctx context.Context, agentID string, since time.Time) ([]metrics.Sample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, ts, cpu_percent, memory_mb, tasks_completed, tasks_failed,
		        avg_task_duration_ms, messages_sent, messages_received, uptime_seconds, error_count
		 FROM agent_metrics
		 WHERE agent_id = $1 AND ts >= $2
		 ORDER BY ts`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("list metrics %s: %w", agentID, err)
	}
	defer rows.Close()

	var samples []metrics.Sample
	for rows.Next() {
		var m metrics.Sample
		err := rows.Scan(&m.AgentID, &m.Timestamp, &m.CPUPercent, &m.MemoryMB,
			&m.TasksCompleted, &m.TasksFailed, &m.AvgTaskDurationMS,
			&m.MessagesSent, &m.MessagesReceived, &m.UptimeSeconds, &m.ErrorCount)
		if err != nil {
			return nil, err
		}
		samples = append(samples, m)
	}
	return samples, rows.Err()
}
