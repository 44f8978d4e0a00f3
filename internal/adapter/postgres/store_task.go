package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/task"
)

const taskColumns = `id, agent_id, category, task_type, payload, priority, timeout_seconds,
	status, result, error, requester_agent, retries, max_retries, created_at, started_at, completed_at`

func (s *Store) ListTasks(ctx context.Context, agentID string, limit int) ([]task.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows pgx.Rows
	var err error
	if agentID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`,
			agentID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, agent_id, category, task_type, payload, priority, timeout_seconds,
		                    status, result, error, requester_agent, retries, max_retries, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.AgentID, t.Category, t.TaskType, rawOrNil(t.Payload), t.Priority, t.TimeoutSeconds,
		t.Status, rawOrNil(t.Result), t.Error, t.RequesterAgent, t.Retries, t.MaxRetries,
		t.CreatedAt, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, t task.Task) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET agent_id = $2, status = $3, result = $4, error = $5,
		        retries = $6, started_at = $7, completed_at = $8
		 WHERE id = $1`,
		t.ID, t.AgentID, t.Status, rawOrNil(t.Result), t.Error,
		t.Retries, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// PendingTasks returns the agent's tasks that have not reached a terminal
// state, oldest first. Used when snapshotting and when re-queueing after a
// restart.
func (s *Store) PendingTasks(ctx context.Context, agentID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE agent_id = $1 AND status IN ('submitted', 'running')
		 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("pending tasks %s: %w", agentID, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// QueuedTasks returns submitted tasks with no agent assigned, oldest first.
// The orchestrator's dispatch loop drains these as capacity frees up.
func (s *Store) QueuedTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE agent_id = '' AND status = 'submitted'
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("queued tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountPendingTasks counts all tasks that have not reached a terminal state.
func (s *Store) CountPendingTasks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE status IN ('submitted', 'running')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return n, nil
}

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	var payload, result []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(&t.ID, &t.AgentID, &t.Category, &t.TaskType, &payload, &t.Priority,
		&t.TimeoutSeconds, &t.Status, &result, &t.Error, &t.RequesterAgent,
		&t.Retries, &t.MaxRetries, &t.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return t, err
	}

	t.Payload = payload
	t.Result = result
	t.StartedAt = startedAt
	t.CompletedAt = completedAt
	return t, nil
}

// rawOrNil converts empty raw JSON to nil so the column stores SQL NULL.
func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
