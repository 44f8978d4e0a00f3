package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// --- Agents ---

const agentColumns = `agent_id, config, status, container_id, started_at, last_heartbeat,
	current_task_id, in_flight, tasks_completed, tasks_failed, restart_count, error_message`

func (s *Store) ListAgents(ctx context.Context) ([]database.AgentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var records []database.AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*database.AgentRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, id)

	rec, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get agent %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Store) CreateAgent(ctx context.Context, cfg agent.Config, st agent.State) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}

	// Spawning over a dead or archived row reuses the agent ID: the upsert
	// replaces terminal rows and refuses live ones.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO agents (agent_id, config, status, container_id, started_at, last_heartbeat,
		                     current_task_id, in_flight, tasks_completed, tasks_failed, restart_count, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (agent_id) DO UPDATE SET
		     config = EXCLUDED.config, status = EXCLUDED.status,
		     container_id = EXCLUDED.container_id, started_at = EXCLUDED.started_at,
		     last_heartbeat = EXCLUDED.last_heartbeat, current_task_id = EXCLUDED.current_task_id,
		     in_flight = EXCLUDED.in_flight, tasks_completed = EXCLUDED.tasks_completed,
		     tasks_failed = EXCLUDED.tasks_failed, restart_count = EXCLUDED.restart_count,
		     error_message = EXCLUDED.error_message, updated_at = now()
		 WHERE agents.status IN ('dead', 'archived')`,
		cfg.AgentID, cfgJSON, st.Status, st.ContainerID, st.StartedAt, st.LastHeartbeat,
		st.CurrentTaskID, st.InFlightTasks, st.TasksCompleted, st.TasksFailed, st.RestartCount, st.ErrorMessage)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create agent %s: %w", cfg.AgentID, domain.ErrDuplicateAgent)
		}
		return fmt.Errorf("create agent %s: %w", cfg.AgentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create agent %s: %w", cfg.AgentID, domain.ErrDuplicateAgent)
	}
	return nil
}

func (s *Store) UpdateAgentState(ctx context.Context, st agent.State) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, container_id = $3, started_at = $4, last_heartbeat = $5,
		        current_task_id = $6, in_flight = $7, tasks_completed = $8, tasks_failed = $9,
		        restart_count = $10, error_message = $11, updated_at = now()
		 WHERE agent_id = $1`,
		st.AgentID, st.Status, st.ContainerID, st.StartedAt, st.LastHeartbeat,
		st.CurrentTaskID, st.InFlightTasks, st.TasksCompleted, st.TasksFailed,
		st.RestartCount, st.ErrorMessage)
	if err != nil {
		return fmt.Errorf("update agent state %s: %w", st.AgentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update agent state %s: %w", st.AgentID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE agent_id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update agent status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update agent status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete agent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanAgent(row scannable) (database.AgentRecord, error) {
	var rec database.AgentRecord
	var cfgJSON []byte
	var startedAt, lastHeartbeat *time.Time

	err := row.Scan(&rec.State.AgentID, &cfgJSON, &rec.State.Status, &rec.State.ContainerID,
		&startedAt, &lastHeartbeat, &rec.State.CurrentTaskID, &rec.State.InFlightTasks,
		&rec.State.TasksCompleted, &rec.State.TasksFailed, &rec.State.RestartCount,
		&rec.State.ErrorMessage)
	if err != nil {
		return rec, err
	}

	rec.State.StartedAt = startedAt
	rec.State.LastHeartbeat = lastHeartbeat

	if err := json.Unmarshal(cfgJSON, &rec.Config); err != nil {
		return rec, fmt.Errorf("unmarshal agent config: %w", err)
	}
	return rec, nil
}
