package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/snapshot"
)

const snapshotColumns = `id, agent_id, taken_at, reason, state, config, pending_tasks, memory_state`

func (s *Store) CreateSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}
	cfgJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("marshal snapshot config: %w", err)
	}
	tasksJSON, err := json.Marshal(snap.PendingTasks)
	if err != nil {
		return fmt.Errorf("marshal snapshot tasks: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_snapshots (id, agent_id, taken_at, reason, state, config, pending_tasks, memory_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.ID, snap.AgentID, snap.TakenAt, snap.Reason, stateJSON, cfgJSON, tasksJSON,
		rawOrNil(snap.MemoryState))
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM agent_snapshots WHERE id = $1`, id)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get snapshot %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, agentID string) (*snapshot.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM agent_snapshots
		 WHERE agent_id = $1 ORDER BY taken_at DESC LIMIT 1`, agentID)

	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("latest snapshot %s: %w", agentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("latest snapshot %s: %w", agentID, err)
	}
	return &snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, agentID string) ([]snapshot.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM agent_snapshots
		 WHERE agent_id = $1 ORDER BY taken_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", agentID, err)
	}
	defer rows.Close()

	var snaps []snapshot.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// PruneSnapshots deletes an agent's snapshots that fall outside both the
// keep-last count and the keep-for age window. Returns rows deleted.
func (s *Store) PruneSnapshots(ctx context.Context, agentID string, keepLast int, keepFor time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agent_snapshots
		 WHERE agent_id = $1
		   AND taken_at < $2
		   AND id NOT IN (
		       SELECT id FROM agent_snapshots
		       WHERE agent_id = $1 ORDER BY taken_at DESC LIMIT $3
		   )`,
		agentID, time.Now().Add(-keepFor), keepLast)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots %s: %w", agentID, err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshot(row scannable) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	var stateJSON, cfgJSON, tasksJSON, memoryJSON []byte

	err := row.Scan(&snap.ID, &snap.AgentID, &snap.TakenAt, &snap.Reason,
		&stateJSON, &cfgJSON, &tasksJSON, &memoryJSON)
	if err != nil {
		return snap, err
	}

	if err := json.Unmarshal(stateJSON, &snap.State); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot state: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &snap.Config); err != nil {
		return snap, fmt.Errorf("unmarshal snapshot config: %w", err)
	}
	if len(tasksJSON) > 0 {
		if err := json.Unmarshal(tasksJSON, &snap.PendingTasks); err != nil {
			return snap, fmt.Errorf("unmarshal snapshot tasks: %w", err)
		}
	}
	snap.MemoryState = memoryJSON
	return snap, nil
}
