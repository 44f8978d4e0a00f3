package postgres

import (
	"context"
	"fmt"

	"github.com/meshworks/agentmesh/internal/port/database"
)

func (s *Store) RecordActivity(ctx context.Context, e database.ActivityEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_activity (agent_id, kind, detail, ts) VALUES ($1, $2, $3, $4)`,
		e.AgentID, e.Kind, e.Detail, e.Timestamp)
	if err != nil {
		return fmt.Errorf("record activity %s: %w", e.AgentID, err)
	}
	return nil
}

func (s *Store) ListActivity(ctx context.Context, agentID string, limit int) ([]database.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, kind, detail, ts FROM agent_activity
		 WHERE agent_id = $1 ORDER BY ts DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity %s: %w", agentID, err)
	}
	defer rows.Close()

	var entries []database.ActivityEntry
	for rows.Next() {
		var e database.ActivityEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Kind, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
