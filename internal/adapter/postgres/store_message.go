package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/message"
)

func (s *Store) RecordMessage(ctx context.Context, m message.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_messages (id, from_agent, to_agent, type, payload, priority,
		                             correlation_id, requires_ack, ttl_seconds, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.FromAgent, m.ToAgent, m.Type, rawOrNil(m.Payload), m.Priority,
		m.CorrelationID, m.RequiresAck, m.TTLSeconds, m.Timestamp)
	if err != nil {
		return fmt.Errorf("record message %s: %w", m.ID, err)
	}
	return nil
}

// PruneMessages deletes audit rows older than the cutoff.
func (s *Store) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_messages WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListMessages returns the most recent messages sent to or from an agent.
func (s *Store) ListMessages(ctx context.Context, agentID string, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, from_agent, to_agent, type, payload, priority, correlation_id, requires_ack, ttl_seconds, ts
		 FROM agent_messages
		 WHERE to_agent = $1 OR from_agent = $1
		 ORDER BY ts DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", agentID, err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var m message.Message
		var payload []byte
		err := rows.Scan(&m.ID, &m.FromAgent, &m.ToAgent, &m.Type, &payload, &m.Priority,
			&m.CorrelationID, &m.RequiresAck, &m.TTLSeconds, &m.Timestamp)
		if err != nil {
			return nil, err
		}
		m.Payload = payload
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
