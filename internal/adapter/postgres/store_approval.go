package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/port/database"
)

const approvalColumns = `id, template, overrides, requested_by, status, reason, created_at, resolved_at`

func (s *Store) CreateApproval(ctx context.Context, a database.Approval) error {
	overridesJSON, err := json.Marshal(a.Overrides)
	if err != nil {
		return fmt.Errorf("marshal approval overrides: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO factory_approvals (id, template, overrides, requested_by, status, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Template, overridesJSON, a.RequestedBy, a.Status, a.Reason, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create approval %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*database.Approval, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM factory_approvals WHERE id = $1`, id)

	a, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get approval %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListApprovals(ctx context.Context, status string) ([]database.Approval, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+approvalColumns+` FROM factory_approvals ORDER BY created_at DESC`)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+approvalColumns+` FROM factory_approvals WHERE status = $1 ORDER BY created_at DESC`,
			status)
	}
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []database.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (s *Store) ResolveApproval(ctx context.Context, id, status, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE factory_approvals SET status = $2, reason = $3, resolved_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, status, reason)
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolve approval %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanApproval(row scannable) (database.Approval, error) {
	var a database.Approval
	var overridesJSON []byte
	var resolvedAt *time.Time

	err := row.Scan(&a.ID, &a.Template, &overridesJSON, &a.RequestedBy, &a.Status,
		&a.Reason, &a.CreatedAt, &resolvedAt)
	if err != nil {
		return a, err
	}

	a.ResolvedAt = resolvedAt
	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &a.Overrides); err != nil {
			return a, fmt.Errorf("unmarshal approval overrides: %w", err)
		}
	}
	return a, nil
}
