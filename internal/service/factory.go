package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/template"
	"github.com/meshworks/agentmesh/internal/port/database"
)

// FactoryService turns validated templates into running agents. Templates
// are a closed set; callers pick one and supply bounded overrides. Some
// templates require an approval before the spawn happens.
type FactoryService struct {
	templates map[string]template.Template
	pool      *PoolService
	store     database.Store
	log       *slog.Logger
}

// NewFactoryService creates a FactoryService with the built-in template set.
func NewFactoryService(pool *PoolService, store database.Store, log *slog.Logger) *FactoryService {
	return &FactoryService{
		templates: template.Builtin(),
		pool:      pool,
		store:     store,
		log:       log,
	}
}

// Templates returns the available templates sorted by name.
func (s *FactoryService) Templates() []template.Template {
	out := make([]template.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Template returns one template by name.
func (s *FactoryService) Template(name string) (*template.Template, error) {
	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("template %q: %w", name, domain.ErrUnknownTemplate)
	}
	return &t, nil
}

// CreateFromTemplate validates overrides against the named template and
// spawns the agent. Approval-gated templates record a pending approval
// instead and return ErrApprovalPending wrapped with the approval ID.
func (s *FactoryService) CreateFromTemplate(
	ctx context.Context,
	name string,
	overrides template.Overrides,
	requestedBy string,
) (*database.AgentRecord, error) {
	tpl, err := s.Template(name)
	if err != nil {
		return nil, err
	}

	// Validate before parking behind approval so bad requests fail fast.
	cfg, err := tpl.Apply(overrides)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	if cfg.AgentID == "" {
		cfg.AgentID = generateAgentID(tpl.AgentType)
	}

	if tpl.RequiresApproval {
		approval := database.Approval{
			ID:          uuid.NewString(),
			Template:    name,
			Overrides:   overrides,
			RequestedBy: requestedBy,
			Status:      "pending",
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.CreateApproval(ctx, approval); err != nil {
			return nil, err
		}
		s.log.Info("agent creation awaiting approval",
			"approval_id", approval.ID, "template", name, "requested_by", requestedBy)
		return nil, fmt.Errorf("approval %s: %w", approval.ID, domain.ErrApprovalPending)
	}

	return s.pool.Spawn(ctx, *cfg)
}

// Approve resolves a pending approval and spawns the agent it was parked for.
func (s *FactoryService) Approve(ctx context.Context, approvalID, approvedBy string) (*database.AgentRecord, error) {
	approval, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != "pending" {
		return nil, fmt.Errorf("approval %s already %s: %w", approvalID, approval.Status, domain.ErrValidation)
	}

	tpl, err := s.Template(approval.Template)
	if err != nil {
		return nil, err
	}
	cfg, err := tpl.Apply(approval.Overrides)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", approval.Template, err)
	}
	if cfg.AgentID == "" {
		cfg.AgentID = generateAgentID(tpl.AgentType)
	}

	rec, err := s.pool.Spawn(ctx, *cfg)
	if err != nil {
		return nil, err
	}

	if err := s.store.ResolveApproval(ctx, approvalID, "approved", "approved by "+approvedBy); err != nil {
		s.log.Warn("approval resolve failed after spawn", "approval_id", approvalID, "error", err)
	}

	s.log.Info("approval granted", "approval_id", approvalID, "agent_id", cfg.AgentID, "by", approvedBy)
	return rec, nil
}

// Reject resolves a pending approval without spawning.
func (s *FactoryService) Reject(ctx context.Context, approvalID, reason string) error {
	return s.store.ResolveApproval(ctx, approvalID, "rejected", reason)
}

// ListApprovals returns approvals, optionally filtered by status.
func (s *FactoryService) ListApprovals(ctx context.Context, status string) ([]database.Approval, error) {
	return s.store.ListApprovals(ctx, status)
}

// generateAgentID builds a unique, readable agent ID from the agent type.
func generateAgentID(agentType string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return agentType + "-" + suffix
}
