package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/agentmesh/internal/adapter/otel"
	"github.com/meshworks/agentmesh/internal/adapter/ws"
	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/gap"
	"github.com/meshworks/agentmesh/internal/port/broadcast"
	"github.com/meshworks/agentmesh/internal/port/database"
)

// GapService detects coverage holes in the agent pool: categories below
// their required count and missing integration agents. It only reports;
// acting on gaps (self-heal) is the orchestrator's coverage loop.
type GapService struct {
	cfg   config.Gaps
	store database.Store
	hub   broadcast.Broadcaster
	log   *slog.Logger

	metrics *otel.Metrics
}

// NewGapService creates a GapService.
func NewGapService(
	cfg config.Gaps,
	store database.Store,
	hub broadcast.Broadcaster,
	log *slog.Logger,
) *GapService {
	return &GapService{cfg: cfg, store: store, hub: hub, log: log}
}

// SetMetrics attaches metric instruments.
func (s *GapService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// Scan runs one detection pass and returns all current gaps.
func (s *GapService) Scan(ctx context.Context) ([]gap.Gap, error) {
	records, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("gap scan: %w", err)
	}

	// Count schedulable agents per category. Paused, errored and dead
	// agents do not cover a requirement.
	byCategory := make(map[agent.Category]int)
	byID := make(map[string]*database.AgentRecord)
	byType := make(map[string]int)
	for i := range records {
		rec := &records[i]
		byID[rec.Config.AgentID] = rec
		if rec.State.Status.IsSchedulable() {
			byCategory[rec.Config.Category]++
			byType[rec.Config.AgentType]++
		}
	}

	now := time.Now().UTC()
	var gaps []gap.Gap

	for _, req := range s.cfg.Required {
		active := byCategory[req.Category]
		if active >= req.MinCount {
			continue
		}
		gaps = append(gaps, gap.Gap{
			ID:          uuid.NewString(),
			Type:        gap.TypeCategory,
			Category:    req.Category,
			Description: fmt.Sprintf("category %s has %d of %d required agents", req.Category, active, req.MinCount),
			Severity:    categorySeverity(req.Category),
			Required:    req.MinCount,
			Active:      active,
			Missing:     req.MinCount - active,
			Template:    req.Template,
			DetectedAt:  now,
		})
	}

	for _, integ := range s.cfg.Integrations {
		// Covered by the named agent, or failing that by any schedulable
		// agent of the matching type.
		covered := false
		if integ.AgentID != "" {
			if rec, ok := byID[integ.AgentID]; ok && rec.State.Status.IsSchedulable() {
				covered = true
			}
		} else if byType[integ.Name] > 0 {
			covered = true
		}
		if covered {
			continue
		}

		gapType := integ.Type
		if gapType == "" {
			gapType = gap.TypeIntegration
		}
		severity := gap.SeverityHigh
		if integ.Critical {
			severity = gap.SeverityCritical
		}
		gaps = append(gaps, gap.Gap{
			ID:          uuid.NewString(),
			Type:        gapType,
			Description: fmt.Sprintf("integration %s has no active agent", integ.Name),
			Severity:    severity,
			Required:    1,
			Missing:     1,
			Template:    integ.Template,
			DetectedAt:  now,
		})
	}

	for _, g := range gaps {
		s.hub.BroadcastEvent(ctx, ws.EventGapDetected, ws.GapDetectedEvent{
			GapID:       g.ID,
			Category:    string(g.Category),
			Severity:    string(g.Severity),
			Description: g.Description,
		})
		if s.metrics != nil {
			s.metrics.GapsDetected.Add(ctx, 1)
		}
	}

	return gaps, nil
}

// categorySeverity maps a required category to how badly its absence hurts.
func categorySeverity(c agent.Category) gap.Severity {
	switch c {
	case agent.CategoryCore, agent.CategorySecurity:
		return gap.SeverityCritical
	case agent.CategoryInfrastructure, agent.CategoryData:
		return gap.SeverityHigh
	case agent.CategoryCommunication, agent.CategoryIntegration:
		return gap.SeverityMedium
	default:
		return gap.SeverityLow
	}
}
