package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/metrics"
	"github.com/meshworks/agentmesh/internal/port/broker"
	"github.com/meshworks/agentmesh/internal/port/database"
)

// MetricsService persists per-agent resource samples derived from runtime
// heartbeats and serves time-series queries for the dashboard.
type MetricsService struct {
	cfg   config.Retention
	store database.Store
	log   *slog.Logger
}

// NewMetricsService creates a MetricsService.
func NewMetricsService(cfg config.Retention, store database.Store, log *slog.Logger) *MetricsService {
	return &MetricsService{cfg: cfg, store: store, log: log}
}

// StartIngest subscribes to heartbeats and records one sample per report.
func (s *MetricsService) StartIngest(ctx context.Context, brk broker.Broker) (func(), error) {
	return brk.Subscribe(ctx, broker.SubjectHeartbeats, func(ctx context.Context, _ string, data []byte) error {
		var hb agent.Heartbeat
		if err := json.Unmarshal(data, &hb); err != nil {
			return fmt.Errorf("decode heartbeat: %w", err)
		}
		return s.Ingest(ctx, hb)
	})
}

// Ingest records a metrics sample from one heartbeat.
func (s *MetricsService) Ingest(ctx context.Context, hb agent.Heartbeat) error {
	ts := hb.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return s.store.RecordMetrics(ctx, metrics.Sample{
		AgentID:        hb.AgentID,
		Timestamp:      ts,
		CPUPercent:     hb.CPUPercent,
		MemoryMB:       int(hb.MemoryMB),
		TasksCompleted: hb.TasksCompleted,
		TasksFailed:    hb.TasksFailed,
	})
}

// History returns an agent's samples since the given time.
func (s *MetricsService) History(ctx context.Context, agentID string, since time.Time) ([]metrics.Sample, error) {
	return s.store.ListMetrics(ctx, agentID, since)
}

// RunRetentionLoop deletes expired metrics and message audit rows on the
// configured interval.
func (s *MetricsService) RunRetentionLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepEach)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *MetricsService) sweep(ctx context.Context) {
	now := time.Now().UTC()

	n, err := s.store.PruneMetrics(ctx, now.Add(-s.cfg.MetricsFor))
	if err != nil {
		s.log.Warn("metrics prune failed", "error", err)
	} else if n > 0 {
		s.log.Info("metrics pruned", "count", n)
	}

	n, err = s.store.PruneMessages(ctx, now.Add(-s.cfg.MessagesFor))
	if err != nil {
		s.log.Warn("message prune failed", "error", err)
	} else if n > 0 {
		s.log.Info("messages pruned", "count", n)
	}
}
