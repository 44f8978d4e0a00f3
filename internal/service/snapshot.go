package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/agentmesh/internal/adapter/otel"
	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/snapshot"
	"github.com/meshworks/agentmesh/internal/port/broker"
	"github.com/meshworks/agentmesh/internal/port/database"
)

// MemoryExporter captures and restores an agent's memory alongside
// snapshots.
type MemoryExporter interface {
	Export(ctx context.Context, agentID string) (json.RawMessage, error)
	Import(ctx context.Context, agentID string, data json.RawMessage) error
}

// SnapshotService captures point-in-time agent state for later recovery and
// enforces the retention policy.
type SnapshotService struct {
	cfg    config.Snapshots
	store  database.Store
	pool   *PoolService
	memory MemoryExporter
	log    *slog.Logger

	metrics *otel.Metrics
}

// NewSnapshotService creates a SnapshotService. memory may be nil.
func NewSnapshotService(cfg config.Snapshots, store database.Store, pool *PoolService, log *slog.Logger) *SnapshotService {
	return &SnapshotService{cfg: cfg, store: store, pool: pool, log: log}
}

// SetMemory attaches the memory manager for state export on capture.
func (s *SnapshotService) SetMemory(m MemoryExporter) {
	s.memory = m
}

// SetMetrics attaches metric instruments.
func (s *SnapshotService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// Capture records the agent's config, state, pending tasks and memory as a
// new snapshot.
func (s *SnapshotService) Capture(ctx context.Context, agentID string, reason snapshot.Reason) (*snapshot.Snapshot, error) {
	rec, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	pending, err := s.store.PendingTasks(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var memoryState json.RawMessage
	if s.memory != nil {
		memoryState, err = s.memory.Export(ctx, agentID)
		if err != nil {
			s.log.Warn("memory export failed", "agent_id", agentID, "error", err)
		}
	}

	snap := snapshot.Snapshot{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		TakenAt:      time.Now().UTC(),
		Reason:       reason,
		State:        rec.State,
		Config:       rec.Config,
		PendingTasks: pending,
		MemoryState:  memoryState,
	}

	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SnapshotsTaken.Add(ctx, 1)
	}

	s.log.Info("snapshot captured", "snapshot_id", snap.ID, "agent_id", agentID,
		"reason", reason, "pending_tasks", len(pending))
	return &snap, nil
}

// Restore rebuilds an agent from a snapshot: any live runtime is stopped,
// a fresh one spawns with the snapshot's config, pending tasks re-enter the
// agent's inbox and memory is imported. Restoring the same snapshot twice
// converges to the same state.
func (s *SnapshotService) Restore(ctx context.Context, snapshotID string) (*database.AgentRecord, error) {
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	if cur, err := s.store.GetAgent(ctx, snap.AgentID); err == nil && !cur.State.Status.IsTerminal() {
		if err := s.pool.Stop(ctx, snap.AgentID, "restore from snapshot "+snapshotID, false); err != nil {
			return nil, fmt.Errorf("restore %s: stop live agent: %w", snapshotID, err)
		}
	}

	rec, err := s.pool.Spawn(ctx, snap.Config)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", snapshotID, err)
	}

	if s.memory != nil && len(snap.MemoryState) > 0 {
		if err := s.memory.Import(ctx, snap.AgentID, snap.MemoryState); err != nil {
			s.log.Warn("memory import failed", "agent_id", snap.AgentID, "error", err)
		}
	}

	// Pending tasks already exist in the store; they only need to re-enter
	// the dispatch stream. The runtime dedupes by task ID.
	requeued := 0
	for i := range snap.PendingTasks {
		t := snap.PendingTasks[i]
		if cur, err := s.store.GetTask(ctx, t.ID); err == nil && cur.Status.IsTerminal() {
			continue // finished between capture and restore
		}
		data, err := json.Marshal(t)
		if err != nil {
			continue
		}
		if err := s.pool.broker.Append(ctx, broker.InboxSubject(snap.AgentID), data); err != nil {
			s.log.Warn("task requeue failed", "task_id", t.ID, "error", err)
			continue
		}
		requeued++
	}

	s.log.Info("snapshot restored", "snapshot_id", snapshotID, "agent_id", snap.AgentID, "requeued", requeued)
	return rec, nil
}

// Get returns one snapshot by ID.
func (s *SnapshotService) Get(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	return s.store.GetSnapshot(ctx, id)
}

// List returns an agent's snapshots, newest first.
func (s *SnapshotService) List(ctx context.Context, agentID string) ([]snapshot.Snapshot, error) {
	return s.store.ListSnapshots(ctx, agentID)
}

// Latest returns an agent's most recent snapshot.
func (s *SnapshotService) Latest(ctx context.Context, agentID string) (*snapshot.Snapshot, error) {
	return s.store.LatestSnapshot(ctx, agentID)
}

// RunRetentionLoop prunes old snapshots on the configured interval.
func (s *SnapshotService) RunRetentionLoop(ctx context.Context) {
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

func (s *SnapshotService) sweep(ctx context.Context) {
	records, err := s.store.ListAgents(ctx)
	if err != nil {
		s.log.Error("snapshot sweep: list agents", "error", err)
		return
	}

	var pruned int64
	for i := range records {
		n, err := s.store.PruneSnapshots(ctx, records[i].Config.AgentID, s.cfg.KeepLast, s.cfg.KeepFor)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("snapshot prune failed", "agent_id", records[i].Config.AgentID, "error", err)
			continue
		}
		pruned += n
	}
	if pruned > 0 {
		s.log.Info("snapshots pruned", "count", pruned)
	}
}
