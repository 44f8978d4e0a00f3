package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/meshworks/agentmesh/internal/adapter/otel"
	"github.com/meshworks/agentmesh/internal/adapter/ws"
	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/event"
	"github.com/meshworks/agentmesh/internal/domain/message"
	"github.com/meshworks/agentmesh/internal/domain/resource"
	"github.com/meshworks/agentmesh/internal/domain/snapshot"
	"github.com/meshworks/agentmesh/internal/port/broadcast"
	"github.com/meshworks/agentmesh/internal/port/broker"
	"github.com/meshworks/agentmesh/internal/port/database"
	"github.com/meshworks/agentmesh/internal/port/launcher"
)

// lockStripes is the number of per-agent lock stripes. Operations on the
// same agent serialize; operations on different agents usually proceed in
// parallel.
const lockStripes = 32

// Snapshotter captures an agent snapshot before disruptive operations.
type Snapshotter interface {
	Capture(ctx context.Context, agentID string, reason snapshot.Reason) (*snapshot.Snapshot, error)
}

// PoolService owns agent lifecycle: spawn, stop, pause, resume, restart and
// health supervision. All status transitions go through the pool so the
// lifecycle state machine is enforced in one place.
type PoolService struct {
	cfg    config.Pool
	store  database.Store
	broker broker.Broker
	launch launcher.Launcher
	hub    broadcast.Broadcaster
	budget *resource.Budget
	log    *slog.Logger

	snap    Snapshotter
	metrics *otel.Metrics

	locks [lockStripes]sync.Mutex

	mu       sync.Mutex
	restarts map[string][]time.Time // agent ID -> recent restart times
}

// NewPoolService creates a PoolService.
func NewPoolService(
	cfg config.Pool,
	store database.Store,
	brk broker.Broker,
	launch launcher.Launcher,
	hub broadcast.Broadcaster,
	log *slog.Logger,
) *PoolService {
	return &PoolService{
		cfg:      cfg,
		store:    store,
		broker:   brk,
		launch:   launch,
		hub:      hub,
		budget:   resource.NewBudget(cfg.Budget),
		log:      log,
		restarts: make(map[string][]time.Time),
	}
}

// SetSnapshotter attaches the snapshot service for pre-restart captures.
func (s *PoolService) SetSnapshotter(snap Snapshotter) {
	s.snap = snap
}

// SetMetrics attaches metric instruments.
func (s *PoolService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// lock returns the stripe lock for an agent ID.
func (s *PoolService) lock(agentID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return &s.locks[h.Sum32()%lockStripes]
}

// List returns all agents with their current state.
func (s *PoolService) List(ctx context.Context) ([]database.AgentRecord, error) {
	return s.store.ListAgents(ctx)
}

// Get returns one agent record.
func (s *PoolService) Get(ctx context.Context, id string) (*database.AgentRecord, error) {
	return s.store.GetAgent(ctx, id)
}

// Activity returns an agent's recent activity log entries, newest first.
func (s *PoolService) Activity(ctx context.Context, id string, limit int) ([]database.ActivityEntry, error) {
	return s.store.ListActivity(ctx, id, limit)
}

// Spawn validates the config, reserves budget, persists the agent and
// launches its runtime. The agent starts in spawning and becomes active
// once its first heartbeat arrives.
func (s *PoolService) Spawn(ctx context.Context, cfg agent.Config) (*database.AgentRecord, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("spawn: agent_id is required: %w", domain.ErrValidation)
	}
	if !agent.ValidCategory(cfg.Category) {
		return nil, fmt.Errorf("spawn %s: invalid category %q: %w", cfg.AgentID, cfg.Category, domain.ErrValidation)
	}
	cfg.Normalize()

	mu := s.lock(cfg.AgentID)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.store.GetAgent(ctx, cfg.AgentID); err == nil && !existing.State.Status.IsTerminal() {
		return nil, fmt.Errorf("spawn %s: %w", cfg.AgentID, domain.ErrDuplicateAgent)
	}

	limits := resource.Limits{CPU: cfg.CPULimit, MemoryMB: cfg.MemoryLimitMB}
	if !s.budget.Reserve(cfg.AgentID, limits) {
		return nil, fmt.Errorf("spawn %s: pool budget exceeded: %w", cfg.AgentID, domain.ErrResourceExhausted)
	}

	now := time.Now().UTC()
	st := agent.State{
		AgentID:   cfg.AgentID,
		Status:    agent.StatusSpawning,
		StartedAt: &now,
	}

	if err := s.store.CreateAgent(ctx, cfg, st); err != nil {
		s.budget.Release(cfg.AgentID)
		return nil, err
	}

	instanceID, err := s.launch.Start(ctx, cfg)
	if err != nil {
		s.budget.Release(cfg.AgentID)
		st.Status = agent.StatusError
		st.ErrorMessage = err.Error()
		_ = s.store.UpdateAgentState(ctx, st)
		return nil, fmt.Errorf("spawn %s: %w", cfg.AgentID, err)
	}

	st.ContainerID = instanceID
	if err := s.store.UpdateAgentState(ctx, st); err != nil {
		return nil, err
	}

	s.recordActivity(ctx, cfg.AgentID, "spawned", "runtime "+instanceID)
	s.publishEvent(ctx, event.Event{
		AgentID: cfg.AgentID, Type: event.TypeSpawned,
		To: agent.StatusSpawning, Timestamp: now,
	})
	s.hub.BroadcastEvent(ctx, ws.EventAgentSpawned, ws.AgentStatusEvent{
		AgentID: cfg.AgentID, Status: string(agent.StatusSpawning),
	})
	if s.metrics != nil {
		s.metrics.AgentsSpawned.Add(ctx, 1)
	}

	s.log.Info("agent spawned", "agent_id", cfg.AgentID, "category", cfg.Category, "instance", instanceID)
	return &database.AgentRecord{Config: cfg, State: st}, nil
}

// Register adopts an externally launched runtime into the pool. The
// launcher is not involved; the runtime heartbeats on its own and the
// first heartbeat completes spawning as usual.
func (s *PoolService) Register(ctx context.Context, cfg agent.Config) (*database.AgentRecord, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("register: agent_id is required: %w", domain.ErrValidation)
	}
	if !agent.ValidCategory(cfg.Category) {
		return nil, fmt.Errorf("register %s: invalid category %q: %w", cfg.AgentID, cfg.Category, domain.ErrValidation)
	}
	cfg.Normalize()

	mu := s.lock(cfg.AgentID)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.store.GetAgent(ctx, cfg.AgentID); err == nil && !existing.State.Status.IsTerminal() {
		return nil, fmt.Errorf("register %s: %w", cfg.AgentID, domain.ErrDuplicateAgent)
	}

	limits := resource.Limits{CPU: cfg.CPULimit, MemoryMB: cfg.MemoryLimitMB}
	if !s.budget.Reserve(cfg.AgentID, limits) {
		return nil, fmt.Errorf("register %s: pool budget exceeded: %w", cfg.AgentID, domain.ErrResourceExhausted)
	}

	now := time.Now().UTC()
	st := agent.State{
		AgentID:   cfg.AgentID,
		Status:    agent.StatusSpawning,
		StartedAt: &now,
	}
	if err := s.store.CreateAgent(ctx, cfg, st); err != nil {
		s.budget.Release(cfg.AgentID)
		return nil, err
	}

	s.recordActivity(ctx, cfg.AgentID, "registered", "external runtime")
	s.publishEvent(ctx, event.Event{
		AgentID: cfg.AgentID, Type: event.TypeSpawned,
		To: agent.StatusSpawning, Timestamp: now,
	})
	s.hub.BroadcastEvent(ctx, ws.EventAgentSpawned, ws.AgentStatusEvent{
		AgentID: cfg.AgentID, Status: string(agent.StatusSpawning),
	})

	s.log.Info("agent registered", "agent_id", cfg.AgentID, "category", cfg.Category)
	return &database.AgentRecord{Config: cfg, State: st}, nil
}

// Stop shuts an agent down: it is told to stop, given the grace period,
// then its runtime is terminated and budget released. With force set, the
// drain is skipped and the runtime is killed immediately. The agent ends
// in dead either way.
func (s *PoolService) Stop(ctx context.Context, id, reason string, force bool) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	return s.stopLocked(ctx, id, reason, force)
}

// stopLocked must be called with the agent's stripe lock held.
func (s *PoolService) stopLocked(ctx context.Context, id, reason string, force bool) error {
	rec, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if rec.State.Status.IsTerminal() {
		return nil // already stopped
	}

	// Spawning and errored agents never reach shutdown; they go through
	// error on the way to dead.
	next := agent.StatusShutdown
	if !rec.State.Status.CanTransition(agent.StatusShutdown) {
		next = agent.StatusError
	}
	if err := s.transition(ctx, rec, next, reason); err != nil {
		return err
	}

	// Tell the runtime to finish in-flight work and exit. A forced stop
	// skips the courtesy: in-flight tasks redeliver to another agent.
	if !force {
		if cmd, err := message.NewCommand(id, message.CommandStop); err == nil {
			if data, err := json.Marshal(cmd); err == nil {
				if err := s.broker.Append(ctx, broker.InboxSubject(id), data); err != nil {
					s.log.Warn("stop command publish failed", "agent_id", id, "error", err)
				}
			}
		}
	}

	if rec.State.ContainerID != "" {
		grace := s.cfg.StopGracePeriod
		if force {
			grace = time.Second
		}
		stopCtx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()
		if err := s.launch.Stop(stopCtx, rec.State.ContainerID); err != nil {
			s.log.Warn("runtime stop failed", "agent_id", id, "error", err)
		}
	}

	if err := s.transition(ctx, rec, agent.StatusDead, reason); err != nil {
		return err
	}

	s.budget.Release(id)
	s.recordActivity(ctx, id, "stopped", reason)
	s.hub.BroadcastEvent(ctx, ws.EventAgentStopped, ws.AgentStatusEvent{
		AgentID: id, Status: string(agent.StatusDead), Reason: reason,
	})
	if s.metrics != nil {
		s.metrics.AgentsStopped.Add(ctx, 1)
	}

	s.log.Info("agent stopped", "agent_id", id, "reason", reason)
	return nil
}

// Pause stops new task intake. The runtime keeps heartbeating and finishes
// in-flight tasks.
func (s *PoolService) Pause(ctx context.Context, id string) error {
	return s.command(ctx, id, agent.StatusPaused, message.CommandPause)
}

// Resume returns a paused agent to idle.
func (s *PoolService) Resume(ctx context.Context, id string) error {
	return s.command(ctx, id, agent.StatusIdle, message.CommandResume)
}

func (s *PoolService) command(ctx context.Context, id string, next agent.Status, name message.CommandName) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, rec, next, string(name)); err != nil {
		return err
	}

	cmd, err := message.NewCommand(id, name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := s.broker.Append(ctx, broker.InboxSubject(id), data); err != nil {
		return fmt.Errorf("publish %s command: %w", name, err)
	}
	return nil
}

// Restart tears the agent's runtime down and spawns a fresh one with the
// same config. A pre-restart snapshot is captured when a snapshotter is
// attached. Restarts are budgeted: more than MaxRestarts within
// RestartWindow marks the agent dead instead.
func (s *PoolService) Restart(ctx context.Context, id, reason string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}

	if !s.allowRestart(id) {
		s.log.Warn("restart budget exhausted", "agent_id", id)
		return s.stopLocked(ctx, id, "restart budget exhausted", false)
	}

	if s.snap != nil {
		if _, err := s.snap.Capture(ctx, id, snapshot.ReasonPreRestart); err != nil {
			s.log.Warn("pre-restart snapshot failed", "agent_id", id, "error", err)
		}
	}

	if rec.State.ContainerID != "" {
		stopCtx, cancel := context.WithTimeout(ctx, s.cfg.StopGracePeriod)
		_ = s.launch.Stop(stopCtx, rec.State.ContainerID)
		cancel()
	}

	// Restart re-enters the lifecycle at spawning through error, which is
	// the state a faulted or torn-down agent is in.
	if rec.State.Status != agent.StatusError {
		if err := s.transition(ctx, rec, agent.StatusError, reason); err != nil {
			return err
		}
	}

	instanceID, err := s.launch.Start(ctx, rec.Config)
	if err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}

	now := time.Now().UTC()
	st := rec.State
	st.Status = agent.StatusSpawning
	st.ContainerID = instanceID
	st.StartedAt = &now
	st.LastHeartbeat = nil
	st.CurrentTaskID = ""
	st.InFlightTasks = 0
	st.RestartCount++
	st.ErrorMessage = ""

	if err := s.store.UpdateAgentState(ctx, st); err != nil {
		return err
	}

	s.recordRestart(id)
	s.recordActivity(ctx, id, "restarted", reason)
	s.publishEvent(ctx, event.Event{
		AgentID: id, Type: event.TypeRestarted,
		From: rec.State.Status, To: agent.StatusSpawning,
		Reason: reason, Timestamp: now,
	})
	s.hub.BroadcastEvent(ctx, ws.EventAgentStatus, ws.AgentStatusEvent{
		AgentID: id, Status: string(agent.StatusSpawning), Reason: reason,
	})
	if s.metrics != nil {
		s.metrics.AgentsRestarted.Add(ctx, 1)
	}

	s.log.Info("agent restarted", "agent_id", id, "restarts", st.RestartCount, "reason", reason)
	return nil
}

// Archive preserves a dead agent's records and removes it from scheduling
// forever.
func (s *PoolService) Archive(ctx context.Context, id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, rec, agent.StatusArchived, "archived"); err != nil {
		return err
	}
	s.recordActivity(ctx, id, "status_change", "archived")
	return nil
}

// HandleHeartbeat folds a runtime heartbeat into the agent's state. The
// first heartbeat completes the spawning phase.
func (s *PoolService) HandleHeartbeat(ctx context.Context, hb agent.Heartbeat) error {
	mu := s.lock(hb.AgentID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.store.GetAgent(ctx, hb.AgentID)
	if err != nil {
		return err
	}
	if rec.State.Status.IsTerminal() {
		return nil // late heartbeat from a stopped runtime
	}

	st := rec.State
	now := hb.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	st.LastHeartbeat = &now
	st.InFlightTasks = hb.InFlightTasks
	st.TasksCompleted = hb.TasksCompleted
	st.TasksFailed = hb.TasksFailed

	// The runtime reports its own view of its status; the pool accepts it
	// when the transition is legal, otherwise keeps the current status.
	if hb.Status != "" && hb.Status != st.Status {
		if st.Status.CanTransition(hb.Status) {
			prev := st.Status
			st.Status = hb.Status
			s.publishEvent(ctx, event.Event{
				AgentID: hb.AgentID, Type: event.TypeStatusChange,
				From: prev, To: hb.Status, Timestamp: now,
			})
		}
	}

	if err := s.store.UpdateAgentState(ctx, st); err != nil {
		return err
	}

	s.hub.BroadcastEvent(ctx, ws.EventHeartbeat, ws.HeartbeatEvent{
		AgentID:   hb.AgentID,
		Status:    string(st.Status),
		InFlight:  st.InFlightTasks,
		Completed: int64(st.TasksCompleted),
		Failed:    int64(st.TasksFailed),
		Timestamp: now,
	})
	return nil
}

// StartHeartbeatSubscriber subscribes to runtime heartbeats on the broker.
func (s *PoolService) StartHeartbeatSubscriber(ctx context.Context) (func(), error) {
	return s.broker.Subscribe(ctx, broker.SubjectHeartbeats, func(ctx context.Context, _ string, data []byte) error {
		var hb agent.Heartbeat
		if err := json.Unmarshal(data, &hb); err != nil {
			return fmt.Errorf("decode heartbeat: %w", err)
		}
		return s.HandleHeartbeat(ctx, hb)
	})
}

// RunHealthLoop polls agent health every HealthInterval until ctx is done.
func (s *PoolService) RunHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

// checkHealth marks agents with stale heartbeats or dead runtimes as
// errored, then restarts or buries them according to their auto-restart
// setting.
func (s *PoolService) checkHealth(ctx context.Context) {
	records, err := s.store.ListAgents(ctx)
	if err != nil {
		s.log.Error("health poll: list agents", "error", err)
		return
	}

	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		st := &rec.State

		if st.Status.IsTerminal() || st.Status == agent.StatusSpawning || st.Status == agent.StatusError {
			continue
		}

		stale := st.HeartbeatAge(now) > s.cfg.HeartbeatTimeout
		alive := true
		if st.ContainerID != "" {
			alive, _ = s.launch.Alive(ctx, st.ContainerID)
		}
		if !stale && alive {
			continue
		}

		reason := "runtime exited"
		if stale {
			reason = fmt.Sprintf("heartbeat stale for %s", st.HeartbeatAge(now).Round(time.Second))
		}
		s.log.Warn("agent unhealthy", "agent_id", st.AgentID, "reason", reason)

		mu := s.lock(st.AgentID)
		mu.Lock()
		if err := s.transition(ctx, rec, agent.StatusError, reason); err != nil {
			mu.Unlock()
			continue
		}
		mu.Unlock()

		if rec.Config.AutoRestart {
			if err := s.Restart(ctx, st.AgentID, reason); err != nil {
				s.log.Error("auto-restart failed", "agent_id", st.AgentID, "error", err)
			}
		} else {
			mu.Lock()
			_ = s.stopLocked(ctx, st.AgentID, reason, false)
			mu.Unlock()
		}
	}
}

// Stats returns aggregate pool counters for the dashboard.
func (s *PoolService) Stats(ctx context.Context) (ws.PoolStatsEvent, error) {
	records, err := s.store.ListAgents(ctx)
	if err != nil {
		return ws.PoolStatsEvent{}, err
	}

	var stats ws.PoolStatsEvent
	for i := range records {
		switch records[i].State.Status {
		case agent.StatusActive:
			stats.Active++
		case agent.StatusIdle:
			stats.Idle++
		case agent.StatusBusy:
			stats.Busy++
		case agent.StatusError:
			stats.Errored++
		}
		if !records[i].State.Status.IsTerminal() {
			stats.Total++
		}
	}

	committed := s.budget.Committed()
	stats.CPUReserved = committed.CPU
	stats.MemReserved = committed.MemoryMB
	return stats, nil
}

// transition validates and persists a status change, then publishes the
// lifecycle event. The caller holds the agent's stripe lock. rec.State is
// updated in place on success.
func (s *PoolService) transition(ctx context.Context, rec *database.AgentRecord, next agent.Status, reason string) error {
	prev := rec.State.Status
	if prev == next {
		return nil
	}
	if !prev.CanTransition(next) {
		return fmt.Errorf("agent %s: illegal transition %s -> %s: %w",
			rec.State.AgentID, prev, next, domain.ErrValidation)
	}

	rec.State.Status = next
	if next == agent.StatusError {
		rec.State.ErrorMessage = reason
	}
	if err := s.store.UpdateAgentState(ctx, rec.State); err != nil {
		rec.State.Status = prev
		return err
	}

	s.publishEvent(ctx, event.Event{
		AgentID: rec.State.AgentID, Type: event.TypeStatusChange,
		From: prev, To: next, Reason: reason, Timestamp: time.Now().UTC(),
	})
	s.hub.BroadcastEvent(ctx, ws.EventAgentStatus, ws.AgentStatusEvent{
		AgentID: rec.State.AgentID, Status: string(next),
		Previous: string(prev), Reason: reason,
	})
	return nil
}

func (s *PoolService) publishEvent(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.broker.Publish(ctx, broker.SubjectAgentEvents, data); err != nil {
		s.log.Warn("lifecycle event publish failed", "agent_id", ev.AgentID, "error", err)
	}
}

func (s *PoolService) recordActivity(ctx context.Context, agentID, kind, detail string) {
	err := s.store.RecordActivity(ctx, database.ActivityEntry{
		AgentID:   agentID,
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("activity record failed", "agent_id", agentID, "error", err)
	}
}

// allowRestart reports whether the agent still has restart budget within
// the rolling window.
func (s *PoolService) allowRestart(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.cfg.RestartWindow)
	recent := s.restarts[agentID][:0]
	for _, t := range s.restarts[agentID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	s.restarts[agentID] = recent
	return len(recent) < s.cfg.MaxRestarts
}

func (s *PoolService) recordRestart(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts[agentID] = append(s.restarts[agentID], time.Now())
}
