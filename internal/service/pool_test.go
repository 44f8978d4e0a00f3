package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/resource"
)

func testPoolConfig() config.Pool {
	return config.Pool{
		HealthInterval:   time.Minute,
		HeartbeatTimeout: time.Minute,
		StopGracePeriod:  time.Second,
		MaxRestarts:      3,
		RestartWindow:    10 * time.Minute,
		Budget:           resource.Limits{CPU: 8, MemoryMB: 8192},
	}
}

func newTestPool(t *testing.T) (*PoolService, *mockStore, *mockBroker, *mockLauncher, *mockHub) {
	t.Helper()
	store := newMockStore()
	brk := newMockBroker()
	launch := newMockLauncher()
	hub := &mockHub{}
	svc := NewPoolService(testPoolConfig(), store, brk, launch, hub, testLogger())
	return svc, store, brk, launch, hub
}

func dataAgentConfig(id string) agent.Config {
	return agent.Config{
		AgentID:       id,
		AgentType:     "data",
		Category:      agent.CategoryData,
		CPULimit:      1,
		MemoryLimitMB: 512,
	}
}

func TestPoolSpawn(t *testing.T) {
	svc, store, brk, launch, hub := newTestPool(t)
	ctx := context.Background()

	rec, err := svc.Spawn(ctx, dataAgentConfig("a1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State.Status != agent.StatusSpawning {
		t.Errorf("Status = %s, want spawning", rec.State.Status)
	}
	if rec.State.ContainerID != "inst-a1" {
		t.Errorf("ContainerID = %q, want launcher instance", rec.State.ContainerID)
	}

	stored, err := store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("agent not persisted: %v", err)
	}
	if stored.State.Status != agent.StatusSpawning {
		t.Errorf("persisted Status = %s, want spawning", stored.State.Status)
	}
	if len(launch.started) != 1 {
		t.Errorf("launcher started %d times, want 1", len(launch.started))
	}
	if len(brk.published) == 0 {
		t.Error("expected a lifecycle event publish")
	}
	if len(hub.eventTypes()) == 0 {
		t.Error("expected a dashboard broadcast")
	}
}

func TestPoolSpawnMissingID(t *testing.T) {
	svc, _, _, _, _ := newTestPool(t)

	_, err := svc.Spawn(context.Background(), agent.Config{Category: agent.CategoryData})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPoolSpawnInvalidCategory(t *testing.T) {
	svc, _, _, _, _ := newTestPool(t)

	cfg := dataAgentConfig("a1")
	cfg.Category = "bogus"
	_, err := svc.Spawn(context.Background(), cfg)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPoolSpawnDuplicate(t *testing.T) {
	svc, _, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Spawn(ctx, dataAgentConfig("a1"))
	if !errors.Is(err, domain.ErrDuplicateAgent) {
		t.Fatalf("expected ErrDuplicateAgent, got %v", err)
	}
}

func TestPoolSpawnBudgetExhausted(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Budget = resource.Limits{CPU: 1}
	store := newMockStore()
	svc := NewPoolService(cfg, store, newMockBroker(), newMockLauncher(), &mockHub{}, testLogger())
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Spawn(ctx, dataAgentConfig("a2"))
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestPoolSpawnLauncherFailure(t *testing.T) {
	svc, store, _, launch, _ := newTestPool(t)
	launch.startErr = errors.New("image pull failed")
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err == nil {
		t.Fatal("expected launch error")
	}

	rec, err := store.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("agent record missing: %v", err)
	}
	if rec.State.Status != agent.StatusError {
		t.Errorf("Status = %s, want error", rec.State.Status)
	}

	// Budget released: a replacement spawn must fit.
	launch.startErr = nil
	if _, err := svc.Spawn(ctx, dataAgentConfig("a2")); err != nil {
		t.Fatalf("budget not released: %v", err)
	}
}

func TestPoolStop(t *testing.T) {
	svc, store, brk, launch, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Stop(ctx, "a1", "test", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetAgent(ctx, "a1")
	if rec.State.Status != agent.StatusDead {
		t.Errorf("Status = %s, want dead", rec.State.Status)
	}
	if len(launch.stopped) != 1 {
		t.Errorf("launcher stopped %d times, want 1", len(launch.stopped))
	}
	if brk.appendedTo("agents.inbox.a1") == 0 {
		t.Error("expected stop command on the agent inbox")
	}
}

func TestPoolStopForce(t *testing.T) {
	svc, store, brk, launch, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Stop(ctx, "a1", "wedged", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetAgent(ctx, "a1")
	if rec.State.Status != agent.StatusDead {
		t.Errorf("Status = %s, want dead", rec.State.Status)
	}
	if len(launch.stopped) != 1 {
		t.Errorf("launcher stopped %d times, want 1", len(launch.stopped))
	}
	// Force kills the runtime without asking it to drain first.
	if brk.appendedTo("agents.inbox.a1") != 0 {
		t.Error("forced stop must not send a stop command")
	}
}

func TestPoolStopIdempotent(t *testing.T) {
	svc, _, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Stop(ctx, "a1", "test", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Stop(ctx, "a1", "again", false); err != nil {
		t.Fatalf("second stop must be a no-op, got %v", err)
	}
}

func TestPoolStopUnknownAgent(t *testing.T) {
	svc, _, _, _, _ := newTestPool(t)

	err := svc.Stop(context.Background(), "ghost", "test", false)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPoolSpawnReplacesDeadAgent(t *testing.T) {
	svc, store, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Stop(ctx, "a1", "test", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The agent ID is reusable once its previous incarnation is dead.
	rec, err := svc.Spawn(ctx, dataAgentConfig("a1"))
	if err != nil {
		t.Fatalf("respawn over dead agent: %v", err)
	}
	if rec.State.Status != agent.StatusSpawning {
		t.Errorf("Status = %s, want spawning", rec.State.Status)
	}

	stored, _ := store.GetAgent(ctx, "a1")
	if stored.State.Status != agent.StatusSpawning {
		t.Errorf("persisted Status = %s, want spawning", stored.State.Status)
	}
}

func TestPoolHandleHeartbeatActivates(t *testing.T) {
	svc, store, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hb := agent.Heartbeat{
		AgentID:        "a1",
		Status:         agent.StatusActive,
		TasksCompleted: 3,
		Timestamp:      time.Now().UTC(),
	}
	if err := svc.HandleHeartbeat(ctx, hb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetAgent(ctx, "a1")
	if rec.State.Status != agent.StatusActive {
		t.Errorf("Status = %s, want active after first heartbeat", rec.State.Status)
	}
	if rec.State.TasksCompleted != 3 {
		t.Errorf("TasksCompleted = %d, want 3", rec.State.TasksCompleted)
	}
	if rec.State.LastHeartbeat == nil {
		t.Error("LastHeartbeat not recorded")
	}
}

func TestPoolHandleHeartbeatIllegalStatusKept(t *testing.T) {
	svc, store, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// spawning -> busy is not a legal transition; the status must hold.
	hb := agent.Heartbeat{AgentID: "a1", Status: agent.StatusBusy, Timestamp: time.Now().UTC()}
	if err := svc.HandleHeartbeat(ctx, hb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetAgent(ctx, "a1")
	if rec.State.Status != agent.StatusSpawning {
		t.Errorf("Status = %s, want spawning preserved", rec.State.Status)
	}
	if rec.State.LastHeartbeat == nil {
		t.Error("heartbeat timestamp must still be recorded")
	}
}

func TestPoolRestart(t *testing.T) {
	svc, store, _, launch, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Restart(ctx, "a1", "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetAgent(ctx, "a1")
	if rec.State.Status != agent.StatusSpawning {
		t.Errorf("Status = %s, want spawning", rec.State.Status)
	}
	if rec.State.RestartCount != 1 {
		t.Errorf("RestartCount = %d, want 1", rec.State.RestartCount)
	}
	if len(launch.started) != 2 {
		t.Errorf("launcher started %d times, want 2", len(launch.started))
	}
}

func TestPoolRestartBudgetExhausted(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxRestarts = 1
	store := newMockStore()
	svc := NewPoolService(cfg, store, newMockBroker(), newMockLauncher(), &mockHub{}, testLogger())
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Restart(ctx, "a1", "fault 1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Out of restart budget: the second restart buries the agent instead.
	if err := svc.Restart(ctx, "a1", "fault 2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, _ := store.GetAgent(ctx, "a1")
	if rec.State.Status != agent.StatusDead {
		t.Errorf("Status = %s, want dead after exhausted restart budget", rec.State.Status)
	}
}

func TestPoolArchive(t *testing.T) {
	svc, store, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Stop(ctx, "a1", "test", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Archive(ctx, "a1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.GetAgent(ctx, "a1")
	if rec.State.Status != agent.StatusArchived {
		t.Errorf("Status = %s, want archived", rec.State.Status)
	}
}

func TestPoolArchiveRequiresDead(t *testing.T) {
	svc, _, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Archive(ctx, "a1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPoolStats(t *testing.T) {
	svc, store, _, _, _ := newTestPool(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := svc.Spawn(ctx, dataAgentConfig(id)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_ = store.UpdateAgentStatus(ctx, "a1", agent.StatusIdle)
	_ = store.UpdateAgentStatus(ctx, "a2", agent.StatusBusy)

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.Idle != 1 || stats.Busy != 1 {
		t.Errorf("Idle = %d, Busy = %d, want 1 and 1", stats.Idle, stats.Busy)
	}
	if stats.CPUReserved != 3 {
		t.Errorf("CPUReserved = %v, want 3", stats.CPUReserved)
	}
}

func TestPoolRegister(t *testing.T) {
	svc, store, _, launch, _ := newTestPool(t)
	ctx := context.Background()

	rec, err := svc.Register(ctx, dataAgentConfig("ext-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State.Status != agent.StatusSpawning {
		t.Errorf("Status = %s, want spawning", rec.State.Status)
	}
	if rec.State.ContainerID != "" {
		t.Errorf("ContainerID = %q, want empty for external runtime", rec.State.ContainerID)
	}
	if len(launch.started) != 0 {
		t.Error("register must not invoke the launcher")
	}

	// First heartbeat activates as with launched agents.
	hb := agent.Heartbeat{AgentID: "ext-1", Status: agent.StatusActive}
	if err := svc.HandleHeartbeat(ctx, hb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := store.GetAgent(ctx, "ext-1")
	if got.State.Status != agent.StatusActive {
		t.Errorf("Status = %s, want active after heartbeat", got.State.Status)
	}
}

func TestPoolRegisterDuplicate(t *testing.T) {
	svc, _, _, _, _ := newTestPool(t)
	ctx := context.Background()

	if _, err := svc.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Register(ctx, dataAgentConfig("a1")); !errors.Is(err, domain.ErrDuplicateAgent) {
		t.Fatalf("expected ErrDuplicateAgent, got %v", err)
	}
}
