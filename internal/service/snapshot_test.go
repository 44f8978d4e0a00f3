package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/snapshot"
	"github.com/meshworks/agentmesh/internal/domain/task"
)

// fakeMemory is a MemoryExporter that hands back canned state.
type fakeMemory struct {
	exported  map[string]json.RawMessage
	imported  map[string]json.RawMessage
	exportErr error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		exported: make(map[string]json.RawMessage),
		imported: make(map[string]json.RawMessage),
	}
}

func (f *fakeMemory) Export(_ context.Context, agentID string) (json.RawMessage, error) {
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return f.exported[agentID], nil
}

func (f *fakeMemory) Import(_ context.Context, agentID string, data json.RawMessage) error {
	f.imported[agentID] = data
	return nil
}

func snapshotConfig() config.Snapshots {
	return config.Snapshots{KeepLast: 5, KeepFor: 24 * time.Hour, SweepEach: time.Minute}
}

func newTestSnapshots(t *testing.T) (*SnapshotService, *mockStore, *mockBroker, *mockLauncher, *fakeMemory) {
	t.Helper()
	store := newMockStore()
	brk := newMockBroker()
	launch := newMockLauncher()
	pool := NewPoolService(testPoolConfig(), store, brk, launch, &mockHub{}, testLogger())
	svc := NewSnapshotService(snapshotConfig(), store, pool, testLogger())
	mem := newFakeMemory()
	svc.SetMemory(mem)
	return svc, store, brk, launch, mem
}

func TestCapture(t *testing.T) {
	svc, store, _, _, mem := newTestSnapshots(t)
	ctx := context.Background()
	addAgent(store, "a1", agent.CategoryData, agent.StatusIdle, 0, 7)
	store.tasks["t1"] = task.Task{ID: "t1", AgentID: "a1", Status: task.StatusSubmitted}
	store.tasks["t2"] = task.Task{ID: "t2", AgentID: "a1", Status: task.StatusCompleted}
	mem.exported["a1"] = json.RawMessage(`{"kv":{"k":"v"}}`)

	snap, err := svc.Capture(ctx, "a1", snapshot.ReasonManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Reason != snapshot.ReasonManual {
		t.Errorf("Reason = %s, want manual", snap.Reason)
	}
	if snap.State.TasksCompleted != 7 {
		t.Errorf("State.TasksCompleted = %d, want captured state", snap.State.TasksCompleted)
	}
	if len(snap.PendingTasks) != 1 || snap.PendingTasks[0].ID != "t1" {
		t.Errorf("PendingTasks = %+v, want only the non-terminal task", snap.PendingTasks)
	}
	if string(snap.MemoryState) != `{"kv":{"k":"v"}}` {
		t.Errorf("MemoryState = %s, want exported memory", snap.MemoryState)
	}

	if _, err := store.GetSnapshot(ctx, snap.ID); err != nil {
		t.Errorf("snapshot not persisted: %v", err)
	}
}

func TestCaptureSurvivesMemoryExportFailure(t *testing.T) {
	svc, store, _, _, mem := newTestSnapshots(t)
	addAgent(store, "a1", agent.CategoryData, agent.StatusIdle, 0, 0)
	mem.exportErr = errors.New("cache down")

	snap, err := svc.Capture(context.Background(), "a1", snapshot.ReasonScheduled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.MemoryState != nil {
		t.Errorf("MemoryState = %s, want empty on export failure", snap.MemoryState)
	}
}

func TestCaptureUnknownAgent(t *testing.T) {
	svc, _, _, _, _ := newTestSnapshots(t)

	_, err := svc.Capture(context.Background(), "ghost", snapshot.ReasonManual)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	svc, store, brk, launch, mem := newTestSnapshots(t)
	ctx := context.Background()

	// Live agent with a snapshot that carries a pending task and memory.
	if _, err := svc.pool.Spawn(ctx, dataAgentConfig("a1")); err != nil {
		t.Fatal(err)
	}
	store.tasks["t1"] = task.Task{ID: "t1", AgentID: "a1", Status: task.StatusSubmitted}
	store.tasks["t2"] = task.Task{ID: "t2", AgentID: "a1", Status: task.StatusSubmitted}
	mem.exported["a1"] = json.RawMessage(`{"kv":{"k":"v"}}`)
	snap, err := svc.Capture(ctx, "a1", snapshot.ReasonManual)
	if err != nil {
		t.Fatal(err)
	}

	// One task finishes between capture and restore; it must not requeue.
	done := store.tasks["t2"]
	done.Status = task.StatusCompleted
	store.tasks["t2"] = done

	rec, err := svc.Restore(ctx, snap.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State.Status != agent.StatusSpawning {
		t.Errorf("Status = %s, want spawning after restore", rec.State.Status)
	}
	if len(launch.stopped) != 1 {
		t.Errorf("old runtime stopped %d times, want 1", len(launch.stopped))
	}
	if len(launch.started) != 2 {
		t.Errorf("launcher started %d times, want 2 (original + restore)", len(launch.started))
	}

	if string(mem.imported["a1"]) != `{"kv":{"k":"v"}}` {
		t.Errorf("imported memory = %s, want snapshot memory", mem.imported["a1"])
	}

	// Inbox holds the stop command from the teardown plus exactly one
	// requeued task.
	requeued := 0
	for _, data := range brk.appended["agents.inbox.a1"] {
		var tk task.Task
		if json.Unmarshal(data, &tk) == nil && tk.ID == "t1" {
			requeued++
		}
		var tk2 task.Task
		if json.Unmarshal(data, &tk2) == nil && tk2.ID == "t2" {
			t.Error("completed task must not requeue")
		}
	}
	if requeued != 1 {
		t.Errorf("requeued = %d, want 1", requeued)
	}
}

func TestRestoreDeadAgentSkipsStop(t *testing.T) {
	svc, store, _, launch, _ := newTestSnapshots(t)
	ctx := context.Background()

	addAgent(store, "a1", agent.CategoryData, agent.StatusDead, 0, 0)
	snap := snapshot.Snapshot{
		ID:      "s1",
		AgentID: "a1",
		TakenAt: time.Now().UTC(),
		Reason:  snapshot.ReasonManual,
		Config:  dataAgentConfig("a1"),
	}
	if err := store.CreateSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	rec, err := svc.Restore(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.State.Status != agent.StatusSpawning {
		t.Errorf("Status = %s, want spawning", rec.State.Status)
	}
	if len(launch.stopped) != 0 {
		t.Error("dead agent needs no teardown")
	}
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	svc, _, _, _, _ := newTestSnapshots(t)

	_, err := svc.Restore(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	svc, store, _, _, _ := newTestSnapshots(t)
	ctx := context.Background()

	old := snapshot.Snapshot{ID: "s1", AgentID: "a1", TakenAt: time.Now().Add(-time.Hour)}
	recent := snapshot.Snapshot{ID: "s2", AgentID: "a1", TakenAt: time.Now()}
	_ = store.CreateSnapshot(ctx, old)
	_ = store.CreateSnapshot(ctx, recent)

	got, err := svc.Latest(ctx, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "s2" {
		t.Errorf("Latest = %s, want s2", got.ID)
	}
}
