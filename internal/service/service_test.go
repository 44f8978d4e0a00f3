package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/message"
	"github.com/meshworks/agentmesh/internal/domain/metrics"
	"github.com/meshworks/agentmesh/internal/domain/snapshot"
	"github.com/meshworks/agentmesh/internal/domain/task"
	"github.com/meshworks/agentmesh/internal/port/broadcast"
	"github.com/meshworks/agentmesh/internal/port/broker"
	"github.com/meshworks/agentmesh/internal/port/database"
	"github.com/meshworks/agentmesh/internal/port/launcher"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ database.Store        = (*mockStore)(nil)
	_ broker.Broker         = (*mockBroker)(nil)
	_ launcher.Launcher     = (*mockLauncher)(nil)
	_ broadcast.Broadcaster = (*mockHub)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// --- mockStore ---

type mockStore struct {
	mu        sync.Mutex
	agents    map[string]database.AgentRecord
	tasks     map[string]task.Task
	messages  []message.Message
	samples   []metrics.Sample
	snapshots map[string]snapshot.Snapshot
	activity  []database.ActivityEntry
	approvals map[string]database.Approval

	createAgentErr error
	pruned         int64
}

func newMockStore() *mockStore {
	return &mockStore{
		agents:    make(map[string]database.AgentRecord),
		tasks:     make(map[string]task.Task),
		snapshots: make(map[string]snapshot.Snapshot),
		approvals: make(map[string]database.Approval),
	}
}

func (m *mockStore) ListAgents(_ context.Context) ([]database.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]database.AgentRecord, 0, len(m.agents))
	for _, rec := range m.agents {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.AgentID < out[j].Config.AgentID })
	return out, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*database.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return &rec, nil
}

func (m *mockStore) CreateAgent(_ context.Context, cfg agent.Config, st agent.State) error {
	if m.createAgentErr != nil {
		return m.createAgentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Mirrors the store's upsert: terminal rows may be replaced, live rows
	// are a conflict.
	if existing, ok := m.agents[cfg.AgentID]; ok && !existing.State.Status.IsTerminal() {
		return fmt.Errorf("agent %s: %w", cfg.AgentID, domain.ErrDuplicateAgent)
	}
	m.agents[cfg.AgentID] = database.AgentRecord{Config: cfg, State: st}
	return nil
}

func (m *mockStore) UpdateAgentState(_ context.Context, st agent.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[st.AgentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", st.AgentID, domain.ErrNotFound)
	}
	rec.State = st
	m.agents[st.AgentID] = rec
	return nil
}

func (m *mockStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	rec.State.Status = status
	m.agents[id] = rec
	return nil
}

func (m *mockStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[id]; !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	delete(m.agents, id)
	return nil
}

func (m *mockStore) ListTasks(_ context.Context, agentID string, _ int) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if agentID == "" || t.AgentID == agentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

func (m *mockStore) CreateTask(_ context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) UpdateTask(_ context.Context, t task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) PendingTasks(_ context.Context, agentID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.AgentID == agentID && !t.Status.IsTerminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) QueuedTasks(_ context.Context) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.AgentID == "" && t.Status == task.StatusSubmitted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) CountPendingTasks(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, t := range m.tasks {
		if !t.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) RecordMessage(_ context.Context, msg message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockStore) ListMessages(_ context.Context, agentID string, _ int) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Message
	for _, msg := range m.messages {
		if msg.FromAgent == agentID || msg.ToAgent == agentID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockStore) RecordMetrics(_ context.Context, s metrics.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *mockStore) PruneMetrics(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.samples[:0]
	var n int64
	for _, s := range m.samples {
		if s.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.samples = kept
	return n, nil
}

func (m *mockStore) PruneMessages(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	var n int64
	for _, msg := range m.messages {
		if msg.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

func (m *mockStore) ListMetrics(_ context.Context, agentID string, since time.Time) ([]metrics.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []metrics.Sample
	for _, s := range m.samples {
		if s.AgentID == agentID && s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) CreateSnapshot(_ context.Context, s snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ID] = s
	return nil
}

func (m *mockStore) GetSnapshot(_ context.Context, id string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", id, domain.ErrNotFound)
	}
	return &s, nil
}

func (m *mockStore) LatestSnapshot(_ context.Context, agentID string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *snapshot.Snapshot
	for _, s := range m.snapshots {
		if s.AgentID != agentID {
			continue
		}
		s := s
		if latest == nil || s.TakenAt.After(latest.TakenAt) {
			latest = &s
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	return latest, nil
}

func (m *mockStore) ListSnapshots(_ context.Context, agentID string) ([]snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []snapshot.Snapshot
	for _, s := range m.snapshots {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) PruneSnapshots(_ context.Context, _ string, _ int, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruned, nil
}

func (m *mockStore) RecordActivity(_ context.Context, e database.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, e)
	return nil
}

func (m *mockStore) ListActivity(_ context.Context, agentID string, _ int) ([]database.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.ActivityEntry
	for _, e := range m.activity {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) CreateApproval(_ context.Context, a database.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[a.ID] = a
	return nil
}

func (m *mockStore) GetApproval(_ context.Context, id string) (*database.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (m *mockStore) ListApprovals(_ context.Context, status string) ([]database.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Approval
	for _, a := range m.approvals {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) ResolveApproval(_ context.Context, id, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok || a.Status != "pending" {
		return fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	now := time.Now().UTC()
	a.Status = status
	a.Reason = reason
	a.ResolvedAt = &now
	m.approvals[id] = a
	return nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }
func (m *mockStore) Close()                       {}

// --- mockBroker ---

type mockBroker struct {
	mu        sync.Mutex
	published map[string][][]byte // core subjects
	appended  map[string][][]byte // durable stream subjects
	appendErr error
	connected bool
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		published: make(map[string][][]byte),
		appended:  make(map[string][][]byte),
		connected: true,
	}
}

func (m *mockBroker) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[subject] = append(m.published[subject], data)
	return nil
}

func (m *mockBroker) Subscribe(_ context.Context, _ string, _ broker.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockBroker) Append(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended[subject] = append(m.appended[subject], data)
	return nil
}

func (m *mockBroker) Consume(_ context.Context, _, _ string, _ broker.DeliveryHandler) (func(), error) {
	return func() {}, nil
}

func (m *mockBroker) Drain() error      { return nil }
func (m *mockBroker) Close() error      { return nil }
func (m *mockBroker) IsConnected() bool { return m.connected }

func (m *mockBroker) appendedTo(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appended[subject])
}

// --- mockLauncher ---

type mockLauncher struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	startErr error
	dead     map[string]bool
}

func newMockLauncher() *mockLauncher {
	return &mockLauncher{dead: make(map[string]bool)}
}

func (m *mockLauncher) Start(_ context.Context, cfg agent.Config) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	id := "inst-" + cfg.AgentID
	m.started = append(m.started, id)
	return id, nil
}

func (m *mockLauncher) Stop(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, instanceID)
	return nil
}

func (m *mockLauncher) Alive(_ context.Context, instanceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.dead[instanceID], nil
}

// --- mockHub ---

type hubEvent struct {
	eventType string
	payload   any
}

type mockHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (m *mockHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, hubEvent{eventType, payload})
}

func (m *mockHub) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.eventType
	}
	return out
}
