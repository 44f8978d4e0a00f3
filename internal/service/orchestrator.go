package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/agentmesh/internal/adapter/otel"
	"github.com/meshworks/agentmesh/internal/adapter/ws"
	"github.com/meshworks/agentmesh/internal/config"
	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/gap"
	"github.com/meshworks/agentmesh/internal/domain/message"
	"github.com/meshworks/agentmesh/internal/domain/task"
	"github.com/meshworks/agentmesh/internal/domain/template"
	"github.com/meshworks/agentmesh/internal/port/broadcast"
	"github.com/meshworks/agentmesh/internal/port/broker"
	"github.com/meshworks/agentmesh/internal/port/database"
	"github.com/meshworks/agentmesh/internal/resilience"
)

// resultConsumer is the durable consumer name for task results. All
// control-plane replicas share it, so each result is processed once.
const resultConsumer = "orchestrator"

// dispatchEvery is how often queued (unassigned) tasks are retried against
// the pool.
const dispatchEvery = 5 * time.Second

// OrchestratorService routes tasks and messages between agents. It owns
// target resolution, dispatch, result handling and retries.
type OrchestratorService struct {
	store   database.Store
	broker  broker.Broker
	hub     broadcast.Broadcaster
	breaker *resilience.Breaker
	log     *slog.Logger

	metrics *otel.Metrics

	// Self-heal wiring; nil until SetSelfHeal.
	healCfg config.Gaps
	gaps    *GapService
	factory *FactoryService

	mu      sync.Mutex
	waiters map[string]chan message.Message // correlation ID -> response waiter
}

// NewOrchestratorService creates an OrchestratorService.
func NewOrchestratorService(
	store database.Store,
	brk broker.Broker,
	hub broadcast.Broadcaster,
	breaker *resilience.Breaker,
	log *slog.Logger,
) *OrchestratorService {
	return &OrchestratorService{
		store:   store,
		broker:  brk,
		hub:     hub,
		breaker: breaker,
		log:     log,
		waiters: make(map[string]chan message.Message),
	}
}

// SetMetrics attaches metric instruments.
func (s *OrchestratorService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// SetSelfHeal wires the coverage loop: the gap scanner reports holes and
// the orchestrator closes them through the factory.
func (s *OrchestratorService) SetSelfHeal(cfg config.Gaps, gaps *GapService, factory *FactoryService) {
	s.healCfg = cfg
	s.gaps = gaps
	s.factory = factory
}

// SubmitTask validates the request, resolves the target agent and appends
// the task to that agent's durable inbox.
func (s *OrchestratorService) SubmitTask(ctx context.Context, req task.SubmitRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("submit task: %s: %w", err, domain.ErrValidation)
	}

	agentID, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	t := task.Task{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Category:       req.Category,
		TaskType:       req.TaskType,
		Payload:        req.Payload,
		Priority:       req.Priority,
		TimeoutSeconds: req.TimeoutSeconds,
		Status:         task.StatusSubmitted,
		RequesterAgent: req.RequesterAgent,
		MaxRetries:     3,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	if agentID == "" {
		// No agent can take the task right now; it stays queued until the
		// dispatch loop finds one.
		if s.metrics != nil {
			s.metrics.TasksSubmitted.Add(ctx, 1)
		}
		s.hub.BroadcastEvent(ctx, ws.EventTaskUpdate, ws.TaskUpdateEvent{
			TaskID: t.ID, Status: string(t.Status),
		})
		s.log.Info("task queued", "task_id", t.ID, "category", t.Category, "type", t.TaskType)
		return &t, nil
	}

	if err := s.dispatch(ctx, &t); err != nil {
		t.Status = task.StatusFailed
		t.Error = err.Error()
		_ = s.store.UpdateTask(ctx, t)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TasksSubmitted.Add(ctx, 1)
	}
	s.hub.BroadcastEvent(ctx, ws.EventTaskUpdate, ws.TaskUpdateEvent{
		TaskID: t.ID, AgentID: t.AgentID, Status: string(t.Status),
	})

	s.log.Info("task submitted", "task_id", t.ID, "agent_id", agentID, "type", t.TaskType)
	return &t, nil
}

// dispatch appends the task to the target agent's durable inbox, behind the
// circuit breaker, then marks it running. An open circuit surfaces as
// ErrBrokerUnavailable.
func (s *OrchestratorService) dispatch(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	err = s.breaker.Execute(func() error {
		return s.broker.Append(ctx, broker.InboxSubject(t.AgentID), data)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("dispatch task %s: %w", t.ID, domain.ErrBrokerUnavailable)
		}
		return fmt.Errorf("dispatch task %s: %w", t.ID, err)
	}

	now := time.Now().UTC()
	t.Status = task.StatusRunning
	t.StartedAt = &now
	return s.store.UpdateTask(ctx, *t)
}

// resolveTarget picks the agent that will run the task. A named agent must
// be schedulable. A category prefers the least-busy schedulable agent and
// falls back to the least-busy busy agent, whose durable inbox queues the
// task until a slot frees. An empty result means no agent can take the task
// yet; it stays queued for the dispatch loop.
func (s *OrchestratorService) resolveTarget(ctx context.Context, req task.SubmitRequest) (string, error) {
	if req.AgentID != "" {
		rec, err := s.store.GetAgent(ctx, req.AgentID)
		if err != nil {
			return "", err
		}
		if !rec.State.Status.IsSchedulable() {
			return "", fmt.Errorf("agent %s is %s: %w", req.AgentID, rec.State.Status, domain.ErrValidation)
		}
		return req.AgentID, nil
	}

	records, err := s.store.ListAgents(ctx)
	if err != nil {
		return "", err
	}
	return pickAgent(records, req.Category), nil
}

// pickAgent routes within a category: fewest in-flight tasks, then fewest
// total processed, then lowest agent ID. Busy agents are a second-choice
// target so a fully loaded category still accepts work.
func pickAgent(records []database.AgentRecord, cat agent.Category) string {
	var best, busy *database.AgentRecord
	for i := range records {
		rec := &records[i]
		if rec.Config.Category != cat {
			continue
		}
		switch {
		case rec.State.Status.IsSchedulable():
			if best == nil || lessBusy(rec, best) {
				best = rec
			}
		case rec.State.Status == agent.StatusBusy:
			if busy == nil || lessBusy(rec, busy) {
				busy = rec
			}
		}
	}
	if best != nil {
		return best.State.AgentID
	}
	if busy != nil {
		return busy.State.AgentID
	}
	return ""
}

// lessBusy reports whether a should be preferred over b for new work.
func lessBusy(a, b *database.AgentRecord) bool {
	if a.State.InFlightTasks != b.State.InFlightTasks {
		return a.State.InFlightTasks < b.State.InFlightTasks
	}
	aTotal := a.State.TasksCompleted + a.State.TasksFailed
	bTotal := b.State.TasksCompleted + b.State.TasksFailed
	if aTotal != bTotal {
		return aTotal < bTotal
	}
	return a.State.AgentID < b.State.AgentID
}

// GetTask returns a task by ID.
func (s *OrchestratorService) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns recent tasks, optionally filtered to one agent.
func (s *OrchestratorService) ListTasks(ctx context.Context, agentID string, limit int) ([]task.Task, error) {
	return s.store.ListTasks(ctx, agentID, limit)
}

// SendMessage validates and routes an inter-agent message. Broadcasts fan
// out at-most-once; directed messages go through the durable stream.
func (s *OrchestratorService) SendMessage(ctx context.Context, m message.Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("send message: %s: %w", err, domain.ErrValidation)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	if err := s.store.RecordMessage(ctx, m); err != nil {
		s.log.Warn("message record failed", "message_id", m.ID, "error", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if m.IsBroadcast() {
		if err := s.broker.Publish(ctx, broker.SubjectBroadcast, data); err != nil {
			return fmt.Errorf("broadcast message %s: %w", m.ID, err)
		}
		return nil
	}

	// A response first satisfies any local waiter; it still flows to the
	// recipient's stream for the agent-to-agent case.
	if m.Type == message.TypeResponse {
		s.resolveWaiter(m)
	}

	err = s.breaker.Execute(func() error {
		return s.broker.Append(ctx, broker.MessageSubject(m.ToAgent), data)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("send message %s: %w", m.ID, domain.ErrBrokerUnavailable)
		}
		return fmt.Errorf("send message %s: %w", m.ID, err)
	}
	return nil
}

// Request sends a request message and blocks until the matching response
// arrives or the timeout elapses.
func (s *OrchestratorService) Request(ctx context.Context, m message.Message, timeout time.Duration) (*message.Message, error) {
	m.Type = message.TypeRequest
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}

	ch := make(chan message.Message, 1)
	s.mu.Lock()
	s.waiters[m.CorrelationID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, m.CorrelationID)
		s.mu.Unlock()
	}()

	if err := s.SendMessage(ctx, m); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return &resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("request %s: no response within %s: %w", m.CorrelationID, timeout, domain.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *OrchestratorService) resolveWaiter(m message.Message) {
	s.mu.Lock()
	ch, ok := s.waiters[m.CorrelationID]
	if ok {
		delete(s.waiters, m.CorrelationID)
	}
	s.mu.Unlock()
	if ok {
		ch <- m
	}
}

// ListMessages returns an agent's recent message history.
func (s *OrchestratorService) ListMessages(ctx context.Context, agentID string, limit int) ([]message.Message, error) {
	return s.store.ListMessages(ctx, agentID, limit)
}

// StartResultSubscriber consumes task results from the durable stream.
// Result handling is quick, so the handler auto-acks on success.
func (s *OrchestratorService) StartResultSubscriber(ctx context.Context) (func(), error) {
	return s.broker.Consume(ctx, resultConsumer, broker.SubjectTaskResults,
		broker.AutoAck(func(ctx context.Context, _ string, data []byte) error {
			var res task.Result
			if err := json.Unmarshal(data, &res); err != nil {
				// Poison message; acking it beats redelivering forever.
				s.log.Error("undecodable task result", "error", err)
				return nil
			}
			return s.HandleResult(ctx, res)
		}))
}

// RunDispatchLoop periodically drains queued tasks that had no eligible
// agent at submit time.
func (s *OrchestratorService) RunDispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(dispatchEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchQueued(ctx)
		}
	}
}

// dispatchQueued assigns and dispatches queued tasks now that the pool may
// have capacity. Tasks with still no candidate stay queued.
func (s *OrchestratorService) dispatchQueued(ctx context.Context) {
	queued, err := s.store.QueuedTasks(ctx)
	if err != nil {
		s.log.Error("queued task list failed", "error", err)
		return
	}
	if len(queued) == 0 {
		return
	}

	records, err := s.store.ListAgents(ctx)
	if err != nil {
		s.log.Error("agent list failed", "error", err)
		return
	}

	for i := range queued {
		t := &queued[i]
		agentID := pickAgent(records, t.Category)
		if agentID == "" {
			continue
		}
		t.AgentID = agentID
		if err := s.dispatch(ctx, t); err != nil {
			s.log.Warn("queued task dispatch failed", "task_id", t.ID, "error", err)
			continue
		}
		s.hub.BroadcastEvent(ctx, ws.EventTaskUpdate, ws.TaskUpdateEvent{
			TaskID: t.ID, AgentID: t.AgentID, Status: string(t.Status),
		})
		s.log.Info("queued task dispatched", "task_id", t.ID, "agent_id", agentID)
	}
}

// RunCoverageLoop scans for coverage gaps on the configured interval and,
// with self-heal enabled, spawns replacements through the factory. No-op
// until SetSelfHeal wires the scanner in.
func (s *OrchestratorService) RunCoverageLoop(ctx context.Context) {
	if s.gaps == nil || s.healCfg.ScanInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.healCfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gaps, err := s.gaps.Scan(ctx)
			if err != nil {
				s.log.Error("gap scan failed", "error", err)
				continue
			}
			if len(gaps) == 0 {
				continue
			}
			s.log.Warn("coverage gaps detected", "count", len(gaps))
			if s.healCfg.SelfHeal && s.factory != nil {
				s.heal(ctx, gaps)
			}
		}
	}
}

// heal spawns one agent per missing slot from the gap's template.
// Approval-gated templates fail the spawn; self-heal never bypasses
// approval.
func (s *OrchestratorService) heal(ctx context.Context, gaps []gap.Gap) {
	for _, g := range gaps {
		if g.Template == "" {
			continue
		}
		for range g.Missing {
			rec, err := s.factory.CreateFromTemplate(ctx, g.Template, template.Overrides{}, "self-heal")
			if err != nil {
				s.log.Error("self-heal spawn failed", "template", g.Template, "error", err)
				break
			}
			s.log.Info("self-heal spawned agent", "agent_id", rec.Config.AgentID, "template", g.Template)
		}
	}
}

// HandleResult folds a runtime's task outcome into the task record. Failed
// tasks with retry budget left are re-dispatched.
func (s *OrchestratorService) HandleResult(ctx context.Context, res task.Result) error {
	t, err := s.store.GetTask(ctx, res.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("result for unknown task", "task_id", res.TaskID)
			return nil
		}
		return err
	}
	if t.Status.IsTerminal() {
		return nil // duplicate delivery
	}

	now := time.Now().UTC()
	t.CompletedAt = &now
	t.Result = res.Result
	t.Error = res.Error

	switch res.Status {
	case task.StatusCompleted:
		t.Status = task.StatusCompleted
		if s.metrics != nil {
			s.metrics.TasksCompleted.Add(ctx, 1)
			s.metrics.TaskDuration.Record(ctx, float64(res.DurationMS)/1000)
		}
	case task.StatusFailed, task.StatusTimedOut:
		if t.Retries < t.MaxRetries {
			t.Retries++
			t.Status = task.StatusSubmitted
			t.CompletedAt = nil
			if err := s.store.UpdateTask(ctx, *t); err != nil {
				return err
			}
			s.log.Info("task retry", "task_id", t.ID, "attempt", t.Retries, "error", res.Error)
			return s.dispatch(ctx, t)
		}
		t.Status = res.Status
		if s.metrics != nil {
			s.metrics.TasksFailed.Add(ctx, 1)
		}
	default:
		s.log.Warn("unexpected result status", "task_id", res.TaskID, "status", res.Status)
		return nil
	}

	if err := s.store.UpdateTask(ctx, *t); err != nil {
		return err
	}

	s.hub.BroadcastEvent(ctx, ws.EventTaskUpdate, ws.TaskUpdateEvent{
		TaskID: t.ID, AgentID: t.AgentID, Status: string(t.Status), Error: t.Error,
	})
	s.log.Info("task finished", "task_id", t.ID, "status", t.Status, "duration_ms", res.DurationMS)
	return nil
}

// SystemStatus summarizes orchestrator health for the status endpoint.
type SystemStatus struct {
	BrokerConnected bool              `json:"broker_connected"`
	Agents          ws.PoolStatsEvent `json:"agents"`
	PendingTasks    int               `json:"pending_tasks"`
	Time            time.Time         `json:"time"`
}

// Status reports broker connectivity, pool aggregates and the number of
// tasks not yet in a terminal state.
func (s *OrchestratorService) Status(ctx context.Context, pool *PoolService) (SystemStatus, error) {
	stats, err := pool.Stats(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	pending, err := s.store.CountPendingTasks(ctx)
	if err != nil {
		return SystemStatus{}, err
	}
	return SystemStatus{
		BrokerConnected: s.broker.IsConnected(),
		Agents:          stats,
		PendingTasks:    pending,
		Time:            time.Now().UTC(),
	}, nil
}
