package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/message"
	"github.com/meshworks/agentmesh/internal/domain/task"
	"github.com/meshworks/agentmesh/internal/port/broker"
)

// doneCap bounds the completed-task dedupe set. Restores can requeue tasks
// that already ran; the set keeps reruns from double-counting.
const doneCap = 4096

// MessageHandler processes a directed agent-to-agent message.
type MessageHandler func(ctx context.Context, m message.Message) error

// Options configures a Runtime.
type Options struct {
	AgentID           string
	MaxConcurrent     int
	HeartbeatInterval time.Duration
	TaskTimeout       time.Duration // default for tasks without their own timeout
	ShutdownGrace     time.Duration
}

// Runtime is one agent's worker loop. It consumes the agent's durable inbox,
// executes tasks through the Executor with bounded concurrency, answers
// control commands and publishes heartbeats until stopped.
type Runtime struct {
	opts     Options
	broker   broker.Broker
	executor Executor
	onMsg    MessageHandler
	log      *slog.Logger

	sem     chan struct{} // bounds concurrent task execution
	stopped chan struct{}

	mu        sync.Mutex
	paused    bool
	inFlight  int
	completed int
	failed    int
	started   time.Time
	done      map[string]struct{} // executed task IDs
}

// New creates a Runtime. Zero option fields get workable defaults.
func New(opts Options, brk broker.Broker, exec Executor, log *slog.Logger) *Runtime {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	return &Runtime{
		opts:     opts,
		broker:   brk,
		executor: exec,
		log:      log,
		sem:      make(chan struct{}, opts.MaxConcurrent),
		stopped:  make(chan struct{}),
		done:     make(map[string]struct{}),
	}
}

// SetMessageHandler installs a handler for directed messages. Without one,
// messages are logged and acknowledged.
func (r *Runtime) SetMessageHandler(h MessageHandler) {
	r.onMsg = h
}

// Run starts the inbox consumer, message consumer and heartbeat loop, then
// blocks until ctx is cancelled or a stop command arrives. In-flight tasks
// get the shutdown grace period to finish.
func (r *Runtime) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.started = time.Now().UTC()
	r.mu.Unlock()

	// Durable consumer named after the agent: redeliveries survive runtime
	// restarts.
	stopInbox, err := r.broker.Consume(runCtx, r.opts.AgentID, broker.InboxSubject(r.opts.AgentID), r.handleInbox)
	if err != nil {
		return fmt.Errorf("consume inbox: %w", err)
	}
	defer stopInbox()

	stopMsgs, err := r.broker.Consume(runCtx, r.opts.AgentID+"-msgs", broker.MessageSubject(r.opts.AgentID), broker.AutoAck(r.handleMessage))
	if err != nil {
		return fmt.Errorf("consume messages: %w", err)
	}
	defer stopMsgs()

	stopBcast, err := r.broker.Subscribe(runCtx, broker.SubjectBroadcast, r.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe broadcast: %w", err)
	}
	defer stopBcast()

	// Announce readiness: the first heartbeat moves the agent out of
	// spawning.
	r.publishHeartbeat(runCtx, agent.StatusActive)

	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			r.drain()
			return runCtx.Err()
		case <-r.stopped:
			r.drain()
			r.publishHeartbeat(context.WithoutCancel(runCtx), agent.StatusShutdown)
			return nil
		case <-ticker.C:
			r.publishHeartbeat(runCtx, r.currentStatus())
		}
	}
}

// handleInbox dispatches one inbox entry: a control command or a task.
// Tasks keep the delivery unacknowledged until execution finishes, so a
// runtime killed mid-task leaves the task to redeliver elsewhere.
func (r *Runtime) handleInbox(ctx context.Context, d broker.Delivery) {
	// Commands and tasks share the inbox; the wire shapes are disjoint.
	var peek struct {
		Type     message.Type `json:"type"`
		TaskType string       `json:"task_type"`
	}
	if err := json.Unmarshal(d.Data(), &peek); err != nil {
		r.log.Error("undecodable inbox entry", "error", err)
		r.ack(d) // poison: ack and move on
		return
	}

	if peek.Type == message.TypeCommand {
		var m message.Message
		if err := json.Unmarshal(d.Data(), &m); err == nil {
			r.handleCommand(ctx, m)
		}
		r.ack(d)
		return
	}

	if peek.TaskType == "" {
		r.log.Warn("inbox entry is neither command nor task")
		r.ack(d)
		return
	}

	var t task.Task
	if err := json.Unmarshal(d.Data(), &t); err != nil {
		r.log.Error("undecodable task", "error", err)
		r.ack(d)
		return
	}
	r.runTask(ctx, t, d)
}

// runTask executes one task under the concurrency semaphore and publishes
// its result. The delivery is acked only after the task finishes; paused
// runtimes nak so the task redelivers after resume.
func (r *Runtime) runTask(ctx context.Context, t task.Task, d broker.Delivery) {
	r.mu.Lock()
	if r.paused {
		r.mu.Unlock()
		r.nak(d)
		return
	}
	if _, ran := r.done[t.ID]; ran {
		r.mu.Unlock()
		r.ack(d) // duplicate delivery after a restore
		return
	}
	r.mu.Unlock()

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.nak(d)
		return
	}

	r.mu.Lock()
	r.inFlight++
	r.mu.Unlock()

	go func() {
		defer func() {
			<-r.sem
			r.mu.Lock()
			r.inFlight--
			r.mu.Unlock()
		}()
		r.execute(ctx, t)
		r.ack(d)
	}()
}

func (r *Runtime) ack(d broker.Delivery) {
	if err := d.Ack(); err != nil {
		r.log.Warn("delivery ack failed", "error", err)
	}
}

func (r *Runtime) nak(d broker.Delivery) {
	if err := d.Nak(); err != nil {
		r.log.Warn("delivery nak failed", "error", err)
	}
}

// taskTimeout resolves the execution deadline: the task's own timeout wins,
// then the runtime-wide default.
func (r *Runtime) taskTimeout(t task.Task) time.Duration {
	if t.TimeoutSeconds > 0 {
		return t.Timeout()
	}
	if r.opts.TaskTimeout > 0 {
		return r.opts.TaskTimeout
	}
	return t.Timeout()
}

// execute runs the task with its own timeout and reports the outcome.
func (r *Runtime) execute(ctx context.Context, t task.Task) {
	timeout := r.taskTimeout(t)
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	result, err := r.executor.Execute(taskCtx, t)
	duration := time.Since(start)

	res := task.Result{
		TaskID:     t.ID,
		AgentID:    r.opts.AgentID,
		DurationMS: duration.Milliseconds(),
	}

	switch {
	case err == nil:
		res.Status = task.StatusCompleted
		res.Result = result
	case taskCtx.Err() == context.DeadlineExceeded:
		res.Status = task.StatusTimedOut
		res.Error = fmt.Sprintf("timed out after %s", timeout)
	default:
		res.Status = task.StatusFailed
		res.Error = err.Error()
	}

	r.mu.Lock()
	if res.Status == task.StatusCompleted {
		r.completed++
	} else {
		r.failed++
	}
	r.remember(t.ID)
	r.mu.Unlock()

	data, merr := json.Marshal(res)
	if merr != nil {
		r.log.Error("marshal task result", "task_id", t.ID, "error", merr)
		return
	}
	if err := r.broker.Append(context.WithoutCancel(ctx), broker.SubjectTaskResults, data); err != nil {
		r.log.Error("publish task result", "task_id", t.ID, "error", err)
	}

	r.log.Info("task executed", "task_id", t.ID, "status", res.Status, "duration_ms", res.DurationMS)
}

// remember records a finished task ID. Must be called with r.mu held.
func (r *Runtime) remember(taskID string) {
	if len(r.done) >= doneCap {
		// Drop an arbitrary entry; exact LRU is not worth the bookkeeping.
		for k := range r.done {
			delete(r.done, k)
			break
		}
	}
	r.done[taskID] = struct{}{}
}

// handleCommand applies a control-plane command.
func (r *Runtime) handleCommand(ctx context.Context, m message.Message) {
	cmd, err := message.ParseCommand(m.Payload)
	if err != nil {
		r.log.Error("undecodable command", "error", err)
		return
	}

	r.log.Info("command received", "command", cmd.Name)

	switch cmd.Name {
	case message.CommandPause:
		r.mu.Lock()
		r.paused = true
		r.mu.Unlock()
		r.publishHeartbeat(ctx, agent.StatusPaused)
	case message.CommandResume:
		r.mu.Lock()
		r.paused = false
		r.mu.Unlock()
		r.publishHeartbeat(ctx, r.currentStatus())
	case message.CommandStop:
		select {
		case <-r.stopped:
		default:
			close(r.stopped)
		}
	case message.CommandSnapshot:
		// Flush current state immediately so the capture sees it.
		r.publishHeartbeat(ctx, r.currentStatus())
	default:
		r.log.Warn("unknown command", "command", cmd.Name)
	}
}

// handleMessage processes a directed or broadcast message.
func (r *Runtime) handleMessage(ctx context.Context, _ string, data []byte) error {
	var m message.Message
	if err := json.Unmarshal(data, &m); err != nil {
		r.log.Error("undecodable message", "error", err)
		return nil
	}
	// Own broadcasts echo back on the shared subject.
	if m.FromAgent == r.opts.AgentID {
		return nil
	}

	if r.onMsg != nil {
		if err := r.onMsg(ctx, m); err != nil {
			return err
		}
	} else {
		r.log.Info("message received", "from", m.FromAgent, "type", m.Type, "message_id", m.ID)
	}

	if m.RequiresAck && !m.IsBroadcast() {
		ack := message.New(r.opts.AgentID, m.FromAgent, message.TypeAck, nil)
		ack.CorrelationID = m.ID
		if data, err := json.Marshal(ack); err == nil {
			if err := r.broker.Append(ctx, broker.MessageSubject(m.FromAgent), data); err != nil {
				r.log.Warn("ack publish failed", "message_id", m.ID, "error", err)
			}
		}
	}
	return nil
}

// drain waits up to the shutdown grace period for in-flight tasks.
func (r *Runtime) drain() {
	deadline := time.Now().Add(r.opts.ShutdownGrace)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := r.inFlight
		r.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	r.log.Warn("shutdown grace expired with tasks in flight")
}

// currentStatus derives the reported lifecycle status from local state.
func (r *Runtime) currentStatus() agent.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.paused:
		return agent.StatusPaused
	case r.inFlight > 0:
		return agent.StatusBusy
	default:
		return agent.StatusIdle
	}
}

// Snapshot returns the runtime's local counters.
func (r *Runtime) Snapshot() agent.Heartbeat {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := agent.StatusIdle
	if r.paused {
		status = agent.StatusPaused
	} else if r.inFlight > 0 {
		status = agent.StatusBusy
	}

	return agent.Heartbeat{
		AgentID:        r.opts.AgentID,
		Status:         status,
		InFlightTasks:  r.inFlight,
		TasksCompleted: r.completed,
		TasksFailed:    r.failed,
		Timestamp:      time.Now().UTC(),
	}
}

func (r *Runtime) publishHeartbeat(ctx context.Context, status agent.Status) {
	hb := r.Snapshot()
	hb.Status = status

	data, err := json.Marshal(hb)
	if err != nil {
		return
	}
	if err := r.broker.Publish(ctx, broker.SubjectHeartbeats, data); err != nil {
		r.log.Warn("heartbeat publish failed", "error", err)
	}
}
