// Package runtime implements the agent-side worker: it consumes its inbox,
// executes tasks, answers control commands and reports heartbeats.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/task"
)

// Executor runs one task and returns its result payload.
type Executor interface {
	Execute(ctx context.Context, t task.Task) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t task.Task) (json.RawMessage, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, t task.Task) (json.RawMessage, error) {
	return f(ctx, t)
}

// Registry dispatches tasks to handlers registered per task type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Executor
	fallback Executor
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Executor)}
}

// Register binds a handler to a task type. Later registrations replace
// earlier ones.
func (r *Registry) Register(taskType string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = e
}

// SetFallback sets the handler for task types with no registration.
func (r *Registry) SetFallback(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// Execute routes the task to its registered handler.
func (r *Registry) Execute(ctx context.Context, t task.Task) (json.RawMessage, error) {
	r.mu.RLock()
	e, ok := r.handlers[t.TaskType]
	if !ok {
		e = r.fallback
	}
	r.mu.RUnlock()

	if e == nil {
		return nil, fmt.Errorf("no handler for task type %q: %w", t.TaskType, domain.ErrValidation)
	}
	return e.Execute(ctx, t)
}
