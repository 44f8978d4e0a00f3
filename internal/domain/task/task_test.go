package task

import (
	"testing"
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
	"github.com/meshworks/agentmesh/internal/domain/message"
)

func TestSubmitRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr bool
	}{
		{"named agent", SubmitRequest{AgentID: "a1", TaskType: "etl"}, false},
		{"category routed", SubmitRequest{Category: agent.CategoryData, TaskType: "etl"}, false},
		{"missing task type", SubmitRequest{AgentID: "a1"}, true},
		{"no target", SubmitRequest{TaskType: "etl"}, true},
		{"invalid category", SubmitRequest{Category: "bogus", TaskType: "etl"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitRequestValidateDefaults(t *testing.T) {
	req := SubmitRequest{AgentID: "a1", TaskType: "etl"}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Priority != message.PriorityNormal {
		t.Errorf("Priority = %d, want %d", req.Priority, message.PriorityNormal)
	}
	if req.TimeoutSeconds != 300 {
		t.Errorf("TimeoutSeconds = %d, want 300", req.TimeoutSeconds)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusTimedOut} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusSubmitted, StatusRunning} {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestTaskTimeout(t *testing.T) {
	tk := Task{TimeoutSeconds: 30}
	if got := tk.Timeout(); got != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", got)
	}
	tk = Task{}
	if got := tk.Timeout(); got != 5*time.Minute {
		t.Errorf("default Timeout = %v, want 5m", got)
	}
}
