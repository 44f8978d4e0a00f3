package agent

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusSpawning, StatusActive, true},
		{StatusSpawning, StatusBusy, false},
		{StatusActive, StatusIdle, true},
		{StatusActive, StatusBusy, true},
		{StatusIdle, StatusBusy, true},
		{StatusIdle, StatusPaused, true},
		{StatusBusy, StatusIdle, true},
		{StatusPaused, StatusIdle, true},
		{StatusPaused, StatusBusy, false},
		{StatusShutdown, StatusDead, true},
		{StatusShutdown, StatusIdle, false},
		{StatusDead, StatusArchived, true},
		{StatusDead, StatusActive, false},
		{StatusArchived, StatusActive, false},
		{StatusError, StatusSpawning, true},
		{StatusError, StatusDead, true},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransitionToError(t *testing.T) {
	// Any non-terminal state may fault.
	for _, s := range []Status{StatusSpawning, StatusActive, StatusIdle, StatusBusy, StatusPaused, StatusShutdown} {
		if !s.CanTransition(StatusError) {
			t.Errorf("expected %s -> error to be allowed", s)
		}
	}
	for _, s := range []Status{StatusDead, StatusArchived} {
		if s.CanTransition(StatusError) {
			t.Errorf("expected %s -> error to be rejected", s)
		}
	}
}

func TestIsSchedulable(t *testing.T) {
	schedulable := map[Status]bool{
		StatusActive: true, StatusIdle: true,
		StatusSpawning: false, StatusBusy: false, StatusPaused: false,
		StatusError: false, StatusShutdown: false, StatusDead: false, StatusArchived: false,
	}
	for s, want := range schedulable {
		if got := s.IsSchedulable(); got != want {
			t.Errorf("IsSchedulable(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !StatusDead.IsTerminal() || !StatusArchived.IsTerminal() {
		t.Fatal("dead and archived must be terminal")
	}
	if StatusError.IsTerminal() || StatusShutdown.IsTerminal() {
		t.Fatal("error and shutdown must not be terminal")
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{AgentID: "a1"}
	cfg.Normalize()

	if cfg.CPULimit != 1.0 {
		t.Errorf("CPULimit = %v, want 1.0", cfg.CPULimit)
	}
	if cfg.MemoryLimitMB != 512 {
		t.Errorf("MemoryLimitMB = %d, want 512", cfg.MemoryLimitMB)
	}
	if cfg.MaxConcurrentTasks != 1 {
		t.Errorf("MaxConcurrentTasks = %d, want 1", cfg.MaxConcurrentTasks)
	}
	if cfg.TaskTimeout != 5*time.Minute {
		t.Errorf("TaskTimeout = %v, want 5m", cfg.TaskTimeout)
	}
	if cfg.DisplayName != "a1" {
		t.Errorf("DisplayName = %q, want agent ID fallback", cfg.DisplayName)
	}
}

func TestConfigNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := Config{AgentID: "a1", CPULimit: 2.5, MemoryLimitMB: 2048, DisplayName: "Named"}
	cfg.Normalize()

	if cfg.CPULimit != 2.5 || cfg.MemoryLimitMB != 2048 || cfg.DisplayName != "Named" {
		t.Fatalf("Normalize overwrote explicit values: %+v", cfg)
	}
}

func TestValidCategory(t *testing.T) {
	if !ValidCategory(CategoryCore) || !ValidCategory(CategoryCustom) {
		t.Fatal("expected builtin categories to validate")
	}
	if ValidCategory("bogus") {
		t.Fatal("expected unknown category to fail validation")
	}
}

func TestHeartbeatAge(t *testing.T) {
	now := time.Now()
	hb := now.Add(-30 * time.Second)
	st := State{AgentID: "a1", LastHeartbeat: &hb}

	if got := st.HeartbeatAge(now); got != 30*time.Second {
		t.Errorf("HeartbeatAge = %v, want 30s", got)
	}

	started := now.Add(-2 * time.Minute)
	st = State{AgentID: "a1", StartedAt: &started}
	if got := st.HeartbeatAge(now); got != 2*time.Minute {
		t.Errorf("HeartbeatAge without heartbeat = %v, want 2m", got)
	}

	st = State{AgentID: "a1"}
	if got := st.HeartbeatAge(now); got < 24*time.Hour {
		t.Errorf("HeartbeatAge with no timestamps = %v, want very large", got)
	}
}
