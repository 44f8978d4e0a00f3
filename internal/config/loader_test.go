package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Pool.Launcher != "localproc" {
		t.Errorf("Launcher = %q, want localproc", cfg.Pool.Launcher)
	}
	if cfg.Breaker.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cfg.Breaker.MaxFailures)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	yaml := `
server:
  port: "9090"
pool:
  launcher: docker
  max_restarts: 7
snapshots:
  keep_last: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Pool.Launcher != "docker" {
		t.Errorf("Launcher = %q, want docker", cfg.Pool.Launcher)
	}
	if cfg.Pool.MaxRestarts != 7 {
		t.Errorf("MaxRestarts = %d, want 7", cfg.Pool.MaxRestarts)
	}
	if cfg.Snapshots.KeepLast != 3 {
		t.Errorf("KeepLast = %d, want 3", cfg.Snapshots.KeepLast)
	}
	// Untouched fields keep defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS URL = %q, want default", cfg.NATS.URL)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTMESH_PORT", "7070")
	t.Setenv("AGENTMESH_LOG_LEVEL", "debug")
	t.Setenv("AGENTMESH_POOL_BUDGET_CPU", "8.5")
	t.Setenv("AGENTMESH_GAP_SELF_HEAL", "true")
	t.Setenv("AGENTMESH_BREAKER_TIMEOUT", "45s")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("Port = %q, want env override", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Pool.Budget.CPU != 8.5 {
		t.Errorf("Budget.CPU = %v, want 8.5", cfg.Pool.Budget.CPU)
	}
	if !cfg.Gaps.SelfHeal {
		t.Error("SelfHeal = false, want env override")
	}
	if cfg.Breaker.Timeout != 45*time.Second {
		t.Errorf("Breaker.Timeout = %v, want 45s", cfg.Breaker.Timeout)
	}
}

func TestLoadFromRejectsBadLauncher(t *testing.T) {
	t.Setenv("AGENTMESH_POOL_LAUNCHER", "kubernetes")

	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected validation error for unknown launcher")
	}
}

func TestLoadFromRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}
