package template

import (
	"errors"
	"testing"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
)

func testTemplate() Template {
	return Template{
		Name:            "data",
		AgentType:       "data",
		Category:        agent.CategoryData,
		DisplayName:     "Data Agent",
		DefaultCPU:      1.0,
		MaxCPU:          2.0,
		DefaultMemoryMB: 512,
		MaxMemoryMB:     2048,
		Capabilities:    []string{"etl", "query"},
	}
}

func TestApplyDefaults(t *testing.T) {
	tpl := testTemplate()
	cfg, err := tpl.Apply(Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CPULimit != 1.0 {
		t.Errorf("CPULimit = %v, want template default", cfg.CPULimit)
	}
	if cfg.MemoryLimitMB != 512 {
		t.Errorf("MemoryLimitMB = %d, want template default", cfg.MemoryLimitMB)
	}
	if cfg.Category != agent.CategoryData {
		t.Errorf("Category = %s, want data", cfg.Category)
	}
	if !cfg.AutoRestart {
		t.Error("expected AutoRestart to default on")
	}
}

func TestApplyOverrides(t *testing.T) {
	tpl := testTemplate()
	cfg, err := tpl.Apply(Overrides{
		AgentID:      "data-7",
		DisplayName:  "Custom",
		CPULimit:     1.5,
		MemoryMB:     1024,
		Capabilities: []string{"etl"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AgentID != "data-7" || cfg.DisplayName != "Custom" {
		t.Fatalf("identity overrides not applied: %+v", cfg)
	}
	if cfg.CPULimit != 1.5 || cfg.MemoryLimitMB != 1024 {
		t.Fatalf("resource overrides not applied: %+v", cfg)
	}
	if len(cfg.Capabilities) != 1 || cfg.Capabilities[0] != "etl" {
		t.Fatalf("Capabilities = %v, want [etl]", cfg.Capabilities)
	}
}

func TestApplyRejectsExcessCPU(t *testing.T) {
	tpl := testTemplate()
	_, err := tpl.Apply(Overrides{CPULimit: 4.0})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApplyRejectsExcessMemory(t *testing.T) {
	tpl := testTemplate()
	_, err := tpl.Apply(Overrides{MemoryMB: 8192})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApplyRejectsUnknownCapability(t *testing.T) {
	tpl := testTemplate()
	_, err := tpl.Apply(Overrides{Capabilities: []string{"root-shell"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBuiltin(t *testing.T) {
	templates := Builtin()
	for _, name := range []string{"infrastructure", "data", "security", "device", "integration", "corporate"} {
		tpl, ok := templates[name]
		if !ok {
			t.Errorf("missing builtin template %q", name)
			continue
		}
		if tpl.MaxCPU < tpl.DefaultCPU {
			t.Errorf("template %q: max CPU below default", name)
		}
		if tpl.MaxMemoryMB < tpl.DefaultMemoryMB {
			t.Errorf("template %q: max memory below default", name)
		}
	}
	if !templates["corporate"].RequiresApproval {
		t.Error("corporate template must require approval")
	}
}
