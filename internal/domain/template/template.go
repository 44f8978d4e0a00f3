// Package template defines the validated agent-creation templates used by
// the factory. Templates are a closed set of shapes, not free-form specs.
package template

import (
	"fmt"
	"time"

	"github.com/meshworks/agentmesh/internal/domain"
	"github.com/meshworks/agentmesh/internal/domain/agent"
)

// Template constrains what the factory may create: resource ranges and the
// allowed capability set for one agent shape.
type Template struct {
	Name             string         `json:"name" yaml:"name"`
	AgentType        string         `json:"agent_type" yaml:"agent_type"`
	Category         agent.Category `json:"category" yaml:"category"`
	DisplayName      string         `json:"display_name" yaml:"display_name"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty"`
	DefaultCPU       float64        `json:"default_cpu" yaml:"default_cpu"`
	MaxCPU           float64        `json:"max_cpu" yaml:"max_cpu"`
	DefaultMemoryMB  int            `json:"default_memory_mb" yaml:"default_memory_mb"`
	MaxMemoryMB      int            `json:"max_memory_mb" yaml:"max_memory_mb"`
	Capabilities     []string       `json:"capabilities" yaml:"capabilities"`
	RequiresApproval bool           `json:"requires_approval" yaml:"requires_approval"`
}

// Overrides are the caller-supplied deviations from template defaults.
type Overrides struct {
	AgentID      string            `json:"agent_id,omitempty"`
	DisplayName  string            `json:"display_name,omitempty"`
	CPULimit     float64           `json:"cpu_limit,omitempty"`
	MemoryMB     int               `json:"memory_mb,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Settings     map[string]string `json:"settings,omitempty"`
}

// Apply validates overrides against the template's constraints and returns
// the finished agent config.
func (t *Template) Apply(o Overrides) (*agent.Config, error) {
	cpu := t.DefaultCPU
	if o.CPULimit > 0 {
		if o.CPULimit > t.MaxCPU {
			return nil, fmt.Errorf("%w: cpu %.2f exceeds template max %.2f", domain.ErrValidation, o.CPULimit, t.MaxCPU)
		}
		cpu = o.CPULimit
	}

	mem := t.DefaultMemoryMB
	if o.MemoryMB > 0 {
		if o.MemoryMB > t.MaxMemoryMB {
			return nil, fmt.Errorf("%w: memory %dMB exceeds template max %dMB", domain.ErrValidation, o.MemoryMB, t.MaxMemoryMB)
		}
		mem = o.MemoryMB
	}

	caps := t.Capabilities
	if len(o.Capabilities) > 0 {
		allowed := make(map[string]bool, len(t.Capabilities))
		for _, c := range t.Capabilities {
			allowed[c] = true
		}
		for _, c := range o.Capabilities {
			if !allowed[c] {
				return nil, fmt.Errorf("%w: capability %q not allowed by template %s", domain.ErrValidation, c, t.Name)
			}
		}
		caps = o.Capabilities
	}

	display := t.DisplayName
	if o.DisplayName != "" {
		display = o.DisplayName
	}

	cfg := &agent.Config{
		AgentID:           o.AgentID, // factory fills when empty
		AgentType:         t.AgentType,
		Category:          t.Category,
		DisplayName:       display,
		Description:       t.Description,
		CPULimit:          cpu,
		MemoryLimitMB:     mem,
		Capabilities:      caps,
		Settings:          o.Settings,
		AutoRestart:       true,
		HeartbeatInterval: 10 * time.Second,
	}
	cfg.Normalize()
	return cfg, nil
}

// Builtin returns the predefined template set, keyed by name.
func Builtin() map[string]Template {
	return map[string]Template{
		"infrastructure": {
			Name:            "infrastructure",
			AgentType:       "infrastructure",
			Category:        agent.CategoryInfrastructure,
			DisplayName:     "Infrastructure Agent",
			Description:     "Manages infrastructure components",
			DefaultCPU:      1.0,
			MaxCPU:          2.0,
			DefaultMemoryMB: 512,
			MaxMemoryMB:     2048,
			Capabilities:    []string{"vm-management", "container-management", "monitoring"},
		},
		"data": {
			Name:            "data",
			AgentType:       "data",
			Category:        agent.CategoryData,
			DisplayName:     "Data Agent",
			Description:     "Handles data operations",
			DefaultCPU:      2.0,
			MaxCPU:          4.0,
			DefaultMemoryMB: 1024,
			MaxMemoryMB:     4096,
			Capabilities:    []string{"etl", "query", "transform", "search"},
		},
		"security": {
			Name:            "security",
			AgentType:       "security",
			Category:        agent.CategorySecurity,
			DisplayName:     "Security Agent",
			Description:     "Monitors security",
			DefaultCPU:      1.0,
			MaxCPU:          2.0,
			DefaultMemoryMB: 512,
			MaxMemoryMB:     1024,
			Capabilities:    []string{"threat-detection", "audit"},
		},
		"device": {
			Name:            "device",
			AgentType:       "device",
			Category:        agent.CategoryDevice,
			DisplayName:     "Device Agent",
			Description:     "Manages a fleet device",
			DefaultCPU:      0.5,
			MaxCPU:          1.0,
			DefaultMemoryMB: 256,
			MaxMemoryMB:     512,
			Capabilities:    []string{"telemetry", "control"},
		},
		"integration": {
			Name:            "integration",
			AgentType:       "integration",
			Category:        agent.CategoryIntegration,
			DisplayName:     "Integration Agent",
			Description:     "Handles an external integration",
			DefaultCPU:      1.0,
			MaxCPU:          2.0,
			DefaultMemoryMB: 512,
			MaxMemoryMB:     1024,
			Capabilities:    []string{"api-calls", "webhooks"},
		},
		"corporate": {
			Name:             "corporate",
			AgentType:        "executive",
			Category:         agent.CategoryCorporate,
			DisplayName:      "Corporate Agent",
			Description:      "Strategic decision support",
			DefaultCPU:       1.0,
			MaxCPU:           2.0,
			DefaultMemoryMB:  512,
			MaxMemoryMB:      1024,
			Capabilities:     []string{"analysis", "reporting"},
			RequiresApproval: true,
		},
	}
}
