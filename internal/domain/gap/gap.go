// Package gap defines coverage-gap detection entities: the declared
// requirements and the detected shortfalls.
package gap

import (
	"time"

	"github.com/meshworks/agentmesh/internal/domain/agent"
)

// Type classifies what kind of coverage is missing.
type Type string

const (
	TypeCategory    Type = "category"
	TypeIntegration Type = "integration"
	TypeDevice      Type = "device"
)

// Severity ranks how urgent a gap is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Requirement declares a minimum number of schedulable agents for a category.
type Requirement struct {
	Category agent.Category `json:"category" yaml:"category"`
	MinCount int            `json:"min_count" yaml:"min_count"`
	Template string         `json:"template" yaml:"template"` // factory remediation
}

// IntegrationRequirement declares an external integration or device that
// must have a dedicated agent.
type IntegrationRequirement struct {
	Name     string `json:"name" yaml:"name"`
	Type     Type   `json:"type" yaml:"type"` // integration or device
	AgentID  string `json:"agent_id" yaml:"agent_id"`
	Template string `json:"template" yaml:"template"`
	Critical bool   `json:"critical" yaml:"critical"`
}

// Gap is one detected shortfall between required and running coverage.
type Gap struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Category    agent.Category `json:"category,omitempty"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Required    int            `json:"required,omitempty"`
	Active      int            `json:"active,omitempty"`
	Missing     int            `json:"missing,omitempty"`
	Template    string         `json:"template"` // suggested factory template
	DetectedAt  time.Time      `json:"detected_at"`
}
