package types

import (
	"time"
)

// PlaybookType selects which analytics output a playbook reacts to.
type PlaybookType string

const (
	PlaybookAnomaly    PlaybookType = "anomaly"
	PlaybookCompliance PlaybookType = "compliance"
)

// PlaybookTrigger matches an anomaly by (type, severity) or a compliance
// finding by framework.
type PlaybookTrigger struct {
	Type      AnomalyType `json:"type,omitempty" yaml:"type,omitempty"`
	Severity  Severity    `json:"severity,omitempty" yaml:"severity,omitempty"`
	Framework string      `json:"framework,omitempty" yaml:"framework,omitempty"`
}

// PlaybookStep is one ordered response step. A failed critical step halts
// the playbook.
type PlaybookStep struct {
	ID       string                 `json:"id" yaml:"id" validate:"required"`
	Name     string                 `json:"name" yaml:"name"`
	Action   string                 `json:"action" yaml:"action" validate:"required"`
	Critical bool                   `json:"critical" yaml:"critical"`
	Params   map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// Playbook is a static automation definition.
type Playbook struct {
	ID       string            `json:"id" yaml:"id" validate:"required"`
	Name     string            `json:"name" yaml:"name" validate:"required"`
	Type     PlaybookType      `json:"type" yaml:"type" validate:"oneof=anomaly compliance"`
	Triggers []PlaybookTrigger `json:"triggers" yaml:"triggers" validate:"min=1"`
	Steps    []PlaybookStep    `json:"steps" yaml:"steps" validate:"min=1,dive"`
	Active   bool              `json:"active" yaml:"active"`
}

// MatchesAnomaly reports whether any trigger matches the anomaly's type and
// severity.
func (p Playbook) MatchesAnomaly(a Anomaly) bool {
	if p.Type != PlaybookAnomaly {
		return false
	}
	for _, t := range p.Triggers {
		if t.Type == a.Type && t.Severity == a.Severity {
			return true
		}
	}
	return false
}

// MatchesFramework reports whether any trigger names the framework.
func (p Playbook) MatchesFramework(framework string) bool {
	if p.Type != PlaybookCompliance {
		return false
	}
	for _, t := range p.Triggers {
		if t.Framework == framework {
			return true
		}
	}
	return false
}

// PolicyEnvironmentAll makes a policy apply to every environment.
const PolicyEnvironmentAll = "all"

// PolicyRule is a condition/action pair.
type PolicyRule struct {
	ID        string   `json:"id" yaml:"id" validate:"required"`
	Condition string   `json:"condition" yaml:"condition"`
	Actions   []string `json:"actions" yaml:"actions" validate:"min=1,dive,required"`
	Active    bool     `json:"active" yaml:"active"`
}

// Policy groups rules enforced against analytics output.
type Policy struct {
	ID          string       `json:"id" yaml:"id" validate:"required"`
	Name        string       `json:"name" yaml:"name" validate:"required"`
	Environment string       `json:"environment" yaml:"environment" validate:"oneof=IT OT Cloud all"`
	Rules       []PolicyRule `json:"rules" yaml:"rules" validate:"dive"`
	Active      bool         `json:"active" yaml:"active"`
}

// AppliesTo reports whether the policy covers env.
func (p Policy) AppliesTo(env Environment) bool {
	return p.Environment == PolicyEnvironmentAll || p.Environment == string(env)
}

// ExecutionType tells playbook runs from policy runs.
type ExecutionType string

const (
	ExecutionPlaybook ExecutionType = "playbook"
	ExecutionPolicy   ExecutionType = "policy"
)

// ActionResult records one executed action.
type ActionResult struct {
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OrchestrationResult is emitted for every playbook or policy execution.
type OrchestrationResult struct {
	ID         string                 `json:"id"`
	Type       ExecutionType          `json:"type"`
	Name       string                 `json:"name"`
	Success    bool                   `json:"success"`
	Actions    []ActionResult         `json:"actions"`
	StartedAt  time.Time              `json:"startedAt"`
	EndedAt    time.Time              `json:"endedAt"`
	Duration   time.Duration          `json:"duration"`
	Context    map[string]interface{} `json:"context,omitempty"`
	IncidentID string                 `json:"incidentId,omitempty"`
}
