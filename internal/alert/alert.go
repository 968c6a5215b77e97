// Package alert defines the compliance alert domain model shared across
// arbiter's packages: scenario codes, the alert lifecycle, adjudication
// decisions, and the loosely typed evidence bags collectors produce.
package alert

import (
	"fmt"
	"time"
)

// ScenarioCode identifies the detection scenario that raised an alert.
type ScenarioCode string

const (
	ScenarioVelocitySpike     ScenarioCode = "VELOCITY_SPIKE"
	ScenarioStructuring       ScenarioCode = "STRUCTURING"
	ScenarioKYCInconsistency  ScenarioCode = "KYC_INCONSISTENCY"
	ScenarioSanctionsHit      ScenarioCode = "SANCTIONS_HIT"
	ScenarioDormantActivation ScenarioCode = "DORMANT_ACTIVATION"
)

// Scenarios lists every supported scenario code in a stable order.
func Scenarios() []ScenarioCode {
	return []ScenarioCode{
		ScenarioVelocitySpike,
		ScenarioStructuring,
		ScenarioKYCInconsistency,
		ScenarioSanctionsHit,
		ScenarioDormantActivation,
	}
}

// ParseScenario validates a wire-format scenario code.
func ParseScenario(s string) (ScenarioCode, error) {
	c := ScenarioCode(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown scenario code %q", s)
	}
	return c, nil
}

func (c ScenarioCode) Valid() bool {
	switch c {
	case ScenarioVelocitySpike, ScenarioStructuring, ScenarioKYCInconsistency,
		ScenarioSanctionsHit, ScenarioDormantActivation:
		return true
	}
	return false
}

// Severity grades how urgent an alert is, as assigned by the upstream
// detection system.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status is an alert's position in its lifecycle. Transitions are monotonic:
// once an alert leaves a state it never returns, except when a forced
// re-investigation resets it to INVESTIGATING.
type Status string

const (
	StatusOpen              Status = "OPEN"
	StatusInvestigating     Status = "INVESTIGATING"
	StatusAwaitingProof     Status = "AWAITING_PROOF"
	StatusAwaitingResponse  Status = "AWAITING_RESPONSE"
	StatusResolved          Status = "RESOLVED"
	StatusEscalated         Status = "ESCALATED"
	StatusBlocked           Status = "BLOCKED"
	StatusEscalatedToBranch Status = "ESCALATED_TO_BRANCH"
)

var transitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating},
	StatusInvestigating: {StatusAwaitingProof, StatusAwaitingResponse, StatusResolved, StatusEscalated, StatusBlocked},
	StatusAwaitingProof: {StatusResolved, StatusEscalatedToBranch},
}

// CanAdvanceTo reports whether the lifecycle permits moving from s to next.
// Forced re-investigation bypasses this check deliberately.
func (s Status) CanAdvanceTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automated transition exists from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusEscalated, StatusBlocked, StatusEscalatedToBranch:
		return true
	}
	return false
}

// Waiting reports whether s is parked on an external party (customer proof,
// IVR response).
func (s Status) Waiting() bool {
	return s == StatusAwaitingProof || s == StatusAwaitingResponse
}

// ParseStatus validates a wire-format status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusOpen, StatusInvestigating, StatusAwaitingProof, StatusAwaitingResponse,
		StatusResolved, StatusEscalated, StatusBlocked, StatusEscalatedToBranch:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Recommendation is the adjudicated next action for an alert.
type Recommendation string

const (
	RecommendRFI      Recommendation = "RFI"
	RecommendIVR      Recommendation = "IVR"
	RecommendEscalate Recommendation = "ESCALATE"
	RecommendBlock    Recommendation = "BLOCK"
	RecommendClose    Recommendation = "CLOSE"
)

// Normalize corrects an unrecognized recommendation to RFI, the safe
// information-gathering default.
func (r Recommendation) Normalize() Recommendation {
	switch r {
	case RecommendRFI, RecommendIVR, RecommendEscalate, RecommendBlock, RecommendClose:
		return r
	}
	return RecommendRFI
}

// FinalStatus maps a recommendation to the lifecycle state the alert lands
// in after the action executes.
func (r Recommendation) FinalStatus() Status {
	switch r {
	case RecommendRFI:
		return StatusAwaitingProof
	case RecommendIVR:
		return StatusAwaitingResponse
	case RecommendEscalate:
		return StatusEscalated
	case RecommendBlock:
		return StatusBlocked
	case RecommendClose:
		return StatusResolved
	}
	return StatusAwaitingProof
}

// DecisionSource records which layer produced a decision.
type DecisionSource string

const (
	SourceRule        DecisionSource = "RULE"
	SourceLLMOverride DecisionSource = "LLM_OVERRIDE"
	SourceLLMProposal DecisionSource = "LLM_PROPOSAL"
	SourceDefault     DecisionSource = "DEFAULT"
)

// Decision is the outcome of policy evaluation for one alert.
type Decision struct {
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Rationale      string         `json:"rationale"`
	RuleID         string         `json:"rule_id,omitempty"`
	RuleName       string         `json:"rule_name,omitempty"`
	Source         DecisionSource `json:"source"`
}

// ActionResult describes what the dispatcher actually did for a decision.
type ActionResult struct {
	ActionType string    `json:"action_type"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Evidence is a loosely typed bag of investigation facts. Values decoded
// from JSON or jsonb arrive as float64/bool/string; the accessors coerce.
type Evidence map[string]any

func (e Evidence) Int(key string) int {
	switch v := e[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (e Evidence) Float(key string) float64 {
	switch v := e[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func (e Evidence) Bool(key string) bool {
	v, _ := e[key].(bool)
	return v
}

func (e Evidence) Str(key string) string {
	v, _ := e[key].(string)
	return v
}

// Alert is a compliance alert raised by the upstream detection system.
type Alert struct {
	ID              string       `json:"alert_id"`
	Scenario        ScenarioCode `json:"scenario_code"`
	CustomerID      string       `json:"customer_id"`
	AccountID       string       `json:"account_id"`
	Severity        Severity     `json:"severity"`
	Description     string       `json:"description,omitempty"`
	RiskScore       float64      `json:"risk_score,omitempty"`
	Status          Status       `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	InvestigatingAt *time.Time   `json:"started_investigating_at,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
}

// Validate checks required fields and fills defaults for optional ones.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if !a.Scenario.Valid() {
		return fmt.Errorf("unknown scenario code %q", a.Scenario)
	}
	if a.CustomerID == "" {
		return fmt.Errorf("customer_id is required")
	}
	if a.Severity == "" {
		a.Severity = SeverityMedium
	}
	if a.Status == "" {
		a.Status = StatusOpen
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}
