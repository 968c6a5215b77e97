package investigation

import (
	"time"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

// Stage names a pipeline stage, in execution order.
type Stage string

const (
	StageIdempotency Stage = "idempotency_check"
	StageEvidence    Stage = "evidence_collection"
	StagePolicy      Stage = "policy_evaluation"
	StageAction      Stage = "action_dispatch"
	StageCompletion  Stage = "completion"
)

// Resolution is the persisted outcome of an investigation: the decision,
// the evidence it was based on, and the executed action. One resolution
// exists per alert; a forced re-run overwrites it.
type Resolution struct {
	AlertID   string              `json:"alert_id"`
	Decision  alert.Decision      `json:"decision"`
	Action    *alert.ActionResult `json:"action,omitempty"`
	Findings  alert.Evidence      `json:"findings,omitempty"`
	Customer  alert.Evidence      `json:"customer_context,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// PipelineResult summarizes one orchestrator run for callers and logs.
type PipelineResult struct {
	AlertID     string                  `json:"alert_id"`
	Scenario    alert.ScenarioCode      `json:"scenario_code"`
	Skipped     bool                    `json:"skipped"`
	Reason      string                  `json:"reason,omitempty"`
	Decision    *alert.Decision         `json:"decision,omitempty"`
	Action      *alert.ActionResult     `json:"action,omitempty"`
	FinalStatus alert.Status            `json:"final_status"`
	FailedStage Stage                   `json:"failed_stage,omitempty"`
	Malfunction *resilience.Malfunction `json:"malfunction,omitempty"`
	Duration    float64                 `json:"duration_seconds"`
}

// Proof is a customer-submitted explanation for an alert that is
// awaiting one.
type Proof struct {
	ID          string        `json:"proof_id"`
	AlertID     string        `json:"alert_id"`
	Text        string        `json:"text"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Verdict     *ProofVerdict `json:"verdict,omitempty"`
}

// ProofVerdict is the outcome of judging submitted proof.
type ProofVerdict struct {
	Legitimate bool         `json:"legitimate"`
	Confidence float64      `json:"confidence"`
	Rationale  string       `json:"rationale"`
	NewStatus  alert.Status `json:"new_status"`
}

// ProofRequest carries everything a proof judgment may draw on.
type ProofRequest struct {
	Alert    *alert.Alert
	Decision *alert.Decision
	Text     string
}

// SubmitResult reports the outcome of an intake request.
type SubmitResult struct {
	ID      string `json:"alert_id"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// AlertFilter narrows alert listings. Zero fields match everything.
type AlertFilter struct {
	Status   alert.Status
	Scenario alert.ScenarioCode
	Limit    int
}

// MalfunctionStats aggregates the malfunction log.
type MalfunctionStats struct {
	Total       int            `json:"total"`
	Unresolved  int            `json:"unresolved"`
	ByType      map[string]int `json:"by_type"`
	BySeverity  map[string]int `json:"by_severity"`
	ByComponent map[string]int `json:"by_component"`
}

// DashboardMetrics is the aggregate snapshot served to dashboards.
type DashboardMetrics struct {
	TotalAlerts            int            `json:"total_alerts"`
	AlertsByStatus         map[string]int `json:"alerts_by_status"`
	AlertsByScenario       map[string]int `json:"alerts_by_scenario"`
	DecisionsByAction      map[string]int `json:"decisions_by_action"`
	AverageConfidence      float64        `json:"average_confidence"`
	UnresolvedMalfunctions int            `json:"unresolved_malfunctions"`
}
