package policy

import (
	"context"

	"github.com/linnemanlabs/arbiter/internal/alert"
)

// Rule is one SOP row: a named, prioritized condition→action policy scoped
// to a scenario. The condition itself lives in the predicate registry keyed
// by rule ID; the store only carries the metadata.
type Rule struct {
	ID             string               `json:"rule_id"`
	Scenario       alert.ScenarioCode   `json:"scenario_code"`
	Name           string               `json:"name"`
	Description    string               `json:"description,omitempty"`
	Priority       int                  `json:"priority"`
	Recommendation alert.Recommendation `json:"recommendation"`
	Active         bool                 `json:"active"`
}

// RuleSource lists the active rules for a scenario ordered by ascending
// priority (lower value evaluates first).
type RuleSource interface {
	ListActiveRules(ctx context.Context, scenario alert.ScenarioCode) ([]Rule, error)
}

// DefaultRules returns the shipped SOP table. Rows pair with the
// predicates DefaultPredicates registers; the PostgreSQL store seeds the
// same rows from its schema.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "SOP-A001-01", Scenario: alert.ScenarioVelocitySpike, Name: "High Velocity High Risk Escalation",
			Description: "Transaction count >= 5 and total amount > 25000 with HIGH KYC risk",
			Priority:    1, Recommendation: alert.RecommendEscalate, Active: true},
		{ID: "SOP-A001-02", Scenario: alert.ScenarioVelocitySpike, Name: "Known Business Cycle Close",
			Description: "Velocity spike explained by a known business cycle",
			Priority:    2, Recommendation: alert.RecommendClose, Active: true},
		{ID: "SOP-A002-01", Scenario: alert.ScenarioStructuring, Name: "Linked Accounts Aggregate Escalation",
			Description: "Linked accounts aggregate deposits above 28000",
			Priority:    1, Recommendation: alert.RecommendEscalate, Active: true},
		{ID: "SOP-A002-02", Scenario: alert.ScenarioStructuring, Name: "Legitimate Business RFI",
			Description: "Geographically diverse and legitimate business receipts",
			Priority:    2, Recommendation: alert.RecommendRFI, Active: true},
		{ID: "SOP-A003-01", Scenario: alert.ScenarioKYCInconsistency, Name: "Matching Occupation Close",
			Description: "Occupation confirmed as jeweler or precious metals trader",
			Priority:    1, Recommendation: alert.RecommendClose, Active: true},
		{ID: "SOP-A003-02", Scenario: alert.ScenarioKYCInconsistency, Name: "Mismatched Profile RFI",
			Description: "Teacher, student, or government profile sending to precious metals",
			Priority:    2, Recommendation: alert.RecommendRFI, Active: true},
		{ID: "SOP-A004-01", Scenario: alert.ScenarioSanctionsHit, Name: "True Match Block",
			Description: "Watchlist match score at or above 0.90 or a high-risk jurisdiction",
			Priority:    1, Recommendation: alert.RecommendBlock, Active: true},
		{ID: "SOP-A004-02", Scenario: alert.ScenarioSanctionsHit, Name: "False Positive Close",
			Description: "Proven false positive on a common name",
			Priority:    2, Recommendation: alert.RecommendClose, Active: true},
		{ID: "SOP-A005-01", Scenario: alert.ScenarioDormantActivation, Name: "Low Risk IVR",
			Description: "Low KYC risk verified by an automated call",
			Priority:    1, Recommendation: alert.RecommendIVR, Active: true},
		{ID: "SOP-A005-02", Scenario: alert.ScenarioDormantActivation, Name: "High Risk International Escalation",
			Description: "High KYC risk with an international withdrawal",
			Priority:    2, Recommendation: alert.RecommendEscalate, Active: true},
	}
}
