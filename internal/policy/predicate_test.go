package policy

import (
	"testing"

	"github.com/linnemanlabs/arbiter/internal/alert"
)

func TestDefaultPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rule     string
		findings alert.Evidence
		customer alert.Evidence
		want     bool
	}{
		{"SOP-A001-01", alert.Evidence{"transaction_count": float64(6), "total_amount": float64(33400)}, alert.Evidence{"kyc_risk": "HIGH"}, true},
		{"SOP-A001-01", alert.Evidence{"transaction_count": float64(5), "total_amount": float64(25000)}, alert.Evidence{"kyc_risk": "HIGH"}, false},
		{"SOP-A001-01", alert.Evidence{"transaction_count": float64(6), "total_amount": float64(33400)}, alert.Evidence{"kyc_risk": "MEDIUM"}, false},
		{"SOP-A001-02", alert.Evidence{"is_business_cycle": true}, alert.Evidence{}, true},
		{"SOP-A001-02", alert.Evidence{}, alert.Evidence{}, false},
		{"SOP-A002-01", alert.Evidence{"linked_accounts_aggregate": float64(28500)}, alert.Evidence{}, true},
		{"SOP-A002-01", alert.Evidence{"linked_accounts_aggregate": float64(28000)}, alert.Evidence{}, false},
		{"SOP-A002-02", alert.Evidence{"is_legitimate_business": true}, alert.Evidence{}, true},
		{"SOP-A003-01", alert.Evidence{"is_precious_metals": true}, alert.Evidence{"occupation": "Jeweler"}, true},
		{"SOP-A003-01", alert.Evidence{"is_precious_metals": true}, alert.Evidence{"occupation": "Teacher"}, false},
		{"SOP-A003-01", alert.Evidence{"is_precious_metals": false}, alert.Evidence{"occupation": "Jeweler"}, false},
		{"SOP-A003-02", alert.Evidence{"is_precious_metals": true}, alert.Evidence{"occupation": "Teacher"}, true},
		{"SOP-A003-02", alert.Evidence{"is_precious_metals": true}, alert.Evidence{"occupation": "Government Employee"}, true},
		{"SOP-A003-02", alert.Evidence{"is_precious_metals": true}, alert.Evidence{"occupation": "Jeweler"}, false},
		{"SOP-A004-01", alert.Evidence{"match_score": 0.91}, alert.Evidence{}, true},
		{"SOP-A004-01", alert.Evidence{"match_score": 0.5, "jurisdiction": "HIGH_RISK"}, alert.Evidence{}, true},
		{"SOP-A004-01", alert.Evidence{"match_score": 0.85}, alert.Evidence{}, false},
		{"SOP-A004-02", alert.Evidence{"is_false_positive": true}, alert.Evidence{}, true},
		{"SOP-A005-01", alert.Evidence{}, alert.Evidence{"kyc_risk": "LOW"}, true},
		{"SOP-A005-01", alert.Evidence{}, alert.Evidence{"kyc_risk": "MEDIUM"}, false},
		{"SOP-A005-02", alert.Evidence{"is_international_withdrawal": true}, alert.Evidence{"kyc_risk": "HIGH"}, true},
		{"SOP-A005-02", alert.Evidence{"is_international_withdrawal": false}, alert.Evidence{"kyc_risk": "HIGH"}, false},
	}

	preds := DefaultPredicates()
	for _, tt := range tests {
		fn, ok := preds.byRule[tt.rule]
		if !ok {
			t.Fatalf("no predicate registered for %s", tt.rule)
		}
		if got := fn(tt.findings, tt.customer); got != tt.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tt.rule, tt.findings, tt.customer, got, tt.want)
		}
	}
}

func TestScenarioFallbackLookup(t *testing.T) {
	t.Parallel()

	preds := DefaultPredicates()

	// A sanctions rule with no specific predicate uses the scenario check.
	fn, ok := preds.lookup(Rule{ID: "SOP-A004-99", Scenario: alert.ScenarioSanctionsHit})
	if !ok {
		t.Fatal("lookup() found no fallback for sanctions scenario")
	}
	if !fn(alert.Evidence{"match_score": 0.81}, nil) {
		t.Error("fallback(match_score 0.81) = false, want true")
	}
	if fn(alert.Evidence{"match_score": 0.79}, nil) {
		t.Error("fallback(match_score 0.79) = true, want false")
	}

	// Scenarios without a generic predicate yield no match function.
	if _, ok := preds.lookup(Rule{ID: "R-NEW", Scenario: alert.ScenarioVelocitySpike}); ok {
		t.Error("lookup() returned a predicate for an unregistered velocity rule")
	}

	// Specific predicates take precedence over the scenario fallback.
	fn, ok = preds.lookup(Rule{ID: "SOP-A004-02", Scenario: alert.ScenarioSanctionsHit})
	if !ok {
		t.Fatal("lookup(SOP-A004-02) found nothing")
	}
	if fn(alert.Evidence{"match_score": 0.99, "is_false_positive": false}, nil) {
		t.Error("rule-specific predicate not preferred over scenario fallback")
	}
}
