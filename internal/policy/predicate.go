package policy

import (
	"slices"

	"github.com/linnemanlabs/arbiter/internal/alert"
)

// Predicate decides whether a rule's SOP condition holds for the gathered
// evidence. Predicates are pure boolean functions of (findings, customer).
type Predicate func(findings, customer alert.Evidence) bool

// Predicates maps rule IDs to their condition predicates, with optional
// scenario-generic fallbacks used when a rule has no specific predicate.
// A rule with neither never matches.
type Predicates struct {
	byRule     map[string]Predicate
	byScenario map[alert.ScenarioCode]Predicate
}

func NewPredicates() *Predicates {
	return &Predicates{
		byRule:     make(map[string]Predicate),
		byScenario: make(map[alert.ScenarioCode]Predicate),
	}
}

// Rule registers the predicate for a specific rule ID.
func (p *Predicates) Rule(id string, fn Predicate) *Predicates {
	p.byRule[id] = fn
	return p
}

// Scenario registers a generic fallback predicate for a scenario.
func (p *Predicates) Scenario(code alert.ScenarioCode, fn Predicate) *Predicates {
	p.byScenario[code] = fn
	return p
}

func (p *Predicates) lookup(r Rule) (Predicate, bool) {
	if fn, ok := p.byRule[r.ID]; ok {
		return fn, true
	}
	if fn, ok := p.byScenario[r.Scenario]; ok {
		return fn, true
	}
	return nil, false
}

// DefaultPredicates returns the built-in SOP predicate table.
func DefaultPredicates() *Predicates {
	p := NewPredicates()

	// Velocity spike.
	p.Rule("SOP-A001-01", func(f, c alert.Evidence) bool {
		return f.Int("transaction_count") >= 5 &&
			f.Float("total_amount") > 25000 &&
			c.Str("kyc_risk") == "HIGH"
	})
	p.Rule("SOP-A001-02", func(f, _ alert.Evidence) bool {
		return f.Bool("is_business_cycle")
	})

	// Structuring.
	p.Rule("SOP-A002-01", func(f, _ alert.Evidence) bool {
		return f.Float("linked_accounts_aggregate") > 28000
	})
	p.Rule("SOP-A002-02", func(f, _ alert.Evidence) bool {
		return f.Bool("is_legitimate_business")
	})

	// KYC inconsistency.
	p.Rule("SOP-A003-01", func(f, c alert.Evidence) bool {
		occupations := []string{"Jeweler", "Precious Metals Trader", "Jeweler/Goldsmith"}
		return slices.Contains(occupations, c.Str("occupation")) && f.Bool("is_precious_metals")
	})
	p.Rule("SOP-A003-02", func(f, c alert.Evidence) bool {
		occupations := []string{"Teacher", "Student", "Government Employee"}
		return slices.Contains(occupations, c.Str("occupation")) && f.Bool("is_precious_metals")
	})

	// Sanctions hit.
	p.Rule("SOP-A004-01", func(f, _ alert.Evidence) bool {
		return f.Float("match_score") >= 0.90 || f.Str("jurisdiction") == "HIGH_RISK"
	})
	p.Rule("SOP-A004-02", func(f, _ alert.Evidence) bool {
		return f.Bool("is_false_positive")
	})
	p.Scenario(alert.ScenarioSanctionsHit, func(f, _ alert.Evidence) bool {
		return f.Float("match_score") >= 0.80
	})

	// Dormant activation.
	p.Rule("SOP-A005-01", func(_, c alert.Evidence) bool {
		return c.Str("kyc_risk") == "LOW"
	})
	p.Rule("SOP-A005-02", func(f, c alert.Evidence) bool {
		return c.Str("kyc_risk") == "HIGH" && f.Bool("is_international_withdrawal")
	})

	return p
}
