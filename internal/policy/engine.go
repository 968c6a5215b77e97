// Package policy adjudicates gathered evidence against the scenario's SOP
// rule set. Rules are matched by registered predicates, scored by a
// confidence source (fixed or advisor-backed, selected by availability),
// tie-broken deterministically, and backed by a layered no-match fallback so
// evaluation always yields a decision.
package policy

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/alert"
)

// Config tunes engine behavior.
type Config struct {
	// OverrideCompetes lets an advisor-flipped non-match compete against
	// predicate matches on confidence. When false, flips are considered
	// only if no predicate matched.
	OverrideCompetes bool

	// EnrichRationale rewrites the final rationale through the advisor.
	// Failures leave the deterministic rationale untouched.
	EnrichRationale bool
}

// Engine evaluates one scenario's rules against gathered evidence.
type Engine struct {
	rules   RuleSource
	preds   *Predicates
	advisor Advisor
	scored  ConfidenceSource
	fixed   FixedConfidence
	log     log.Logger
	cfg     Config
}

// NewEngine builds an engine. The advisor may be nil, in which case fixed
// confidence scoring and the static no-match default are used throughout.
func NewEngine(rules RuleSource, preds *Predicates, advisor Advisor, logger log.Logger, cfg Config) *Engine {
	if rules == nil {
		panic(xerrors.New("policy: nil rule source"))
	}
	if preds == nil {
		preds = DefaultPredicates()
	}
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		rules:   rules,
		preds:   preds,
		advisor: advisor,
		log:     logger,
		cfg:     cfg,
	}
	if advisor != nil {
		e.scored = NewAdvisorConfidence(advisor, logger)
	}
	return e
}

// confidenceSource selects the advisor-backed source when the reasoning
// service is enabled, otherwise the fixed one.
func (e *Engine) confidenceSource() ConfidenceSource {
	if e.advisor != nil && e.advisor.IsEnabled() {
		return e.scored
	}
	return e.fixed
}

type candidate struct {
	rule    Rule
	score   RuleScore
	flipped bool
}

// Evaluate runs the scenario's active rules against the evidence and
// returns the winning decision. It only errors when the rule listing
// itself fails; every evaluation path yields a decision.
func (e *Engine) Evaluate(ctx context.Context, scenario alert.ScenarioCode, findings, customer alert.Evidence) (*alert.Decision, error) {
	rules, err := e.rules.ListActiveRules(ctx, scenario)
	if err != nil {
		return nil, fmt.Errorf("list rules for %s: %w", scenario, err)
	}

	src := e.confidenceSource()
	var matches, flips []candidate
	for _, r := range rules {
		matched := false
		if pred, ok := e.preds.lookup(r); ok {
			matched = pred(findings, customer)
		}
		score := src.Score(ctx, ScoreRequest{Rule: r, Matched: matched, Findings: findings, Customer: customer})
		switch {
		case matched:
			matches = append(matches, candidate{rule: r, score: score})
		case score.Matched:
			// Advisor recovered an edge case the literal predicate missed.
			e.log.Info(ctx, "advisor overrode rule non-match",
				"rule_id", r.ID, "scenario", scenario, "confidence", score.Confidence)
			flips = append(flips, candidate{rule: r, score: score, flipped: true})
		}
	}

	if e.cfg.OverrideCompetes {
		matches = append(matches, flips...)
	} else if len(matches) == 0 {
		matches = flips
	}

	var d *alert.Decision
	if len(matches) > 0 {
		d = e.decide(best(matches))
	} else {
		d = e.propose(ctx, scenario, findings, customer, rules)
	}
	if e.cfg.EnrichRationale {
		e.enrich(ctx, d, findings, customer)
	}
	return d, nil
}

// best keeps the strictly highest confidence; ties keep the first
// encountered, which is priority order because rules arrive sorted.
func best(cands []candidate) candidate {
	win := cands[0]
	for _, c := range cands[1:] {
		if c.score.Confidence > win.score.Confidence {
			win = c
		}
	}
	return win
}

func (e *Engine) decide(c candidate) *alert.Decision {
	source := alert.SourceRule
	if c.flipped {
		source = alert.SourceLLMOverride
	}
	rationale := c.score.Rationale
	if rationale == "" {
		rationale = "SOP matched: " + c.rule.Name
	}
	return &alert.Decision{
		Recommendation: c.rule.Recommendation.Normalize(),
		Confidence:     sanitizeConfidence(c.score.Confidence),
		Rationale:      rationale,
		RuleID:         c.rule.ID,
		RuleName:       c.rule.Name,
		Source:         source,
	}
}

// propose asks the advisor for a decision when no rule matched, degrading
// to the static RFI default when the advisor is disabled or fails.
func (e *Engine) propose(ctx context.Context, scenario alert.ScenarioCode, findings, customer alert.Evidence, rules []Rule) *alert.Decision {
	if e.advisor != nil && e.advisor.IsEnabled() {
		d, err := e.advisor.ProposeDecision(ctx, ProposalRequest{
			Scenario:   scenario,
			Findings:   findings,
			Customer:   customer,
			Candidates: rules,
		})
		if err == nil && d != nil {
			d.Recommendation = d.Recommendation.Normalize()
			d.Confidence = sanitizeConfidence(d.Confidence)
			d.Source = alert.SourceLLMProposal
			if d.Rationale == "" {
				d.Rationale = "no applicable rule"
			}
			return d
		}
		if err != nil {
			e.log.Warn(ctx, "decision proposal failed, using default",
				"scenario", scenario, "error", err)
		}
	}
	return &alert.Decision{
		Recommendation: alert.RecommendRFI,
		Confidence:     safeConfidence,
		Rationale:      "no applicable rule",
		Source:         alert.SourceDefault,
	}
}

// enrich replaces the rationale text only; the decision itself is settled.
func (e *Engine) enrich(ctx context.Context, d *alert.Decision, findings, customer alert.Evidence) {
	if e.advisor == nil || !e.advisor.IsEnabled() {
		return
	}
	text, err := e.advisor.EnhanceRationale(ctx, EnhanceRequest{
		Decision: *d,
		Findings: findings,
		Customer: customer,
		RuleName: d.RuleName,
	})
	if err != nil {
		e.log.Warn(ctx, "rationale enrichment failed, keeping deterministic text", "error", err)
		return
	}
	if text != "" {
		d.Rationale = text
	}
}
