package policy

import (
	"context"
	"math"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/alert"
)

// Advisor is the reasoning service the engine consults for confidence
// scoring, decision proposals, and rationale enrichment. Implementations
// must make IsEnabled cheap; the engine never blocks on a disabled advisor.
type Advisor interface {
	IsEnabled() bool
	ScoreRule(ctx context.Context, req ScoreRequest) (*RuleScore, error)
	ProposeDecision(ctx context.Context, req ProposalRequest) (*alert.Decision, error)
	EnhanceRationale(ctx context.Context, req EnhanceRequest) (string, error)
}

// ScoreRequest asks for a confidence verdict on one rule evaluation.
// Matched carries the deterministic predicate outcome.
type ScoreRequest struct {
	Rule     Rule
	Matched  bool
	Findings alert.Evidence
	Customer alert.Evidence
}

// RuleScore is the advisor's verdict on a rule evaluation.
type RuleScore struct {
	Matched    bool
	Confidence float64
	Rationale  string
}

// ProposalRequest asks for a full decision when no rule matched.
type ProposalRequest struct {
	Scenario   alert.ScenarioCode
	Findings   alert.Evidence
	Customer   alert.Evidence
	Candidates []Rule
}

// EnhanceRequest asks for a richer rationale for a finished decision.
type EnhanceRequest struct {
	Decision alert.Decision
	Findings alert.Evidence
	Customer alert.Evidence
	RuleName string
}

const (
	// fixedMatchConfidence is the deterministic score for a predicate match
	// when no advisor answer is usable.
	fixedMatchConfidence = 0.95

	// OverrideThreshold is the advisor confidence above which a non-matching
	// rule is flipped to a match.
	OverrideThreshold = 0.7

	// safeConfidence replaces out-of-range or missing confidence values.
	safeConfidence = 0.5
)

// usableConfidence reports whether an externally supplied confidence can be
// trusted as-is.
func usableConfidence(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// sanitizeConfidence corrects invalid external confidence to the safe
// default rather than rejecting the decision.
func sanitizeConfidence(v float64) float64 {
	if !usableConfidence(v) {
		return safeConfidence
	}
	return v
}

// ConfidenceSource produces the confidence verdict for one rule evaluation.
type ConfidenceSource interface {
	Score(ctx context.Context, req ScoreRequest) RuleScore
}

// FixedConfidence scores matches at 0.95 and non-matches at zero, with no
// external dependency. It never flips a non-match.
type FixedConfidence struct{}

func (FixedConfidence) Score(_ context.Context, req ScoreRequest) RuleScore {
	if req.Matched {
		return RuleScore{Matched: true, Confidence: fixedMatchConfidence, Rationale: "SOP matched: " + req.Rule.Name}
	}
	return RuleScore{Matched: false, Confidence: 0, Rationale: "SOP condition not met: " + req.Rule.Name}
}

// AdvisorConfidence scores rules through the reasoning service. A non-match
// is flipped to a match when the advisor disagrees with confidence above the
// threshold. Unusable answers fall back to fixed scoring for that rule.
type AdvisorConfidence struct {
	advisor   Advisor
	threshold float64
	log       log.Logger
}

func NewAdvisorConfidence(advisor Advisor, logger log.Logger) *AdvisorConfidence {
	if logger == nil {
		logger = log.Nop()
	}
	return &AdvisorConfidence{advisor: advisor, threshold: OverrideThreshold, log: logger}
}

func (s *AdvisorConfidence) Score(ctx context.Context, req ScoreRequest) RuleScore {
	rs, err := s.advisor.ScoreRule(ctx, req)
	if err != nil || rs == nil || !usableConfidence(rs.Confidence) {
		if err != nil {
			s.log.Warn(ctx, "rule scoring unavailable, using fixed confidence",
				"rule_id", req.Rule.ID, "error", err)
		}
		return FixedConfidence{}.Score(ctx, req)
	}
	if req.Matched {
		return RuleScore{Matched: true, Confidence: rs.Confidence, Rationale: rs.Rationale}
	}
	if rs.Matched && rs.Confidence > s.threshold {
		return RuleScore{Matched: true, Confidence: rs.Confidence, Rationale: rs.Rationale}
	}
	return RuleScore{Matched: false, Confidence: 0, Rationale: rs.Rationale}
}
