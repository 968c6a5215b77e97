package investigation

import (
	"context"
	"math"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/alert"
)

// Proof text bounds enforced at submission.
const (
	MinProofLen = 10
	MaxProofLen = 5000
)

// proofSufficientLen is the minimum trimmed length before a proof
// counts as detailed enough for the keyword heuristic.
const proofSufficientLen = 50

var (
	proofPositive = []string{"invoice", "receipt", "contract", "salary", "payment", "legitimate", "business", "explanation"}
	proofNegative = []string{"don't know", "not sure", "unclear", "confused", "suspicious"}
)

// ProofEvaluator judges customer-submitted proof. It consults the
// advisor when enabled and falls back to the keyword heuristic when
// the advisor is disabled or returns nothing usable.
type ProofEvaluator struct {
	advisor ProofAdvisor
	log     log.Logger
}

func NewProofEvaluator(advisor ProofAdvisor, logger log.Logger) *ProofEvaluator {
	if logger == nil {
		logger = log.Nop()
	}
	return &ProofEvaluator{advisor: advisor, log: logger.With("component", "proof")}
}

// Evaluate always returns a verdict. Accepted proof resolves the
// alert; rejected proof escalates it to branch review.
func (p *ProofEvaluator) Evaluate(ctx context.Context, req ProofRequest) *ProofVerdict {
	if p.advisor != nil && p.advisor.IsEnabled() {
		v, err := p.advisor.EvaluateProof(ctx, req)
		if err == nil && v != nil {
			return normalizeVerdict(v)
		}
		if err != nil {
			p.log.Warn(ctx, "proof advisor failed, using heuristic", "error", err.Error())
		}
	}
	return heuristicVerdict(req.Text)
}

// normalizeVerdict corrects an advisor verdict to safe values: status
// follows the legitimacy flag, unusable confidence takes the default
// for that outcome.
func normalizeVerdict(v *ProofVerdict) *ProofVerdict {
	v.NewStatus = proofStatus(v.Legitimate)
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		if v.Legitimate {
			v.Confidence = 0.8
		} else {
			v.Confidence = 0.7
		}
	}
	if v.Rationale == "" {
		if v.Legitimate {
			v.Rationale = "Proof accepted - transaction appears legitimate"
		} else {
			v.Rationale = "Proof insufficient - requires branch verification"
		}
	}
	return v
}

func proofStatus(legitimate bool) alert.Status {
	if legitimate {
		return alert.StatusResolved
	}
	return alert.StatusEscalatedToBranch
}

// heuristicVerdict scores proof text on keyword hits and length.
// Acceptance needs at least two positive markers, no negative markers,
// and sufficient detail.
func heuristicVerdict(text string) *ProofVerdict {
	lower := strings.ToLower(text)
	positive := 0
	for _, kw := range proofPositive {
		if strings.Contains(lower, kw) {
			positive++
		}
	}
	negative := 0
	for _, kw := range proofNegative {
		if strings.Contains(lower, kw) {
			negative++
		}
	}
	sufficient := len(strings.TrimSpace(text)) > proofSufficientLen

	switch {
	case positive >= 2 && negative == 0 && sufficient:
		return &ProofVerdict{
			Legitimate: true,
			Confidence: 0.7,
			Rationale:  "Proof contains legitimate explanations and sufficient detail",
			NewStatus:  alert.StatusResolved,
		}
	case negative > 0 || !sufficient:
		return &ProofVerdict{
			Legitimate: false,
			Confidence: 0.6,
			Rationale:  "Proof is insufficient or contains concerning statements",
			NewStatus:  alert.StatusEscalatedToBranch,
		}
	default:
		return &ProofVerdict{
			Legitimate: false,
			Confidence: 0.5,
			Rationale:  "Proof requires further verification",
			NewStatus:  alert.StatusEscalatedToBranch,
		}
	}
}
