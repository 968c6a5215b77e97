package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/investigation"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

// Component keys the reasoning breaker in the resilience registry.
const Component = "reasoning"

// DefaultMaxTokens bounds a single completion.
const DefaultMaxTokens = 1024

// Config tunes the reasoning service.
type Config struct {
	Enabled   bool
	MaxTokens int
}

// Service implements the policy advisor and the proof advisor on top of
// a Provider. All calls run under the reasoning breaker when a registry
// is supplied.
type Service struct {
	provider Provider
	res      *resilience.Registry
	log      log.Logger
	cfg      Config
}

var (
	_ policy.Advisor             = (*Service)(nil)
	_ investigation.ProofAdvisor = (*Service)(nil)
)

// NewService creates the reasoning service. A nil registry runs calls
// without breaker protection; a nil provider leaves the service
// permanently disabled.
func NewService(provider Provider, res *resilience.Registry, logger log.Logger, cfg Config) *Service {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		provider: provider,
		res:      res,
		log:      logger.With("component", Component),
		cfg:      cfg,
	}
}

// IsEnabled reports whether the model may be consulted.
func (s *Service) IsEnabled() bool {
	return s.cfg.Enabled && s.provider != nil
}

// ScoreRule asks the model for an independent match verdict and
// confidence on one rule evaluation.
func (s *Service) ScoreRule(ctx context.Context, req policy.ScoreRequest) (*policy.RuleScore, error) {
	text, err := s.complete(ctx, scoringSystemPrompt, scorePrompt(req))
	if err != nil {
		return nil, err
	}
	var out struct {
		Matched    bool    `json:"matched"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return nil, fmt.Errorf("parse score reply: %w", err)
	}
	rationale := out.Rationale
	if rationale == "" {
		rationale = out.Reasoning
	}
	return &policy.RuleScore{
		Matched:    out.Matched,
		Confidence: out.Confidence,
		Rationale:  rationale,
	}, nil
}

// ProposeDecision asks the model for a full decision when no rule
// matched. The policy engine normalizes and sanitizes the answer.
func (s *Service) ProposeDecision(ctx context.Context, req policy.ProposalRequest) (*alert.Decision, error) {
	text, err := s.complete(ctx, scoringSystemPrompt, proposePrompt(req))
	if err != nil {
		return nil, err
	}
	var out struct {
		Recommendation string  `json:"recommendation"`
		Confidence     float64 `json:"confidence"`
		Rationale      string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return nil, fmt.Errorf("parse proposal reply: %w", err)
	}
	return &alert.Decision{
		Recommendation: alert.Recommendation(out.Recommendation),
		Confidence:     out.Confidence,
		Rationale:      out.Rationale,
	}, nil
}

// EnhanceRationale rewrites a decision rationale in richer language.
func (s *Service) EnhanceRationale(ctx context.Context, req policy.EnhanceRequest) (string, error) {
	text, err := s.complete(ctx, "You are a compliance analyst explaining regulatory decisions.", enhancePrompt(req))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// EvaluateProof judges customer-submitted proof.
func (s *Service) EvaluateProof(ctx context.Context, req investigation.ProofRequest) (*investigation.ProofVerdict, error) {
	text, err := s.complete(ctx, proofSystemPrompt, proofPrompt(req))
	if err != nil {
		return nil, err
	}
	var out struct {
		Legitimate bool    `json:"legitimate"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return nil, fmt.Errorf("parse proof reply: %w", err)
	}
	return &investigation.ProofVerdict{
		Legitimate: out.Legitimate,
		Confidence: out.Confidence,
		Rationale:  out.Rationale,
	}, nil
}

func (s *Service) complete(ctx context.Context, system, prompt string) (string, error) {
	if !s.IsEnabled() {
		return "", fmt.Errorf("reasoning disabled")
	}
	req := &Request{System: system, Prompt: prompt, MaxTokens: s.cfg.MaxTokens}
	var reply *Reply
	call := func(c context.Context) error {
		var err error
		reply, err = s.provider.Complete(c, req)
		if err == nil && reply == nil {
			err = fmt.Errorf("provider returned no reply")
		}
		return err
	}
	var err error
	if s.res != nil {
		err = s.res.Execute(ctx, Component, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}
	s.log.Info(ctx, "completion finished",
		"tokens_in", reply.Usage.InputTokens,
		"tokens_out", reply.Usage.OutputTokens)
	return reply.Text, nil
}

// extractJSON pulls the JSON body out of a reply that may wrap it in a
// fenced code block.
func extractJSON(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
	}
	return strings.TrimSpace(s)
}
