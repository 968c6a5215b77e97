package investigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

var (
	// ErrInvalidAlert marks intake validation failures.
	ErrInvalidAlert = errors.New("invalid alert")
	// ErrAlertNotFound reports an unknown alert ID.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrNotInvestigable reports a run refused because the alert's status
	// already advanced past intake.
	ErrNotInvestigable = errors.New("alert status does not permit investigation")
	// ErrProofNotAccepted reports proof submitted for an alert that is not
	// awaiting any.
	ErrProofNotAccepted = errors.New("alert is not awaiting proof")
	// ErrProofLength reports proof text outside the accepted bounds.
	ErrProofLength = errors.New("proof text length out of bounds")
)

// Service is the business boundary for investigation operations: alert
// intake, pipeline runs, proof handling, and operator queries.
type Service struct {
	store    Store
	orch     *Orchestrator
	proofs   *ProofEvaluator
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	events   Sink
}

// NewService creates the investigation service. Metrics, notifier, and
// events may be nil.
func NewService(store Store, orch *Orchestrator, proofs *ProofEvaluator, logger log.Logger, metrics *Metrics, notifier Notifier, events Sink) *Service {
	if proofs == nil {
		proofs = NewProofEvaluator(nil, logger)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		orch:     orch,
		proofs:   proofs,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		events:   events,
	}
}

// Submit accepts an alert for investigation, handling dedup and kicking
// off the pipeline in the background.
func (s *Service) Submit(ctx context.Context, al *alert.Alert) (*SubmitResult, error) {
	if al == nil {
		return nil, fmt.Errorf("%w: nil alert", ErrInvalidAlert)
	}
	if al.ID == "" {
		al.ID = "ALT-" + ulid.Make().String()
	}
	if err := al.Validate(); err != nil {
		s.countSubmit("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}

	// dedup: an alert ID is investigated once
	if _, ok, err := s.store.GetAlert(ctx, al.ID); err != nil {
		return nil, err
	} else if ok {
		s.countSubmit("duplicate")
		return &SubmitResult{ID: al.ID, Skipped: true, Reason: "duplicate"}, nil
	}

	if err := s.store.PutAlert(ctx, al); err != nil {
		return nil, err
	}
	s.countSubmit("accepted")
	s.logger.Info(ctx, "alert accepted",
		"alert_id", al.ID,
		"scenario", string(al.Scenario),
		"severity", string(al.Severity))

	// kick off the pipeline detached from the request lifetime
	go s.investigate(context.WithoutCancel(ctx), al.ID, al.Scenario)

	return &SubmitResult{ID: al.ID}, nil
}

// Investigate runs the pipeline synchronously and pushes notifications
// for the outcome.
func (s *Service) Investigate(ctx context.Context, alertID string, scenario alert.ScenarioCode, force bool) (*PipelineResult, error) {
	res, err := s.orch.Run(ctx, alertID, scenario, force)
	s.notify(ctx, res)
	return res, err
}

func (s *Service) investigate(ctx context.Context, alertID string, scenario alert.ScenarioCode) {
	if _, err := s.Investigate(ctx, alertID, scenario, false); err != nil {
		s.logger.Error(ctx, err, "background investigation failed", "alert_id", alertID)
	}
}

// SubmitProof records customer proof for an alert awaiting it,
// evaluates it, and advances the alert accordingly.
func (s *Service) SubmitProof(ctx context.Context, alertID, text string) (*Proof, error) {
	if n := len(text); n < MinProofLen || n > MaxProofLen {
		return nil, fmt.Errorf("proof text must be between %d and %d characters: %w", MinProofLen, MaxProofLen, ErrProofLength)
	}
	al, ok, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", alertID, ErrAlertNotFound)
	}
	if al.Status != alert.StatusAwaitingProof {
		return nil, fmt.Errorf("alert %s is %s, not awaiting proof: %w", alertID, al.Status, ErrProofNotAccepted)
	}

	req := ProofRequest{Alert: al, Text: text}
	if r, ok, err := s.store.GetResolution(ctx, alertID); err == nil && ok {
		req.Decision = &r.Decision
	}

	verdict := s.proofs.Evaluate(ctx, req)
	p := &Proof{
		ID:          ulid.Make().String(),
		AlertID:     alertID,
		Text:        text,
		SubmittedAt: time.Now().UTC(),
		Verdict:     verdict,
	}
	if err := s.store.PutProof(ctx, p); err != nil {
		return nil, err
	}
	if err := s.store.SetAlertStatus(ctx, alertID, verdict.NewStatus); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		outcome := "rejected"
		if verdict.Legitimate {
			outcome = "accepted"
		}
		s.metrics.ProofEvaluations.WithLabelValues(outcome).Inc()
	}
	if s.events != nil {
		s.events.Emit(ctx, EventProofEvaluated, map[string]any{
			"alert_id":   alertID,
			"legitimate": verdict.Legitimate,
			"status":     string(verdict.NewStatus),
		})
	}
	s.logger.Info(ctx, "proof evaluated",
		"alert_id", alertID,
		"legitimate", verdict.Legitimate,
		"confidence", verdict.Confidence,
		"new_status", string(verdict.NewStatus))
	return p, nil
}

// Get retrieves an alert with its resolution, if any.
func (s *Service) Get(ctx context.Context, alertID string) (*alert.Alert, *Resolution, bool, error) {
	al, ok, err := s.store.GetAlert(ctx, alertID)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	r, found, err := s.store.GetResolution(ctx, alertID)
	if err != nil {
		return nil, nil, false, err
	}
	if !found {
		r = nil
	}
	return al, r, true, nil
}

// List returns alerts matching the filter.
func (s *Service) List(ctx context.Context, filter AlertFilter) ([]*alert.Alert, error) {
	return s.store.ListAlerts(ctx, filter)
}

// Rules lists active rules, for all scenarios when none is given.
func (s *Service) Rules(ctx context.Context, scenario alert.ScenarioCode) ([]policy.Rule, error) {
	if scenario != "" {
		return s.store.ListActiveRules(ctx, scenario)
	}
	var out []policy.Rule
	for _, sc := range alert.Scenarios() {
		rules, err := s.store.ListActiveRules(ctx, sc)
		if err != nil {
			return nil, err
		}
		out = append(out, rules...)
	}
	return out, nil
}

// Malfunctions lists recorded malfunctions, newest first.
func (s *Service) Malfunctions(ctx context.Context, limit int) ([]*resilience.Malfunction, error) {
	return s.store.ListMalfunctions(ctx, limit)
}

// MalfunctionStats aggregates the malfunction log.
func (s *Service) MalfunctionStats(ctx context.Context) (*MalfunctionStats, error) {
	return s.store.MalfunctionStats(ctx)
}

// ResolveMalfunction marks a malfunction resolved.
func (s *Service) ResolveMalfunction(ctx context.Context, id, resolution string) (bool, error) {
	return s.store.ResolveMalfunction(ctx, id, resolution)
}

// Dashboard returns the aggregate snapshot for dashboards.
func (s *Service) Dashboard(ctx context.Context) (*DashboardMetrics, error) {
	return s.store.DashboardMetrics(ctx)
}

// Breakers snapshots circuit breaker state for operator inspection.
func (s *Service) Breakers() []resilience.BreakerStatus {
	return s.orch.Breakers()
}

// DeadLetters returns queued dead letters without draining them.
func (s *Service) DeadLetters() []resilience.DeadLetter {
	return s.orch.DLQ().Entries()
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) notify(ctx context.Context, res *PipelineResult) {
	if s.notifier == nil || res == nil || res.Skipped {
		return
	}
	if res.Malfunction != nil {
		s.notifier.NotifyMalfunction(ctx, res.Malfunction)
	}
	if res.Decision == nil {
		return
	}
	switch res.Decision.Recommendation {
	case alert.RecommendEscalate, alert.RecommendBlock:
		al, ok, err := s.store.GetAlert(ctx, res.AlertID)
		if err != nil || !ok {
			return
		}
		s.notifier.NotifyEscalation(ctx, al, res.Decision)
	}
}
