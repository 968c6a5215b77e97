package investigation

import (
	"context"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

// Component names key the resilience registry's breakers. The store key
// intentionally contains "store" so its failures classify as critical.
const (
	ComponentInvestigator = "investigator"
	ComponentContext      = "context-gatherer"
	ComponentDispatcher   = "action-dispatcher"
	ComponentStore        = "store"
)

// Lifecycle events emitted to the sink.
const (
	EventInvestigationStarted  = "investigation_started"
	EventDecisionMade          = "decision_made"
	EventInvestigationComplete = "investigation_complete"
	EventInvestigationSkipped  = "investigation_skipped"
	EventProofEvaluated        = "proof_evaluated"
	EventSystemMalfunction     = "system_malfunction"
)

// Investigator gathers scenario-scoped findings for an alert.
type Investigator interface {
	GatherFindings(ctx context.Context, alertID string, scenario alert.ScenarioCode) (alert.Evidence, error)
}

// ContextGatherer snapshots the customer profile behind an alert.
type ContextGatherer interface {
	GatherContext(ctx context.Context, alertID string) (alert.Evidence, error)
}

// Dispatcher executes the decided action for an alert.
type Dispatcher interface {
	Execute(ctx context.Context, alertID string, d alert.Decision) (*alert.ActionResult, error)
}

// Sink receives best-effort lifecycle events. Implementations must not
// block the pipeline; delivery failures stay inside the sink.
type Sink interface {
	Emit(ctx context.Context, event string, data map[string]any)
}

// ProofAdvisor judges customer-submitted proof. IsEnabled reports
// whether the advisor can be consulted at all.
type ProofAdvisor interface {
	IsEnabled() bool
	EvaluateProof(ctx context.Context, req ProofRequest) (*ProofVerdict, error)
}

// Notifier pushes operator-facing notices out of band. Calls are
// fire-and-forget; implementations log their own failures.
type Notifier interface {
	NotifyEscalation(ctx context.Context, a *alert.Alert, d *alert.Decision)
	NotifyMalfunction(ctx context.Context, m *resilience.Malfunction)
}

// Collaborators bundles the external services the pipeline drives.
// Events may be nil; the other three are required.
type Collaborators struct {
	Investigator Investigator
	Context      ContextGatherer
	Dispatcher   Dispatcher
	Events       Sink
}
