package investigation

import (
	"context"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

// Store is the persistence boundary for the pipeline. Implementations
// stamp lifecycle timestamps on status writes: moving to INVESTIGATING
// sets started_investigating_at, reaching a terminal status sets
// resolved_at. ListActiveRules returns rules in ascending priority so
// the store doubles as the policy engine's rule source.
type Store interface {
	PutAlert(ctx context.Context, a *alert.Alert) error
	GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*alert.Alert, error)
	SetAlertStatus(ctx context.Context, id string, status alert.Status) error

	PutResolution(ctx context.Context, r *Resolution) error
	GetResolution(ctx context.Context, alertID string) (*Resolution, bool, error)

	ListActiveRules(ctx context.Context, scenario alert.ScenarioCode) ([]policy.Rule, error)

	RecordMalfunction(ctx context.Context, m *resilience.Malfunction) error
	ListMalfunctions(ctx context.Context, limit int) ([]*resilience.Malfunction, error)
	ResolveMalfunction(ctx context.Context, id, resolution string) (bool, error)
	MalfunctionStats(ctx context.Context) (*MalfunctionStats, error)

	PutProof(ctx context.Context, p *Proof) error
	ListProofs(ctx context.Context, alertID string) ([]*Proof, error)

	DashboardMetrics(ctx context.Context) (*DashboardMetrics, error)
}
