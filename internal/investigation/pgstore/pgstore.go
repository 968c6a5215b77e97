// Package pgstore provides a PostgreSQL implementation of
// investigation.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/investigation"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/investigation/pgstore")

//go:embed schema.sql
var schema string

// defaultMalfunctionLimit caps ListMalfunctions when no limit is given.
const defaultMalfunctionLimit = 50

// Store persists investigation state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema, seeds the SOP rule table, and returns a ready
// Store. The pool is owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

const alertColumns = `alert_id, scenario_code, customer_id, account_id, severity,
	description, risk_score, status, created_at, started_investigating_at, resolved_at`

// PutAlert inserts or replaces an alert row.
func (s *Store) PutAlert(ctx context.Context, a *alert.Alert) error {
	ctx, span := startSpan(ctx, "pgstore.PutAlert", "UPSERT")
	defer span.End()

	query := `INSERT INTO alerts (` + alertColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (alert_id) DO UPDATE SET
		scenario_code            = EXCLUDED.scenario_code,
		customer_id              = EXCLUDED.customer_id,
		account_id               = EXCLUDED.account_id,
		severity                 = EXCLUDED.severity,
		description              = EXCLUDED.description,
		risk_score               = EXCLUDED.risk_score,
		status                   = EXCLUDED.status,
		created_at               = EXCLUDED.created_at,
		started_investigating_at = EXCLUDED.started_investigating_at,
		resolved_at              = EXCLUDED.resolved_at`

	_, err := s.pool.Exec(ctx, query,
		a.ID, string(a.Scenario), a.CustomerID, a.AccountID, string(a.Severity),
		a.Description, a.RiskScore, string(a.Status), a.CreatedAt, a.InvestigatingAt, a.ResolvedAt)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("put alert: %w", err)
	}
	return nil
}

// GetAlert retrieves one alert. The bool reports whether it exists.
func (s *Store) GetAlert(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetAlert", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE alert_id = $1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		spanError(span, err)
		return nil, false, fmt.Errorf("get alert: %w", err)
	}
	return a, true, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter investigation.AlertFilter) ([]*alert.Alert, error) {
	ctx, span := startSpan(ctx, "pgstore.ListAlerts", "SELECT")
	defer span.End()

	query := `SELECT ` + alertColumns + ` FROM alerts`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Scenario != "" {
		args = append(args, string(filter.Scenario))
		where = append(where, fmt.Sprintf("scenario_code = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, alert_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			spanError(span, err)
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// SetAlertStatus moves an alert to status and stamps lifecycle
// timestamps: INVESTIGATING records the investigation start and clears
// any stale resolution time, terminal statuses record resolution.
func (s *Store) SetAlertStatus(ctx context.Context, id string, status alert.Status) error {
	ctx, span := startSpan(ctx, "pgstore.SetAlertStatus", "UPDATE")
	defer span.End()

	query := `UPDATE alerts SET status = $2 WHERE alert_id = $1`
	switch {
	case status == alert.StatusInvestigating:
		query = `UPDATE alerts SET status = $2, started_investigating_at = NOW(), resolved_at = NULL
		WHERE alert_id = $1`
	case status.Terminal():
		query = `UPDATE alerts SET status = $2, resolved_at = NOW() WHERE alert_id = $1`
	}

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("set alert status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s not found", id)
	}
	return nil
}

// PutResolution inserts or replaces the alert's recorded decision.
func (s *Store) PutResolution(ctx context.Context, r *investigation.Resolution) error {
	ctx, span := startSpan(ctx, "pgstore.PutResolution", "UPSERT")
	defer span.End()

	var actionJSON []byte
	if r.Action != nil {
		var err error
		if actionJSON, err = json.Marshal(r.Action); err != nil {
			return fmt.Errorf("marshal action: %w", err)
		}
	}
	findingsJSON, err := json.Marshal(r.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	customerJSON, err := json.Marshal(r.Customer)
	if err != nil {
		return fmt.Errorf("marshal customer context: %w", err)
	}

	query := `INSERT INTO resolutions (
		alert_id, recommendation, confidence, rationale, rule_id, rule_name,
		source, action, findings, customer_context, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (alert_id) DO UPDATE SET
		recommendation   = EXCLUDED.recommendation,
		confidence       = EXCLUDED.confidence,
		rationale        = EXCLUDED.rationale,
		rule_id          = EXCLUDED.rule_id,
		rule_name        = EXCLUDED.rule_name,
		source           = EXCLUDED.source,
		action           = EXCLUDED.action,
		findings         = EXCLUDED.findings,
		customer_context = EXCLUDED.customer_context,
		created_at       = EXCLUDED.created_at,
		updated_at       = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		r.AlertID, string(r.Decision.Recommendation), r.Decision.Confidence,
		r.Decision.Rationale, r.Decision.RuleID, r.Decision.RuleName,
		string(r.Decision.Source), actionJSON, findingsJSON, customerJSON,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("put resolution: %w", err)
	}
	return nil
}

// GetResolution retrieves the alert's recorded decision. The bool
// reports whether one exists.
func (s *Store) GetResolution(ctx context.Context, alertID string) (*investigation.Resolution, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetResolution", "SELECT")
	defer span.End()

	query := `SELECT alert_id, recommendation, confidence, rationale, rule_id, rule_name,
		source, action, findings, customer_context, created_at, updated_at
	FROM resolutions WHERE alert_id = $1`

	var (
		r              investigation.Resolution
		recommendation string
		source         string
		actionJSON     []byte
		findingsJSON   []byte
		customerJSON   []byte
	)
	err := s.pool.QueryRow(ctx, query, alertID).Scan(
		&r.AlertID, &recommendation, &r.Decision.Confidence, &r.Decision.Rationale,
		&r.Decision.RuleID, &r.Decision.RuleName, &source,
		&actionJSON, &findingsJSON, &customerJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		spanError(span, err)
		return nil, false, fmt.Errorf("get resolution: %w", err)
	}
	r.Decision.Recommendation = alert.Recommendation(recommendation)
	r.Decision.Source = alert.DecisionSource(source)

	if len(actionJSON) > 0 {
		if err := json.Unmarshal(actionJSON, &r.Action); err != nil {
			spanError(span, err)
			return nil, false, fmt.Errorf("unmarshal action: %w", err)
		}
	}
	if err := unmarshalEvidence(findingsJSON, &r.Findings); err != nil {
		spanError(span, err)
		return nil, false, fmt.Errorf("unmarshal findings: %w", err)
	}
	if err := unmarshalEvidence(customerJSON, &r.Customer); err != nil {
		spanError(span, err)
		return nil, false, fmt.Errorf("unmarshal customer context: %w", err)
	}
	return &r, true, nil
}

// ListActiveRules returns the scenario's active rules in ascending
// priority order.
func (s *Store) ListActiveRules(ctx context.Context, scenario alert.ScenarioCode) ([]policy.Rule, error) {
	ctx, span := startSpan(ctx, "pgstore.ListActiveRules", "SELECT")
	defer span.End()

	query := `SELECT rule_id, scenario_code, name, description, priority, recommendation, active
	FROM sop_rules WHERE scenario_code = $1 AND active
	ORDER BY priority, rule_id`

	rows, err := s.pool.Query(ctx, query, string(scenario))
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []policy.Rule
	for rows.Next() {
		var (
			r              policy.Rule
			sc             string
			recommendation string
		)
		if err := rows.Scan(&r.ID, &sc, &r.Name, &r.Description, &r.Priority, &recommendation, &r.Active); err != nil {
			spanError(span, err)
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Scenario = alert.ScenarioCode(sc)
		r.Recommendation = alert.Recommendation(recommendation)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// RecordMalfunction appends one malfunction to the log. Re-recording an
// event ID is a no-op.
func (s *Store) RecordMalfunction(ctx context.Context, m *resilience.Malfunction) error {
	ctx, span := startSpan(ctx, "pgstore.RecordMalfunction", "INSERT")
	defer span.End()

	remediationJSON, err := json.Marshal(m.Remediation)
	if err != nil {
		return fmt.Errorf("marshal remediation: %w", err)
	}

	query := `INSERT INTO malfunctions (
		event_id, component, alert_id, malfunction_type, severity, message,
		recommended_actions, occurred_at, resolved, resolved_at, resolution
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (event_id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		m.ID, m.Component, m.AlertID, string(m.Type), string(m.Severity),
		m.Message, remediationJSON, m.OccurredAt, m.Resolved, m.ResolvedAt, m.Resolution)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("record malfunction: %w", err)
	}
	return nil
}

// ListMalfunctions returns recent malfunctions, newest first. A
// non-positive limit returns the default 50.
func (s *Store) ListMalfunctions(ctx context.Context, limit int) ([]*resilience.Malfunction, error) {
	ctx, span := startSpan(ctx, "pgstore.ListMalfunctions", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = defaultMalfunctionLimit
	}

	query := `SELECT event_id, component, alert_id, malfunction_type, severity, message,
		recommended_actions, occurred_at, resolved, resolved_at, resolution
	FROM malfunctions ORDER BY occurred_at DESC, event_id DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("query malfunctions: %w", err)
	}
	defer rows.Close()

	var out []*resilience.Malfunction
	for rows.Next() {
		var (
			m               resilience.Malfunction
			typ             string
			severity        string
			remediationJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.Component, &m.AlertID, &typ, &severity, &m.Message,
			&remediationJSON, &m.OccurredAt, &m.Resolved, &m.ResolvedAt, &m.Resolution); err != nil {
			spanError(span, err)
			return nil, fmt.Errorf("scan malfunction: %w", err)
		}
		m.Type = resilience.MalfunctionType(typ)
		m.Severity = resilience.Severity(severity)
		if len(remediationJSON) > 0 {
			if err := json.Unmarshal(remediationJSON, &m.Remediation); err != nil {
				spanError(span, err)
				return nil, fmt.Errorf("unmarshal remediation: %w", err)
			}
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("iterate malfunctions: %w", err)
	}
	return out, nil
}

// ResolveMalfunction marks one malfunction resolved. The bool reports
// whether the ID existed.
func (s *Store) ResolveMalfunction(ctx context.Context, id, resolution string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.ResolveMalfunction", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE malfunctions SET resolved = TRUE, resolved_at = NOW(), resolution = $2
		WHERE event_id = $1`, id, resolution)
	if err != nil {
		spanError(span, err)
		return false, fmt.Errorf("resolve malfunction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MalfunctionStats aggregates the malfunction log.
func (s *Store) MalfunctionStats(ctx context.Context) (*investigation.MalfunctionStats, error) {
	ctx, span := startSpan(ctx, "pgstore.MalfunctionStats", "SELECT")
	defer span.End()

	stats := &investigation.MalfunctionStats{
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
		ByComponent: make(map[string]int),
	}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT resolved) FROM malfunctions`).
		Scan(&stats.Total, &stats.Unresolved)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("count malfunctions: %w", err)
	}

	groups := []struct {
		query string
		into  map[string]int
	}{
		{`SELECT malfunction_type, COUNT(*) FROM malfunctions GROUP BY malfunction_type`, stats.ByType},
		{`SELECT severity, COUNT(*) FROM malfunctions GROUP BY severity`, stats.BySeverity},
		{`SELECT component, COUNT(*) FROM malfunctions GROUP BY component`, stats.ByComponent},
	}
	for _, g := range groups {
		if err := s.tally(ctx, g.query, g.into); err != nil {
			spanError(span, err)
			return nil, err
		}
	}
	return stats, nil
}

// PutProof inserts or replaces a proof submission.
func (s *Store) PutProof(ctx context.Context, p *investigation.Proof) error {
	ctx, span := startSpan(ctx, "pgstore.PutProof", "UPSERT")
	defer span.End()

	var verdictJSON []byte
	if p.Verdict != nil {
		var err error
		if verdictJSON, err = json.Marshal(p.Verdict); err != nil {
			return fmt.Errorf("marshal verdict: %w", err)
		}
	}

	query := `INSERT INTO proofs (proof_id, alert_id, text, submitted_at, verdict)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (proof_id) DO UPDATE SET
		alert_id     = EXCLUDED.alert_id,
		text         = EXCLUDED.text,
		submitted_at = EXCLUDED.submitted_at,
		verdict      = EXCLUDED.verdict`

	_, err := s.pool.Exec(ctx, query, p.ID, p.AlertID, p.Text, p.SubmittedAt, verdictJSON)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("put proof: %w", err)
	}
	return nil
}

// ListProofs returns the alert's proof submissions in submission order.
func (s *Store) ListProofs(ctx context.Context, alertID string) ([]*investigation.Proof, error) {
	ctx, span := startSpan(ctx, "pgstore.ListProofs", "SELECT")
	defer span.End()

	query := `SELECT proof_id, alert_id, text, submitted_at, verdict
	FROM proofs WHERE alert_id = $1 ORDER BY submitted_at, proof_id`

	rows, err := s.pool.Query(ctx, query, alertID)
	if err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("query proofs: %w", err)
	}
	defer rows.Close()

	var out []*investigation.Proof
	for rows.Next() {
		var (
			p           investigation.Proof
			verdictJSON []byte
		)
		if err := rows.Scan(&p.ID, &p.AlertID, &p.Text, &p.SubmittedAt, &verdictJSON); err != nil {
			spanError(span, err)
			return nil, fmt.Errorf("scan proof: %w", err)
		}
		if len(verdictJSON) > 0 {
			if err := json.Unmarshal(verdictJSON, &p.Verdict); err != nil {
				spanError(span, err)
				return nil, fmt.Errorf("unmarshal verdict: %w", err)
			}
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("iterate proofs: %w", err)
	}
	return out, nil
}

// DashboardMetrics assembles the aggregate snapshot dashboards poll.
func (s *Store) DashboardMetrics(ctx context.Context) (*investigation.DashboardMetrics, error) {
	ctx, span := startSpan(ctx, "pgstore.DashboardMetrics", "SELECT")
	defer span.End()

	m := &investigation.DashboardMetrics{
		AlertsByStatus:    make(map[string]int),
		AlertsByScenario:  make(map[string]int),
		DecisionsByAction: make(map[string]int),
	}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&m.TotalAlerts); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	groups := []struct {
		query string
		into  map[string]int
	}{
		{`SELECT status, COUNT(*) FROM alerts GROUP BY status`, m.AlertsByStatus},
		{`SELECT scenario_code, COUNT(*) FROM alerts GROUP BY scenario_code`, m.AlertsByScenario},
		{`SELECT recommendation, COUNT(*) FROM resolutions GROUP BY recommendation`, m.DecisionsByAction},
	}
	for _, g := range groups {
		if err := s.tally(ctx, g.query, g.into); err != nil {
			spanError(span, err)
			return nil, err
		}
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(confidence), 0) FROM resolutions`).Scan(&m.AverageConfidence); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("average confidence: %w", err)
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM malfunctions WHERE NOT resolved`).Scan(&m.UnresolvedMalfunctions); err != nil {
		spanError(span, err)
		return nil, fmt.Errorf("count unresolved: %w", err)
	}
	return m, nil
}

// tally runs a (key, count) aggregate query into a map.
func (s *Store) tally(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("tally: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan tally: %w", err)
		}
		into[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate tally: %w", err)
	}
	return nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a        alert.Alert
		scenario string
		severity string
		status   string
	)
	err := row.Scan(&a.ID, &scenario, &a.CustomerID, &a.AccountID, &severity,
		&a.Description, &a.RiskScore, &status, &a.CreatedAt, &a.InvestigatingAt, &a.ResolvedAt)
	if err != nil {
		return nil, err
	}
	a.Scenario = alert.ScenarioCode(scenario)
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	return &a, nil
}

// unmarshalEvidence decodes a jsonb column, leaving the bag nil for
// NULL or JSON null.
func unmarshalEvidence(data []byte, e *alert.Evidence) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, e)
}
