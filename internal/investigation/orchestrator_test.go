package investigation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu           sync.Mutex
	alerts       map[string]*alert.Alert
	resolutions  map[string]*Resolution
	rules        []policy.Rule
	malfunctions []*resilience.Malfunction
	proofs       map[string][]*Proof
	statusWrites []alert.Status

	getAlertErr error
	putAlertErr error
	statusErr   error
	putResErr   error
	getResErr   error
	rulesErr    error
}

func newMockStore() *mockStore {
	return &mockStore{
		alerts:      make(map[string]*alert.Alert),
		resolutions: make(map[string]*Resolution),
		proofs:      make(map[string][]*Proof),
	}
}

func (m *mockStore) PutAlert(_ context.Context, a *alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putAlertErr != nil {
		return m.putAlertErr
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *mockStore) GetAlert(_ context.Context, id string) (*alert.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getAlertErr != nil {
		return nil, false, m.getAlertErr
	}
	a, ok := m.alerts[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (m *mockStore) ListAlerts(_ context.Context, filter AlertFilter) ([]*alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*alert.Alert
	for _, a := range m.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Scenario != "" && a.Scenario != filter.Scenario {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) SetAlertStatus(_ context.Context, id string, status alert.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	a, ok := m.alerts[id]
	if !ok {
		return errors.New("alert not found")
	}
	a.Status = status
	now := time.Now().UTC()
	switch {
	case status == alert.StatusInvestigating:
		a.InvestigatingAt = &now
	case status.Terminal():
		a.ResolvedAt = &now
	}
	m.statusWrites = append(m.statusWrites, status)
	return nil
}

func (m *mockStore) PutResolution(_ context.Context, r *Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putResErr != nil {
		return m.putResErr
	}
	cp := *r
	m.resolutions[r.AlertID] = &cp
	return nil
}

func (m *mockStore) GetResolution(_ context.Context, alertID string) (*Resolution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getResErr != nil {
		return nil, false, m.getResErr
	}
	r, ok := m.resolutions[alertID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

func (m *mockStore) ListActiveRules(_ context.Context, scenario alert.ScenarioCode) ([]policy.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rulesErr != nil {
		return nil, m.rulesErr
	}
	var out []policy.Rule
	for _, r := range m.rules {
		if r.Scenario == scenario && r.Active {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *mockStore) RecordMalfunction(_ context.Context, mf *resilience.Malfunction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mf
	m.malfunctions = append(m.malfunctions, &cp)
	return nil
}

func (m *mockStore) ListMalfunctions(_ context.Context, limit int) ([]*resilience.Malfunction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*resilience.Malfunction, 0, len(m.malfunctions))
	for i := len(m.malfunctions) - 1; i >= 0; i-- {
		cp := *m.malfunctions[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) ResolveMalfunction(_ context.Context, id, resolution string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mf := range m.malfunctions {
		if mf.ID == id && !mf.Resolved {
			now := time.Now().UTC()
			mf.Resolved = true
			mf.ResolvedAt = &now
			mf.Resolution = resolution
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) MalfunctionStats(_ context.Context) (*MalfunctionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &MalfunctionStats{
		Total:       len(m.malfunctions),
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
		ByComponent: make(map[string]int),
	}
	for _, mf := range m.malfunctions {
		if !mf.Resolved {
			st.Unresolved++
		}
		st.ByType[string(mf.Type)]++
		st.BySeverity[string(mf.Severity)]++
		st.ByComponent[mf.Component]++
	}
	return st, nil
}

func (m *mockStore) PutProof(_ context.Context, p *Proof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.proofs[p.AlertID] = append(m.proofs[p.AlertID], &cp)
	return nil
}

func (m *mockStore) ListProofs(_ context.Context, alertID string) ([]*Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Proof, 0, len(m.proofs[alertID]))
	for _, p := range m.proofs[alertID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) DashboardMetrics(_ context.Context) (*DashboardMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm := &DashboardMetrics{
		TotalAlerts:       len(m.alerts),
		AlertsByStatus:    make(map[string]int),
		AlertsByScenario:  make(map[string]int),
		DecisionsByAction: make(map[string]int),
	}
	for _, a := range m.alerts {
		dm.AlertsByStatus[string(a.Status)]++
		dm.AlertsByScenario[string(a.Scenario)]++
	}
	var confSum float64
	for _, r := range m.resolutions {
		dm.DecisionsByAction[string(r.Decision.Recommendation)]++
		confSum += r.Decision.Confidence
	}
	if n := len(m.resolutions); n > 0 {
		dm.AverageConfidence = confSum / float64(n)
	}
	for _, mf := range m.malfunctions {
		if !mf.Resolved {
			dm.UnresolvedMalfunctions++
		}
	}
	return dm, nil
}

func (m *mockStore) statuses() []alert.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]alert.Status(nil), m.statusWrites...)
}

func (m *mockStore) malfunctionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.malfunctions)
}

// mockInvestigator implements Investigator with optional leading failures.
type mockInvestigator struct {
	mu       sync.Mutex
	calls    int
	failures int
	findings alert.Evidence
	err      error
}

func (m *mockInvestigator) GatherFindings(_ context.Context, _ string, _ alert.ScenarioCode) (alert.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return nil, m.err
	}
	if m.findings == nil && m.err != nil {
		return nil, m.err
	}
	return m.findings, nil
}

func (m *mockInvestigator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockGatherer struct {
	mu       sync.Mutex
	calls    int
	customer alert.Evidence
	err      error
}

func (m *mockGatherer) GatherContext(_ context.Context, _ string) (alert.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.customer, nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	calls  int
	status string
	err    error
	last   alert.Decision
}

func (m *mockDispatcher) Execute(_ context.Context, _ string, d alert.Decision) (*alert.ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = d
	if m.err != nil {
		return nil, m.err
	}
	status := m.status
	if status == "" {
		status = "EXECUTED_CONSOLE"
	}
	return &alert.ActionResult{
		ActionType: string(d.Recommendation),
		Status:     status,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (m *mockDispatcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingSink captures emitted events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (r *recordingSink) Emit(_ context.Context, event string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.data = append(r.data, data)
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func velocityRules() []policy.Rule {
	return []policy.Rule{
		{ID: "SOP-A001-01", Scenario: alert.ScenarioVelocitySpike, Name: "High velocity with high KYC risk", Priority: 1, Recommendation: alert.RecommendEscalate, Active: true},
		{ID: "SOP-A001-02", Scenario: alert.ScenarioVelocitySpike, Name: "Documented business cycle", Priority: 2, Recommendation: alert.RecommendClose, Active: true},
	}
}

func velocityAlert(id string) *alert.Alert {
	return &alert.Alert{
		ID:         id,
		Scenario:   alert.ScenarioVelocitySpike,
		CustomerID: "CUST-001",
		AccountID:  "ACC-001",
		Severity:   alert.SeverityHigh,
		Status:     alert.StatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
}

func fastRegistry() *resilience.Registry {
	return resilience.NewRegistry(resilience.Config{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		Retry: resilience.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	})
}

type fixture struct {
	store *mockStore
	inv   *mockInvestigator
	gat   *mockGatherer
	disp  *mockDispatcher
	sink  *recordingSink
	orch  *Orchestrator
}

func newFixture(store *mockStore) *fixture {
	f := &fixture{
		store: store,
		inv: &mockInvestigator{findings: alert.Evidence{
			"transaction_count": 6,
			"total_amount":      33400.0,
		}},
		gat:  &mockGatherer{customer: alert.Evidence{"kyc_risk": "HIGH"}},
		disp: &mockDispatcher{},
		sink: &recordingSink{},
	}
	engine := policy.NewEngine(store, nil, nil, log.Nop(), policy.Config{})
	f.orch = NewOrchestrator(store, engine, Collaborators{
		Investigator: f.inv,
		Context:      f.gat,
		Dispatcher:   f.disp,
		Events:       f.sink,
	}, fastRegistry(), log.Nop(), Hooks{})
	return f
}

func TestRun_VelocitySpikeEscalates(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-1"] = velocityAlert("ALT-1")
	f := newFixture(store)
	f.disp.status = "ROUTED_TO_QUEUE"

	res, err := f.orch.Run(context.Background(), "ALT-1", alert.ScenarioVelocitySpike, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped {
		t.Fatal("expected full run, got skipped")
	}
	if res.Decision.Recommendation != alert.RecommendEscalate {
		t.Errorf("recommendation = %s, want ESCALATE", res.Decision.Recommendation)
	}
	if res.Decision.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", res.Decision.Confidence)
	}
	if res.Decision.RuleID != "SOP-A001-01" {
		t.Errorf("rule = %s, want SOP-A001-01", res.Decision.RuleID)
	}
	if res.FinalStatus != alert.StatusEscalated {
		t.Errorf("final status = %s, want ESCALATED", res.FinalStatus)
	}
	if res.Action == nil || res.Action.Status != "ROUTED_TO_QUEUE" {
		t.Errorf("action = %+v, want ROUTED_TO_QUEUE", res.Action)
	}

	got, _, _ := store.GetAlert(context.Background(), "ALT-1")
	if got.Status != alert.StatusEscalated {
		t.Errorf("stored status = %s, want ESCALATED", got.Status)
	}
	if got.InvestigatingAt == nil || got.ResolvedAt == nil {
		t.Error("expected lifecycle timestamps to be stamped")
	}

	r, ok, _ := store.GetResolution(context.Background(), "ALT-1")
	if !ok {
		t.Fatal("expected resolution to be persisted")
	}
	if r.Action == nil || r.Action.Status != "ROUTED_TO_QUEUE" {
		t.Errorf("persisted action = %+v, want ROUTED_TO_QUEUE", r.Action)
	}

	want := []string{EventInvestigationStarted, EventDecisionMade, EventInvestigationComplete}
	if got := f.sink.names(); len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
			}
		}
	}
}

func TestRun_NoMatchDefaultsToRFI(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = []policy.Rule{
		{ID: "SOP-A005-01", Scenario: alert.ScenarioDormantActivation, Name: "Low risk dormant reactivation", Priority: 1, Recommendation: alert.RecommendIVR, Active: true},
	}
	al := velocityAlert("ALT-2")
	al.Scenario = alert.ScenarioDormantActivation
	store.alerts["ALT-2"] = al

	f := newFixture(store)
	f.inv.findings = alert.Evidence{}
	f.gat.customer = alert.Evidence{"kyc_risk": "MEDIUM"}
	f.disp.status = "EMAIL_SENT"

	res, err := f.orch.Run(context.Background(), "ALT-2", "", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Decision.Recommendation != alert.RecommendRFI {
		t.Errorf("recommendation = %s, want RFI", res.Decision.Recommendation)
	}
	if res.Decision.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", res.Decision.Confidence)
	}
	if res.Decision.Source != alert.SourceDefault {
		t.Errorf("source = %s, want DEFAULT", res.Decision.Source)
	}
	if res.FinalStatus != alert.StatusAwaitingProof {
		t.Errorf("final status = %s, want AWAITING_PROOF", res.FinalStatus)
	}
}

func TestRun_SecondRunSkips(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-3"] = velocityAlert("ALT-3")
	f := newFixture(store)

	first, err := f.orch.Run(context.Background(), "ALT-3", "", false)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := f.orch.Run(context.Background(), "ALT-3", "", false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !second.Skipped {
		t.Fatal("expected second run to be skipped")
	}
	if second.Reason != "decision already recorded" {
		t.Errorf("reason = %q", second.Reason)
	}
	if second.Decision.RuleID != first.Decision.RuleID {
		t.Errorf("skip returned different decision: %s vs %s", second.Decision.RuleID, first.Decision.RuleID)
	}
	if f.disp.callCount() != 1 {
		t.Errorf("dispatcher calls = %d, want 1", f.disp.callCount())
	}
	events := f.sink.names()
	if events[len(events)-1] != EventInvestigationSkipped {
		t.Errorf("last event = %s, want %s", events[len(events)-1], EventInvestigationSkipped)
	}
}

func TestRun_ForceRedecides(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-4"] = velocityAlert("ALT-4")
	f := newFixture(store)

	if _, err := f.orch.Run(context.Background(), "ALT-4", "", false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := f.orch.Run(context.Background(), "ALT-4", "", true)
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if res.Skipped {
		t.Fatal("expected forced run to execute")
	}
	if f.disp.callCount() != 2 {
		t.Errorf("dispatcher calls = %d, want 2", f.disp.callCount())
	}
}

func TestRun_AlertNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(newMockStore())

	_, err := f.orch.Run(context.Background(), "ALT-missing", "", false)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestRun_TerminalStatusRejected(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	al := velocityAlert("ALT-5")
	al.Status = alert.StatusResolved
	store.alerts["ALT-5"] = al
	f := newFixture(store)

	_, err := f.orch.Run(context.Background(), "ALT-5", "", false)
	if err == nil || !strings.Contains(err.Error(), "cannot be investigated") {
		t.Fatalf("err = %v, want status rejection", err)
	}
	if f.disp.callCount() != 0 {
		t.Error("dispatcher should not run for rejected alert")
	}
}

func TestRun_InvestigatorFailureRecordsMalfunction(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-6"] = velocityAlert("ALT-6")
	f := newFixture(store)
	f.inv.err = errors.New("screening lookup timed out")
	f.inv.findings = nil

	res, err := f.orch.Run(context.Background(), "ALT-6", "", false)
	if err == nil {
		t.Fatal("expected error from failed evidence stage")
	}
	if res.FailedStage != StageEvidence {
		t.Errorf("failed stage = %s, want %s", res.FailedStage, StageEvidence)
	}
	if res.Malfunction == nil {
		t.Fatal("expected malfunction on result")
	}
	if res.Malfunction.Type != resilience.MalfunctionTimeout {
		t.Errorf("malfunction type = %s, want TIMEOUT", res.Malfunction.Type)
	}
	if store.malfunctionCount() != 1 {
		t.Errorf("recorded malfunctions = %d, want 1", store.malfunctionCount())
	}
	if f.inv.callCount() != 3 {
		t.Errorf("investigator attempts = %d, want 3", f.inv.callCount())
	}
	if got := f.orch.DLQ().Len(); got != 1 {
		t.Errorf("dead letters = %d, want 1", got)
	}

	// the alert keeps its last reached status
	got, _, _ := store.GetAlert(context.Background(), "ALT-6")
	if got.Status != alert.StatusInvestigating {
		t.Errorf("stored status = %s, want INVESTIGATING", got.Status)
	}

	events := f.sink.names()
	if events[len(events)-1] != EventSystemMalfunction {
		t.Errorf("last event = %s, want %s", events[len(events)-1], EventSystemMalfunction)
	}
}

func TestRun_TransientFailureRecovers(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-7"] = velocityAlert("ALT-7")
	f := newFixture(store)
	f.inv.failures = 2
	f.inv.err = errors.New("collector hiccup")

	res, err := f.orch.Run(context.Background(), "ALT-7", "", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FailedStage != "" {
		t.Errorf("failed stage = %s, want none", res.FailedStage)
	}
	if f.inv.callCount() != 3 {
		t.Errorf("investigator attempts = %d, want 3", f.inv.callCount())
	}
	if store.malfunctionCount() != 0 {
		t.Errorf("malfunctions = %d, want 0", store.malfunctionCount())
	}
}

func TestRun_DispatchFailureKeepsDecision(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-8"] = velocityAlert("ALT-8")
	f := newFixture(store)
	f.disp.err = errors.New("queue unavailable")

	res, err := f.orch.Run(context.Background(), "ALT-8", "", false)
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	if res.FailedStage != StageAction {
		t.Errorf("failed stage = %s, want %s", res.FailedStage, StageAction)
	}

	// the decision survives the failed dispatch
	r, ok, _ := store.GetResolution(context.Background(), "ALT-8")
	if !ok {
		t.Fatal("expected resolution despite dispatch failure")
	}
	if r.Decision.Recommendation != alert.RecommendEscalate {
		t.Errorf("persisted recommendation = %s, want ESCALATE", r.Decision.Recommendation)
	}
	if r.Action != nil {
		t.Error("expected no action on resolution after dispatch failure")
	}
	got, _, _ := store.GetAlert(context.Background(), "ALT-8")
	if got.Status != alert.StatusInvestigating {
		t.Errorf("stored status = %s, want INVESTIGATING", got.Status)
	}
}

func TestRun_StoreFailureIsCritical(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-9"] = velocityAlert("ALT-9")
	store.statusErr = errors.New("pool exhausted")
	f := newFixture(store)

	res, err := f.orch.Run(context.Background(), "ALT-9", "", false)
	if err == nil {
		t.Fatal("expected store error")
	}
	if res.Malfunction == nil {
		t.Fatal("expected malfunction")
	}
	if res.Malfunction.Type != resilience.MalfunctionDatabase {
		t.Errorf("type = %s, want DATABASE_CONNECTION", res.Malfunction.Type)
	}
	if res.Malfunction.Severity != resilience.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", res.Malfunction.Severity)
	}
}

func TestRun_ConcurrentSameAlertDecidesOnce(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-10"] = velocityAlert("ALT-10")
	f := newFixture(store)

	const runners = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		skipped int
	)
	wg.Add(runners)
	for i := 0; i < runners; i++ {
		go func() {
			defer wg.Done()
			res, err := f.orch.Run(context.Background(), "ALT-10", "", false)
			if err != nil {
				t.Errorf("Run: %v", err)
				return
			}
			if res.Skipped {
				mu.Lock()
				skipped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if skipped != runners-1 {
		t.Errorf("skipped = %d, want %d", skipped, runners-1)
	}
	if f.disp.callCount() != 1 {
		t.Errorf("dispatcher calls = %d, want exactly 1", f.disp.callCount())
	}
}

func TestRun_HooksObserveOutcome(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-11"] = velocityAlert("ALT-11")

	var (
		mu        sync.Mutex
		started   []string
		decisions []string
		outcomes  []string
	)
	hooks := Hooks{
		OnStarted: func(scenario string) {
			mu.Lock()
			started = append(started, scenario)
			mu.Unlock()
		},
		OnDecision: func(recommendation, source string, _ float64) {
			mu.Lock()
			decisions = append(decisions, recommendation+"/"+source)
			mu.Unlock()
		},
		OnComplete: func(e *CompleteEvent) {
			mu.Lock()
			outcomes = append(outcomes, e.Outcome)
			mu.Unlock()
		},
	}

	inv := &mockInvestigator{findings: alert.Evidence{"transaction_count": 6, "total_amount": 33400.0}}
	gat := &mockGatherer{customer: alert.Evidence{"kyc_risk": "HIGH"}}
	disp := &mockDispatcher{}
	engine := policy.NewEngine(store, nil, nil, log.Nop(), policy.Config{})
	orch := NewOrchestrator(store, engine, Collaborators{
		Investigator: inv,
		Context:      gat,
		Dispatcher:   disp,
	}, fastRegistry(), log.Nop(), hooks)

	if _, err := orch.Run(context.Background(), "ALT-11", "", false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(started) != 1 || started[0] != string(alert.ScenarioVelocitySpike) {
		t.Errorf("started = %v", started)
	}
	if len(decisions) != 1 || decisions[0] != "ESCALATE/RULE" {
		t.Errorf("decisions = %v", decisions)
	}
	if len(outcomes) != 1 || outcomes[0] != "complete" {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestRun_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	store := newMockStore()
	store.rules = velocityRules()
	store.alerts["ALT-SPAN"] = velocityAlert("ALT-SPAN")
	f := newFixture(store)

	res, err := f.orch.Run(context.Background(), "ALT-SPAN", alert.ScenarioVelocitySpike, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalStatus != alert.StatusEscalated {
		t.Fatalf("final status = %q, want %q", res.FinalStatus, alert.StatusEscalated)
	}

	spans := exporter.GetSpans()

	// Count spans by name.
	counts := make(map[string]int)
	for _, s := range spans {
		counts[s.Name]++
	}
	for _, name := range []string{"pipeline.run", "evidence.collect", "policy.evaluate", "action.execute"} {
		if counts[name] != 1 {
			t.Errorf("%s spans = %d, want 1", name, counts[name])
		}
	}

	for _, s := range spans {
		if s.Name != "pipeline.run" {
			continue
		}
		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range s.Attributes {
			attrs[kv.Key] = kv.Value
		}
		if got := attrs["arbiter.alert.id"].AsString(); got != "ALT-SPAN" {
			t.Errorf("arbiter.alert.id = %q, want ALT-SPAN", got)
		}
		if attrs["arbiter.run.force"].AsBool() {
			t.Error("arbiter.run.force = true, want false")
		}
	}
}
