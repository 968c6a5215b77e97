package investigation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

var tracer = otel.Tracer("github.com/linnemanlabs/arbiter/internal/investigation")

// Hooks carries observability callbacks fired during pipeline runs.
// Nil funcs are skipped; the zero value is safe.
type Hooks struct {
	OnStarted     func(scenario string)
	OnDecision    func(recommendation, source string, confidence float64)
	OnStageFailed func(stage string)
	OnMalfunction func(mtype, severity string)
	OnComplete    func(e *CompleteEvent)
}

// CompleteEvent summarizes a finished run for the hooks.
type CompleteEvent struct {
	Scenario string
	Outcome  string // complete, skipped, or failed
	Duration float64
}

func (h Hooks) started(scenario string) {
	if h.OnStarted != nil {
		h.OnStarted(scenario)
	}
}

func (h Hooks) decision(recommendation, source string, confidence float64) {
	if h.OnDecision != nil {
		h.OnDecision(recommendation, source, confidence)
	}
}

func (h Hooks) stageFailed(stage string) {
	if h.OnStageFailed != nil {
		h.OnStageFailed(stage)
	}
}

func (h Hooks) malfunction(mtype, severity string) {
	if h.OnMalfunction != nil {
		h.OnMalfunction(mtype, severity)
	}
}

func (h Hooks) complete(e *CompleteEvent) {
	if h.OnComplete != nil {
		h.OnComplete(e)
	}
}

// Orchestrator drives one alert at a time through the investigation
// pipeline. Runs for the same alert are serialized; runs for distinct
// alerts proceed concurrently.
type Orchestrator struct {
	store  Store
	engine *policy.Engine
	collab Collaborators
	res    *resilience.Registry
	dlq    *resilience.DLQ
	log    log.Logger
	hooks  Hooks

	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator wires the pipeline. Panics on nil required
// collaborators so misconfiguration surfaces at startup.
func NewOrchestrator(store Store, engine *policy.Engine, collab Collaborators, res *resilience.Registry, logger log.Logger, hooks Hooks) *Orchestrator {
	if store == nil {
		panic(xerrors.New("investigation: nil store"))
	}
	if engine == nil {
		panic(xerrors.New("investigation: nil policy engine"))
	}
	if collab.Investigator == nil || collab.Context == nil || collab.Dispatcher == nil {
		panic(xerrors.New("investigation: incomplete collaborators"))
	}
	if res == nil {
		res = resilience.NewRegistry(resilience.Config{})
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		store:  store,
		engine: engine,
		collab: collab,
		res:    res,
		dlq:    resilience.NewDLQ(0),
		log:    logger.With("component", "orchestrator"),
		hooks:  hooks,
		locks:  make(map[string]*sync.Mutex),
	}
}

// DLQ exposes the dead letter queue for operator inspection.
func (o *Orchestrator) DLQ() *resilience.DLQ { return o.dlq }

// Breakers snapshots the resilience registry's breaker states.
func (o *Orchestrator) Breakers() []resilience.BreakerStatus { return o.res.Snapshot() }

// lockAlert serializes pipeline runs per alert ID and returns the
// unlock func. The per-ID mutex also covers the idempotency check, so
// two concurrent runs cannot both decide the same alert.
func (o *Orchestrator) lockAlert(id string) func() {
	o.lmu.Lock()
	mu, ok := o.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[id] = mu
	}
	o.lmu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// Run executes the full pipeline for one alert. An empty scenario falls
// back to the stored alert's scenario. With force set, an existing
// decision is re-derived and overwritten instead of short-circuiting.
//
// Stage failures are classified, recorded as malfunctions, dead
// lettered, and returned alongside a partial result; the alert keeps
// its last reached status.
func (o *Orchestrator) Run(ctx context.Context, alertID string, scenario alert.ScenarioCode, force bool) (*PipelineResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("arbiter.alert.id", alertID),
		attribute.Bool("arbiter.run.force", force),
	))
	defer span.End()

	unlock := o.lockAlert(alertID)
	defer unlock()

	var (
		al    *alert.Alert
		found bool
	)
	err := o.withStore(ctx, func(c context.Context) error {
		var err error
		al, found, err = o.store.GetAlert(c, alertID)
		return err
	})
	if err != nil {
		stub := &alert.Alert{ID: alertID, Scenario: scenario}
		return o.fail(ctx, span, stub, StageIdempotency, ComponentStore, err, start)
	}
	if !found {
		err := fmt.Errorf("alert %s: %w", alertID, ErrAlertNotFound)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if scenario == "" {
		scenario = al.Scenario
	}
	span.SetAttributes(attribute.String("arbiter.alert.scenario", string(scenario)))

	L := o.log.With("alert_id", alertID, "scenario", string(scenario))

	// Idempotency: a recorded decision short-circuits the pipeline.
	var (
		prior   *Resolution
		decided bool
	)
	if err := o.withStore(ctx, func(c context.Context) error {
		var err error
		prior, decided, err = o.store.GetResolution(c, alertID)
		return err
	}); err != nil {
		return o.fail(ctx, span, al, StageIdempotency, ComponentStore, err, start)
	}
	if decided && !force {
		L.Info(ctx, "investigation skipped, decision already recorded",
			"recommendation", string(prior.Decision.Recommendation))
		o.emit(ctx, EventInvestigationSkipped, map[string]any{
			"alert_id": alertID,
			"status":   string(al.Status),
		})
		res := &PipelineResult{
			AlertID:     alertID,
			Scenario:    scenario,
			Skipped:     true,
			Reason:      "decision already recorded",
			Decision:    &prior.Decision,
			Action:      prior.Action,
			FinalStatus: al.Status,
			Duration:    time.Since(start).Seconds(),
		}
		o.finish(span, res, "skipped")
		return res, nil
	}

	if !force && al.Status != alert.StatusOpen && al.Status != alert.StatusInvestigating {
		err := fmt.Errorf("alert %s in status %s cannot be investigated: %w", alertID, al.Status, ErrNotInvestigable)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := o.setStatus(ctx, al, alert.StatusInvestigating); err != nil {
		return o.fail(ctx, span, al, StageIdempotency, ComponentStore, err, start)
	}

	o.hooks.started(string(scenario))
	o.emit(ctx, EventInvestigationStarted, map[string]any{
		"alert_id": alertID,
		"scenario": string(scenario),
		"force":    force,
	})
	L.Info(ctx, "investigation started", "force", force)

	findings, customer, component, err := o.collect(ctx, al, scenario)
	if err != nil {
		return o.fail(ctx, span, al, StageEvidence, component, err, start)
	}

	d, err := o.evaluate(ctx, scenario, findings, customer)
	if err != nil {
		return o.fail(ctx, span, al, StagePolicy, ComponentStore, err, start)
	}
	span.SetAttributes(
		attribute.String("arbiter.decision.recommendation", string(d.Recommendation)),
		attribute.Float64("arbiter.decision.confidence", d.Confidence),
		attribute.String("arbiter.decision.source", string(d.Source)),
	)

	// The decision is durable before any action fires, so a dispatch
	// failure never loses the verdict.
	now := time.Now().UTC()
	resolution := &Resolution{
		AlertID:   alertID,
		Decision:  *d,
		Findings:  findings,
		Customer:  customer,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.withStore(ctx, func(c context.Context) error {
		return o.store.PutResolution(c, resolution)
	}); err != nil {
		return o.fail(ctx, span, al, StagePolicy, ComponentStore, err, start)
	}
	o.hooks.decision(string(d.Recommendation), string(d.Source), d.Confidence)
	o.emit(ctx, EventDecisionMade, map[string]any{
		"alert_id":       alertID,
		"recommendation": string(d.Recommendation),
		"confidence":     d.Confidence,
		"rule_id":        d.RuleID,
		"rationale":      d.Rationale,
	})
	L.Info(ctx, "decision made",
		"recommendation", string(d.Recommendation),
		"confidence", d.Confidence,
		"rule_id", d.RuleID,
		"source", string(d.Source))

	ar, err := o.dispatch(ctx, alertID, *d)
	if err != nil {
		return o.fail(ctx, span, al, StageAction, ComponentDispatcher, err, start)
	}

	final := d.Recommendation.FinalStatus()
	resolution.Action = ar
	resolution.UpdatedAt = time.Now().UTC()
	if err := o.withStore(ctx, func(c context.Context) error {
		return o.store.PutResolution(c, resolution)
	}); err != nil {
		return o.fail(ctx, span, al, StageCompletion, ComponentStore, err, start)
	}
	if err := o.setStatus(ctx, al, final); err != nil {
		return o.fail(ctx, span, al, StageCompletion, ComponentStore, err, start)
	}

	res := &PipelineResult{
		AlertID:     alertID,
		Scenario:    scenario,
		Decision:    d,
		Action:      ar,
		FinalStatus: final,
		Duration:    time.Since(start).Seconds(),
	}
	o.emit(ctx, EventInvestigationComplete, map[string]any{
		"alert_id":       alertID,
		"final_status":   string(final),
		"recommendation": string(d.Recommendation),
		"action_status":  ar.Status,
	})
	L.Info(ctx, "investigation complete",
		"final_status", string(final),
		"action_status", ar.Status,
		"duration_seconds", res.Duration)
	o.finish(span, res, "complete")
	return res, nil
}

// collect gathers findings and customer context concurrently. Each
// collector runs under its own breaker; both finish before the result
// is inspected, and the investigator's failure is reported first.
func (o *Orchestrator) collect(ctx context.Context, al *alert.Alert, scenario alert.ScenarioCode) (findings, customer alert.Evidence, component string, err error) {
	ctx, span := tracer.Start(ctx, "evidence.collect")
	defer span.End()

	var (
		wg   sync.WaitGroup
		fErr error
		cErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		fErr = o.res.Execute(ctx, ComponentInvestigator, func(c context.Context) error {
			var err error
			findings, err = o.collab.Investigator.GatherFindings(c, al.ID, scenario)
			return err
		})
	}()
	go func() {
		defer wg.Done()
		cErr = o.res.Execute(ctx, ComponentContext, func(c context.Context) error {
			var err error
			customer, err = o.collab.Context.GatherContext(c, al.ID)
			return err
		})
	}()
	wg.Wait()

	if fErr != nil {
		span.SetStatus(codes.Error, fErr.Error())
		return nil, nil, ComponentInvestigator, fErr
	}
	if cErr != nil {
		span.SetStatus(codes.Error, cErr.Error())
		return nil, nil, ComponentContext, cErr
	}
	span.SetAttributes(
		attribute.Int("arbiter.evidence.findings", len(findings)),
		attribute.Int("arbiter.evidence.customer", len(customer)),
	)
	return findings, customer, "", nil
}

// evaluate runs the policy engine under the store breaker: the only
// retriable failure inside Evaluate is the rule listing, which is
// store I/O. The advisor path carries its own breaker.
func (o *Orchestrator) evaluate(ctx context.Context, scenario alert.ScenarioCode, findings, customer alert.Evidence) (*alert.Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate")
	defer span.End()

	var d *alert.Decision
	err := o.res.Execute(ctx, ComponentStore, func(c context.Context) error {
		var err error
		d, err = o.engine.Evaluate(c, scenario, findings, customer)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return d, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, alertID string, d alert.Decision) (*alert.ActionResult, error) {
	ctx, span := tracer.Start(ctx, "action.execute", trace.WithAttributes(
		attribute.String("arbiter.action.type", string(d.Recommendation)),
	))
	defer span.End()

	var ar *alert.ActionResult
	err := o.res.Execute(ctx, ComponentDispatcher, func(c context.Context) error {
		var err error
		ar, err = o.collab.Dispatcher.Execute(c, alertID, d)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if ar == nil {
		ar = &alert.ActionResult{ActionType: string(d.Recommendation), Status: "UNKNOWN", Timestamp: time.Now().UTC()}
	}
	span.SetAttributes(attribute.String("arbiter.action.status", ar.Status))
	return ar, nil
}

// setStatus writes the transition and mirrors it on the in-memory
// alert so failure reporting sees the last reached status.
func (o *Orchestrator) setStatus(ctx context.Context, al *alert.Alert, status alert.Status) error {
	err := o.withStore(ctx, func(c context.Context) error {
		return o.store.SetAlertStatus(c, al.ID, status)
	})
	if err != nil {
		return err
	}
	al.Status = status
	return nil
}

func (o *Orchestrator) withStore(ctx context.Context, fn func(context.Context) error) error {
	return o.res.Execute(ctx, ComponentStore, fn)
}

func (o *Orchestrator) emit(ctx context.Context, event string, data map[string]any) {
	if o.collab.Events == nil {
		return
	}
	o.collab.Events.Emit(ctx, event, data)
}

func (o *Orchestrator) finish(span trace.Span, res *PipelineResult, outcome string) {
	span.SetAttributes(attribute.String("arbiter.run.outcome", outcome))
	o.hooks.complete(&CompleteEvent{
		Scenario: string(res.Scenario),
		Outcome:  outcome,
		Duration: res.Duration,
	})
}

// fail classifies a stage failure, records the malfunction, dead
// letters the alert, and returns the partial result with the error.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, al *alert.Alert, stage Stage, component string, err error, start time.Time) (*PipelineResult, error) {
	m := resilience.Classify(component, al.ID, err)
	if rerr := o.store.RecordMalfunction(ctx, m); rerr != nil {
		o.log.Error(ctx, rerr, "recording malfunction failed", "component", component)
	}
	o.dlq.Append(resilience.DeadLetter{
		Component: component,
		AlertID:   al.ID,
		Stage:     string(stage),
		Error:     err.Error(),
	})
	o.hooks.stageFailed(string(stage))
	o.hooks.malfunction(string(m.Type), string(m.Severity))

	if m.Severity == resilience.SeverityCritical {
		o.log.Error(ctx, err, "critical malfunction, operator attention required",
			"alert_id", al.ID,
			"component", component,
			"malfunction_type", string(m.Type),
			"remediation", strings.Join(m.Remediation, "; "))
	} else {
		o.log.Error(ctx, err, "pipeline stage failed",
			"alert_id", al.ID,
			"stage", string(stage),
			"component", component,
			"malfunction_type", string(m.Type))
	}
	o.emit(ctx, EventSystemMalfunction, map[string]any{
		"alert_id":         al.ID,
		"component":        component,
		"malfunction_type": string(m.Type),
		"severity":         string(m.Severity),
	})

	span.RecordError(err)
	span.SetStatus(codes.Error, string(stage))
	res := &PipelineResult{
		AlertID:     al.ID,
		Scenario:    al.Scenario,
		FinalStatus: al.Status,
		FailedStage: stage,
		Malfunction: m,
		Duration:    time.Since(start).Seconds(),
	}
	o.finish(span, res, "failed")
	return res, err
}
