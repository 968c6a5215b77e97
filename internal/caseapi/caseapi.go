// Package caseapi exposes the investigation pipeline over HTTP: alert
// intake, pipeline runs, proof submission, and the operator surface
// (rules, malfunctions, dashboard, live events).
package caseapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/authmw"
	"github.com/linnemanlabs/arbiter/internal/events"
	"github.com/linnemanlabs/arbiter/internal/investigation"
	"github.com/linnemanlabs/arbiter/internal/policy"
	"github.com/linnemanlabs/arbiter/internal/resilience"
)

// CaseService defines the business operations caseapi needs.
type CaseService interface {
	Submit(ctx context.Context, al *alert.Alert) (*investigation.SubmitResult, error)
	Investigate(ctx context.Context, alertID string, scenario alert.ScenarioCode, force bool) (*investigation.PipelineResult, error)
	Get(ctx context.Context, alertID string) (*alert.Alert, *investigation.Resolution, bool, error)
	List(ctx context.Context, filter investigation.AlertFilter) ([]*alert.Alert, error)
	SubmitProof(ctx context.Context, alertID, text string) (*investigation.Proof, error)
	Rules(ctx context.Context, scenario alert.ScenarioCode) ([]policy.Rule, error)
	Malfunctions(ctx context.Context, limit int) ([]*resilience.Malfunction, error)
	MalfunctionStats(ctx context.Context) (*investigation.MalfunctionStats, error)
	ResolveMalfunction(ctx context.Context, id, resolution string) (bool, error)
	Dashboard(ctx context.Context) (*investigation.DashboardMetrics, error)
	Breakers() []resilience.BreakerStatus
	DeadLetters() []resilience.DeadLetter
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    CaseService
	hub    *events.Hub
	token  string
}

// New creates the API handler set. hub may be nil to disable the event
// feed; an empty token disables authentication.
func New(logger log.Logger, svc CaseService, hub *events.Hub, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("investigation service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		hub:    hub,
		token:  token,
	}
}

// RegisterRoutes attaches API endpoints to the router. Reads stay open;
// intake, pipeline runs, proof, and the malfunction surface sit behind
// the bearer token when one is configured.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/alerts", a.handleListAlerts)
		r.Get("/alerts/{id}", a.handleGetAlert)
		r.Get("/rules", a.handleListRules)
		r.Get("/dashboard/metrics", a.handleDashboard)

		r.Group(func(r chi.Router) {
			if a.token != "" {
				r.Use(authmw.BearerToken(a.token))
			}
			r.Post("/alerts", a.handleSubmitAlert)
			r.Post("/alerts/{id}/investigate", a.handleInvestigate)
			r.Post("/alerts/{id}/proof", a.handleSubmitProof)
			r.Get("/malfunctions", a.handleListMalfunctions)
			r.Get("/malfunctions/stats", a.handleMalfunctionStats)
			r.Post("/malfunctions/{id}/resolve", a.handleResolveMalfunction)
			r.Get("/resilience", a.handleResilience)
		})
	})
	if a.hub != nil {
		r.Get("/ws/events", a.hub.ServeHTTP)
	}
}

func (a *API) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) respondError(w http.ResponseWriter, code int, msg string) {
	a.respond(w, code, map[string]string{"error": msg})
}
