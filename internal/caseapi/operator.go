package caseapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/arbiter/internal/alert"
)

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	var scenario alert.ScenarioCode
	if s := r.URL.Query().Get("scenario"); s != "" {
		sc, err := alert.ParseScenario(s)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		scenario = sc
	}

	rules, err := a.svc.Rules(r.Context(), scenario)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list rules")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (a *API) handleListMalfunctions(w http.ResponseWriter, r *http.Request) {
	var limit int
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ms, err := a.svc.Malfunctions(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list malfunctions")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"malfunctions": ms, "count": len(ms)})
}

func (a *API) handleMalfunctionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.MalfunctionStats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to aggregate malfunctions")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusOK, stats)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (a *API) handleResolveMalfunction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	ok, err := a.svc.ResolveMalfunction(r.Context(), id, req.Resolution)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to resolve malfunction", "event_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"event_id": id, "resolved": true})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	m, err := a.svc.Dashboard(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to build dashboard metrics")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusOK, m)
}

func (a *API) handleResilience(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, map[string]any{
		"breakers":     a.svc.Breakers(),
		"dead_letters": a.svc.DeadLetters(),
	})
}
