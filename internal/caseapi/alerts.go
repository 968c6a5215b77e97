package caseapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/investigation"
)

func (a *API) handleSubmitAlert(w http.ResponseWriter, r *http.Request) {
	var al alert.Alert
	if err := json.NewDecoder(r.Body).Decode(&al); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	result, err := a.svc.Submit(r.Context(), &al)
	if errors.Is(err, investigation.ErrInvalidAlert) {
		a.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "alert intake failed", "alert_id", al.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusAccepted, result)
}

func (a *API) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("arbiter.alert.id", id))

	// The run resolves the scenario from the stored alert.
	result, err := a.svc.Investigate(r.Context(), id, "", force)
	switch {
	case errors.Is(err, investigation.ErrAlertNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, investigation.ErrNotInvestigable):
		a.respondError(w, http.StatusConflict, err.Error())
	case result == nil:
		a.logger.Error(r.Context(), err, "investigation failed", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	default:
		// Stage failures come back classified inside the result.
		a.respond(w, http.StatusOK, result)
	}
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("arbiter.alert.id", id))

	al, res, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get alert", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("arbiter.alert.status", string(al.Status)))

	a.respond(w, http.StatusOK, alertDetail{Alert: al, Resolution: res})
}

type alertDetail struct {
	Alert      *alert.Alert              `json:"alert"`
	Resolution *investigation.Resolution `json:"resolution,omitempty"`
}

func (a *API) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter investigation.AlertFilter
	if s := q.Get("status"); s != "" {
		st, err := alert.ParseStatus(s)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = st
	}
	if s := q.Get("scenario"); s != "" {
		sc, err := alert.ParseScenario(s)
		if err != nil {
			a.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Scenario = sc
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	alerts, err := a.svc.List(r.Context(), filter)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list alerts")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

type proofRequest struct {
	Text string `json:"text"`
}

func (a *API) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	p, err := a.svc.SubmitProof(r.Context(), id, req.Text)
	switch {
	case errors.Is(err, investigation.ErrAlertNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, investigation.ErrProofNotAccepted):
		a.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, investigation.ErrProofLength):
		a.respondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		a.logger.Error(r.Context(), err, "proof submission failed", "alert_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	default:
		a.respond(w, http.StatusOK, p)
	}
}
