package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/engine"
	"github.com/riskledger/riskledger/internal/core/fetch"
	"github.com/riskledger/riskledger/internal/observability"
)

// TechniqueLookup resolves ATT&CK techniques. *attack.Client implements it.
type TechniqueLookup interface {
	Technique(ctx context.Context, id string) (*core.Technique, error)
}

// LimitSnapshotter reports per-endpoint admission state. *engine.Registry
// implements it.
type LimitSnapshotter interface {
	Snapshot() []engine.EndpointStatus
}

// AttackHandler serves ATT&CK lookups and the outbound limiter state.
type AttackHandler struct {
	Techniques TechniqueLookup
	Limits     LimitSnapshotter
	Stats      fetch.StatsRecorder
}

// LimitsResponse combines live windows with recorded fetch outcomes.
type LimitsResponse struct {
	Endpoints []engine.EndpointStatus `json:"endpoints"`
	Outcomes  []fetch.EndpointStats   `json:"outcomes,omitempty"`
}

// Routes mounts the handler under /attack.
func (h *AttackHandler) Routes(r chi.Router) {
	r.Get("/techniques/{id}", h.Technique)
	r.Get("/limits", h.LimitsHandler)
}

// Technique looks up one technique. Rate limiting, timeouts and rejected
// upstream responses map to 429, 504 and 502 respectively.
func (h *AttackHandler) Technique(w http.ResponseWriter, r *http.Request) {
	technique, err := h.Techniques.Technique(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: technique})
}

// LimitsHandler reports remaining admissions per endpoint.
func (h *AttackHandler) LimitsHandler(w http.ResponseWriter, r *http.Request) {
	response := LimitsResponse{Endpoints: []engine.EndpointStatus{}}
	if h.Limits != nil {
		response.Endpoints = h.Limits.Snapshot()
	}
	if h.Stats != nil {
		outcomes, err := h.Stats.Totals(r.Context())
		if err != nil {
			// Stats are advisory; the limiter view is still useful without them.
			if logger := observability.ServerLogger; logger != nil {
				logger.Warn("Failed to read fetch stats", zap.Error(err))
			}
		} else {
			response.Outcomes = outcomes
		}
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: response})
}
