package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/riskledger/riskledger/internal/core/migrate"
	apperrors "github.com/riskledger/riskledger/internal/errors"
)

// MigrationsHandler exposes read-only migration state. Runs are started from
// the CLI only.
type MigrationsHandler struct {
	Migrator   *migrate.Migrator
	Migrations []*migrate.Migration
}

// Routes mounts the handler under /migrations.
func (h *MigrationsHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{name}/verify", h.Verify)
}

// List returns every migration with its pending count.
func (h *MigrationsHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.Migrator.Statuses(r.Context(), h.Migrations)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: statuses})
}

// Verify classifies every document of the migration's collection.
func (h *MigrationsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m := h.lookup(name)
	if m == nil {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("unknown migration %q", name)))
		return
	}

	report, err := h.Migrator.Verify(r.Context(), m)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Data: report})
}

func (h *MigrationsHandler) lookup(name string) *migrate.Migration {
	for _, m := range h.Migrations {
		if m.Name == name {
			return m
		}
	}
	return nil
}
