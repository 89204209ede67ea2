package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical/table-extractor/internal/observability"
	"github.com/spherical/table-extractor/internal/store"
)

// RunStore reads run history.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*store.Run, error)
	List(ctx context.Context, limit int) ([]*store.Run, error)
}

// RunsHandler serves run history. A nil store answers 404.
type RunsHandler struct {
	logger *observability.Logger
	runs   RunStore
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(logger *observability.Logger, runs RunStore) *RunsHandler {
	return &RunsHandler{logger: logger, runs: runs}
}

// List handles GET /runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run history is disabled", "")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit", "must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("List runs failed")
		writeError(w, http.StatusInternalServerError, "list runs failed", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// Get handles GET /runs/{id}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run history is disabled", "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id", err.Error())
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", id.String()).Msg("Get run failed")
		writeError(w, http.StatusInternalServerError, "get run failed", "")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
