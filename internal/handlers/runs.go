package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/tradesync/internal/firestore"
)

const maxRunsLimit = 100

// RunHistory reads recorded runs. *firestore.Client implements it.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*firestore.RunRecord, error)
	GetRun(ctx context.Context, runID string) (*firestore.RunRecord, error)
}

// RunsHandler serves the run history.
type RunsHandler struct {
	history RunHistory
	logger  *slog.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(history RunHistory, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{history: history, logger: logger}
}

// ListRuns handles GET /api/runs?limit=n
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunsLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	runs, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch runs")
		return
	}
	if runs == nil {
		runs = []*firestore.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.history.GetRun(r.Context(), id)
	if status.Code(err) == codes.NotFound {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
