package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/profiler/internal/domain/model"
)

// FailureDependencies defines the operational tooling endpoints' needs.
type FailureDependencies interface {
	ListFailures(ctx context.Context, limit int) ([]model.Failure, error)
	Reprocess(ctx context.Context, submissionID string) error
}

// FailuresHandler exposes recomputations queued for manual inspection.
type FailuresHandler struct {
	deps     FailureDependencies
	maxLimit int
}

// NewFailuresHandler creates a new failures handler.
func NewFailuresHandler(deps FailureDependencies, maxLimit int) *FailuresHandler {
	if maxLimit <= 0 {
		maxLimit = defaultFailuresLimit
	}
	return &FailuresHandler{deps: deps, maxLimit: maxLimit}
}

type failuresResponse struct {
	Failures []model.Failure `json:"failures"`
}

// HandleListFailures handles GET /failures?limit= requests.
func (h *FailuresHandler) HandleListFailures(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_failures"
	limit := min(defaultFailuresLimit, h.maxLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, fmt.Errorf("invalid limit %q", raw)))
			return
		}
		limit = min(n, h.maxLimit)
	}
	failures, err := h.deps.ListFailures(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if failures == nil {
		failures = []model.Failure{}
	}
	writeJSON(w, http.StatusOK, failuresResponse{Failures: failures})
}

// HandleReprocess handles POST /failures/{id}/reprocess requests. The id is
// the submission id of the failed recomputation.
func (h *FailuresHandler) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	const op = "api.reprocess"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	if err := h.deps.Reprocess(r.Context(), id); err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
			return
		}
		writeEnqueueError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "requeued"})
}
