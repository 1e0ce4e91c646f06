package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/domain/model"
)

// ClassificationReader defines the read paths for dashboards and reporting.
type ClassificationReader interface {
	GetCurrent(ctx context.Context, studentID string) (model.Assignment, error)
	GetHistory(ctx context.Context, studentID string, r repository.VersionRange) ([]model.Assignment, error)
}

// ClassificationHandler serves current and historical assignments.
type ClassificationHandler struct {
	deps ClassificationReader
}

// NewClassificationHandler creates a new classification handler.
func NewClassificationHandler(deps ClassificationReader) *ClassificationHandler {
	return &ClassificationHandler{deps: deps}
}

type historyResponse struct {
	StudentID string             `json:"student_id"`
	Versions  []model.Assignment `json:"versions"`
}

// HandleGetCurrent handles GET /students/{id}/classification requests.
func (h *ClassificationHandler) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_classification"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	a, err := h.deps.GetCurrent(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleGetHistory handles GET /students/{id}/history?from=&to= requests.
func (h *ClassificationHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	vr, err := parseVersionRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	versions, err := h.deps.GetHistory(r.Context(), id, vr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if versions == nil {
		versions = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, historyResponse{StudentID: id, Versions: versions})
}

func parseVersionRange(r *http.Request) (repository.VersionRange, error) {
	var vr repository.VersionRange
	q := r.URL.Query()
	for name, dst := range map[string]*int{"from": &vr.From, "to": &vr.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return vr, fmt.Errorf("%s must be a positive integer", name)
		}
		*dst = v
	}
	if vr.From > 0 && vr.To > 0 && vr.From > vr.To {
		return vr, fmt.Errorf("from %d is after to %d", vr.From, vr.To)
	}
	return vr, nil
}
