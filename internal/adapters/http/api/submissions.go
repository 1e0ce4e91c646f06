package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/profiler/internal/domain/dedupe"
	"github.com/okian/profiler/internal/domain/model"
)

// SubmissionDependencies defines what POST /submissions needs.
type SubmissionDependencies interface {
	dedupe.Deduper
	Enqueue(ctx context.Context, e model.SubmissionCompleted) error
}

// SubmissionsHandler accepts completed assessments.
type SubmissionsHandler struct {
	deps SubmissionDependencies
}

// NewSubmissionsHandler creates a new submissions handler.
func NewSubmissionsHandler(deps SubmissionDependencies) *SubmissionsHandler {
	return &SubmissionsHandler{deps: deps}
}

// submissionRequest mirrors the OpenAPI schema for POST /submissions.
type submissionRequest struct {
	SubmissionID   string           `json:"submission_id"`
	StudentID      string           `json:"student_id"`
	AssessmentType string           `json:"assessment_type"`
	Responses      []model.Response `json:"responses"`
	CompletedAt    string           `json:"completed_at"`
	SourceToken    string           `json:"source_token"`
}

func (s *submissionRequest) event() (model.SubmissionCompleted, error) {
	switch {
	case strings.TrimSpace(s.SubmissionID) == "":
		return model.SubmissionCompleted{}, errors.New("missing submission_id")
	case strings.TrimSpace(s.StudentID) == "":
		return model.SubmissionCompleted{}, errors.New("missing student_id")
	}
	t, err := model.ParseAssessmentType(s.AssessmentType)
	if err != nil {
		return model.SubmissionCompleted{}, err
	}
	completed := time.Now().UTC()
	if s.CompletedAt != "" {
		completed, err = time.Parse(time.RFC3339, s.CompletedAt)
		if err != nil {
			return model.SubmissionCompleted{}, errors.New("invalid completed_at; must be RFC3339")
		}
	}
	for i, r := range s.Responses {
		if strings.TrimSpace(r.QuestionID) == "" {
			return model.SubmissionCompleted{}, fmt.Errorf("response %d: missing question_id", i)
		}
		if r.TimeMs < 0 {
			return model.SubmissionCompleted{}, fmt.Errorf("response %d: negative time_ms", i)
		}
	}
	return model.SubmissionCompleted{
		StudentID:      s.StudentID,
		AssessmentType: t,
		SubmissionID:   s.SubmissionID,
		Responses:      s.Responses,
		CompletedAt:    completed,
		SourceToken:    s.SourceToken,
	}, nil
}

// HandlePostSubmission handles POST /submissions requests.
func (h *SubmissionsHandler) HandlePostSubmission(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_submission"
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	e, err := req.event()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if !h.deps.Admit(r.Context(), e.SubmissionID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	if err := h.deps.Enqueue(r.Context(), e); err != nil {
		// Let a retried delivery through once the queue recovers.
		h.deps.Forget(r.Context(), e.SubmissionID)
		writeEnqueueError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
