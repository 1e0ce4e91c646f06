// Package api exposes submission intake, classification queries and the
// failure log over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/profiler/internal/adapters/mq/queue"
	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/domain/dedupe"
	"github.com/okian/profiler/internal/domain/model"
)

const defaultFailuresLimit = 50

// Dependencies is everything the handlers call into; *service.Service
// satisfies it.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue pushes an event for async processing.
	Enqueue(ctx context.Context, e model.SubmissionCompleted) error

	GetCurrent(ctx context.Context, studentID string) (model.Assignment, error)
	GetHistory(ctx context.Context, studentID string, r repository.VersionRange) ([]model.Assignment, error)

	ListFailures(ctx context.Context, limit int) ([]model.Failure, error)
	Reprocess(ctx context.Context, submissionID string) error

	StatsProvider
}

// Server owns one handler per resource.
type Server struct {
	healthHandler         *HealthHandler
	statsHandler          *StatsHandler
	submissionsHandler    *SubmissionsHandler
	classificationHandler *ClassificationHandler
	failuresHandler       *FailuresHandler
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	maxFailuresLimit int
}

// WithMaxFailuresLimit caps GET /failures?limit.
func WithMaxFailuresLimit(n int) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxFailuresLimit = n
		}
	}
}

// NewServer builds the handlers. The failure list limit defaults to 100.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := serverOptions{maxFailuresLimit: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:         NewHealthHandler(),
		statsHandler:          NewStatsHandler(deps),
		submissionsHandler:    NewSubmissionsHandler(deps),
		classificationHandler: NewClassificationHandler(deps),
		failuresHandler:       NewFailuresHandler(deps, o.maxFailuresLimit),
	}
}

// Register mounts every route on mux, each wrapped in MetricsMiddleware.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /submissions", MetricsMiddleware(s.submissionsHandler.HandlePostSubmission, "submissions"))
	mux.HandleFunc("GET /students/{id}/classification", MetricsMiddleware(s.classificationHandler.HandleGetCurrent, "classification"))
	mux.HandleFunc("GET /students/{id}/history", MetricsMiddleware(s.classificationHandler.HandleGetHistory, "history"))
	mux.HandleFunc("GET /failures", MetricsMiddleware(s.failuresHandler.HandleListFailures, "failures"))
	mux.HandleFunc("POST /failures/{id}/reprocess", MetricsMiddleware(s.failuresHandler.HandleReprocess, "reprocess"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeEnqueueError maps queue failures onto HTTP statuses.
func writeEnqueueError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", WrapKind(op, ErrBackpressure, err))
	case errors.Is(err, queue.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
