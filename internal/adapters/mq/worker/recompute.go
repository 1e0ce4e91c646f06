package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/domain/aggregate"
	"github.com/okian/profiler/internal/domain/classify"
	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/internal/domain/normalize"
	"github.com/okian/profiler/pkg/logger"
	"github.com/okian/profiler/pkg/metrics"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 5 * time.Millisecond
)

// Store is the part of the classification store a recomputation needs.
type Store interface {
	SaveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error)
	ListSubmissions(ctx context.Context, studentID string) ([]model.Submission, error)
	FlagSubmission(ctx context.Context, id, reason string) error
	UnflagSubmission(ctx context.Context, id string) error
	GetCurrent(ctx context.Context, studentID string) (model.Assignment, error)
	RecordAssignment(ctx context.Context, expectedVersion int, candidate model.Assignment) (model.Assignment, error)
	AssignmentForSubmission(ctx context.Context, submissionID string) (model.Assignment, error)
	RecordFailure(ctx context.Context, f model.Failure) (model.Failure, error)
	ResolveFailure(ctx context.Context, submissionID string) error
}

// Normalizer turns one submission into a per-type fragment.
type Normalizer interface {
	Normalize(ctx context.Context, sub *model.Submission) (model.Fragment, error)
	Version() string
}

// Aggregator combines the latest fragment of each type.
type Aggregator interface {
	Aggregate(latest aggregate.Latest) (model.ScoreVector, bool)
}

// Classifier labels an aggregate vector.
type Classifier interface {
	Classify(v *model.ScoreVector) classify.Result
}

// Notifier delivers ClassificationUpdated downstream.
type Notifier interface {
	Notify(ctx context.Context, u model.ClassificationUpdated) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.ClassificationUpdated) error { return nil }

// Recomputer rebuilds a student's classification for each submission event.
// It holds no lock across normalize, aggregate and classify; only the
// store's compare-and-commit is synchronized.
type Recomputer struct {
	store         Store
	normalizer    Normalizer
	aggregator    Aggregator
	classifier    Classifier
	notifier      Notifier
	logger        logger.Logger
	maxAttempts   int
	backoff       time.Duration
	configVersion string
	now           func() time.Time
}

// NewRecomputer wires the pipeline stages together.
func NewRecomputer(store Store, n Normalizer, a Aggregator, c Classifier, opts ...RecomputerOption) *Recomputer {
	r := &Recomputer{
		store:       store,
		normalizer:  n,
		aggregator:  a,
		classifier:  c,
		notifier:    nopNotifier{},
		logger:      logger.Get().Named("recompute"),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.configVersion == "" {
		r.configVersion = n.Version()
	}
	return r
}

// Process implements Processor. Once started, a recomputation is not
// cancelled by ctx.
func (r *Recomputer) Process(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: events are passed by value
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	outcome, err := r.process(ctx, &e)
	metrics.RecordRecomputation(outcome, metrics.Since(start))
	return err
}

func (r *Recomputer) process(ctx context.Context, e *Event) (string, error) {
	sub, err := r.store.SaveSubmission(ctx, e.Submission())
	switch {
	case errors.Is(err, repository.ErrDuplicateSubmission):
		_, aerr := r.store.AssignmentForSubmission(ctx, sub.ID)
		if aerr == nil {
			metrics.RecordSubmissionDuplicate()
			r.logger.Debug(ctx, "submission already applied",
				logger.String("submission_id", sub.ID))
			return metrics.OutcomeRedelivered, nil
		}
		if !errors.Is(aerr, repository.ErrNotFound) {
			return r.fail(ctx, e, model.FailureInternal, 1, aerr)
		}
	case err != nil:
		if errors.Is(err, model.ErrInvalidSubmission) {
			return metrics.OutcomeError, err
		}
		return r.fail(ctx, e, model.FailureInternal, 1, err)
	}

	if _, nerr := r.normalizer.Normalize(ctx, &sub); nerr != nil {
		if !errors.Is(nerr, normalize.ErrConfigMismatch) {
			return r.fail(ctx, e, model.FailureInternal, 1, nerr)
		}
		r.deferMismatch(ctx, &sub, nerr)
		return metrics.OutcomeConfigMismatch, nil
	}
	if sub.Flagged {
		// Redelivered after the weight table was fixed.
		if uerr := r.store.UnflagSubmission(ctx, sub.ID); uerr != nil {
			return r.fail(ctx, e, model.FailureInternal, 1, uerr)
		}
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		committed, outcome, cerr := r.attempt(ctx, &sub)
		switch {
		case cerr == nil && outcome == metrics.OutcomeNoData:
			r.logger.Debug(ctx, "no scored responses yet", logger.String("student_id", sub.StudentID))
			return outcome, nil
		case cerr == nil:
			r.committed(ctx, &committed)
			return outcome, nil
		case errors.Is(cerr, repository.ErrAlreadyApplied):
			metrics.RecordSubmissionDuplicate()
			r.logger.Debug(ctx, "submission applied by an earlier delivery",
				logger.String("submission_id", sub.ID))
			return metrics.OutcomeRedelivered, nil
		case errors.Is(cerr, repository.ErrStaleWrite):
			metrics.RecordStaleWriteRetry()
			r.logger.Debug(ctx, "stale write, retrying",
				logger.String("student_id", sub.StudentID),
				logger.Int("attempt", attempt))
			if attempt < r.maxAttempts && r.backoff > 0 {
				time.Sleep(time.Duration(attempt) * r.backoff)
			}
		default:
			return r.fail(ctx, e, model.FailureInternal, attempt, cerr)
		}
	}

	err = fmt.Errorf("%w: student %s after %d attempts", ErrRetriesExhausted, sub.StudentID, r.maxAttempts)
	r.recordFailure(ctx, e.SubmissionID, e.StudentID, model.FailureStaleWrite, r.maxAttempts, err)
	return metrics.OutcomeStaleExhausted, err
}

// attempt reads the current version, fully re-derives the aggregate and
// tries to commit it.
func (r *Recomputer) attempt(ctx context.Context, trigger *model.Submission) (model.Assignment, string, error) {
	expected := 0
	current, err := r.store.GetCurrent(ctx, trigger.StudentID)
	switch {
	case err == nil:
		expected = current.Version
	case !errors.Is(err, repository.ErrNotFound):
		return model.Assignment{}, metrics.OutcomeError, err
	}

	latest, err := r.latest(ctx, trigger.StudentID)
	if err != nil {
		return model.Assignment{}, metrics.OutcomeError, err
	}
	vector, ok := r.aggregator.Aggregate(latest)
	if !ok {
		return model.Assignment{}, metrics.OutcomeNoData, nil
	}

	res := r.classifier.Classify(&vector)
	candidate := model.Assignment{
		StudentID:           trigger.StudentID,
		Primary:             res.Primary,
		Secondary:           res.Secondary,
		Vector:              vector,
		LowConfidence:       res.LowConfidence,
		TieBreak:            res.TieBreak,
		ConfigVersion:       r.configVersion,
		TriggerSubmissionID: trigger.ID,
		ProducedAt:          r.now().UTC(),
	}
	committed, err := r.store.RecordAssignment(ctx, expected, candidate)
	if err != nil {
		return model.Assignment{}, metrics.OutcomeError, err
	}
	return committed, metrics.OutcomeCommitted, nil
}

// latest collects the newest non-empty fragment per type, walking the
// student's submissions from newest to oldest.
func (r *Recomputer) latest(ctx context.Context, studentID string) (aggregate.Latest, error) {
	subs, err := r.store.ListSubmissions(ctx, studentID)
	if err != nil {
		return nil, err
	}
	want := model.CoverageOf(model.AssessmentTypes()...)
	latest := make(aggregate.Latest, len(want.Types()))
	for i := len(subs) - 1; i >= 0 && latest.Coverage() != want; i-- {
		if latest.Coverage().Has(subs[i].Type) {
			continue
		}
		frag, err := r.normalizer.Normalize(ctx, &subs[i])
		switch {
		case err == nil:
		case errors.Is(err, normalize.ErrConfigMismatch):
			// Flagged submissions are not listed, so this reports it once.
			r.deferMismatch(ctx, &subs[i], err)
			continue
		default:
			r.logger.Warn(ctx, "skipping unscorable submission",
				logger.String("submission_id", subs[i].ID),
				logger.Error(err))
			continue
		}
		latest.Merge(frag)
	}
	return latest, nil
}

func (r *Recomputer) committed(ctx context.Context, a *model.Assignment) {
	if err := r.store.ResolveFailure(ctx, a.TriggerSubmissionID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		r.logger.Warn(ctx, "failed to resolve failure record", logger.Error(err))
	}
	secondary := ""
	if a.Secondary != nil {
		secondary = string(*a.Secondary)
	}
	metrics.RecordVersionCommitted(string(a.Primary), secondary, a.LowConfidence, a.TieBreak != "")
	r.logger.Info(ctx, "classification committed",
		logger.String("student_id", a.StudentID),
		logger.Int("version", a.Version),
		logger.String("primary", string(a.Primary)),
		logger.String("secondary", secondary),
		logger.Bool("low_confidence", a.LowConfidence))

	if err := r.notifier.Notify(ctx, model.UpdateFor(a)); err != nil {
		r.logger.Error(ctx, "classification notification failed",
			logger.String("student_id", a.StudentID),
			logger.Int("version", a.Version),
			logger.Error(err))
	}
}

// deferMismatch flags a submission the current weight table cannot score
// and records a config_mismatch failure for it. Reprocess clears both.
func (r *Recomputer) deferMismatch(ctx context.Context, sub *model.Submission, cause error) {
	metrics.RecordConfigMismatch()
	if err := r.store.FlagSubmission(ctx, sub.ID, cause.Error()); err != nil {
		r.logger.Error(ctx, "failed to flag submission", logger.String("submission_id", sub.ID), logger.Error(err))
	}
	r.recordFailure(ctx, sub.ID, sub.StudentID, model.FailureConfigMismatch, 1, cause)
	r.logger.Warn(ctx, "submission deferred on config mismatch",
		logger.String("submission_id", sub.ID),
		logger.String("student_id", sub.StudentID),
		logger.Error(cause))
}

func (r *Recomputer) fail(ctx context.Context, e *Event, kind model.FailureKind, attempts int, err error) (string, error) {
	r.recordFailure(ctx, e.SubmissionID, e.StudentID, kind, attempts, err)
	return metrics.OutcomeError, err
}

func (r *Recomputer) recordFailure(ctx context.Context, submissionID, studentID string, kind model.FailureKind, attempts int, cause error) {
	f := model.Failure{
		SubmissionID: submissionID,
		StudentID:    studentID,
		Kind:         kind,
		Message:      cause.Error(),
		Attempts:     attempts,
		OccurredAt:   r.now().UTC(),
	}
	if _, err := r.store.RecordFailure(ctx, f); err != nil {
		metrics.RecordErrorByComponent("recompute", "record_failure")
		r.logger.Error(ctx, "failed to record failure",
			logger.String("submission_id", submissionID),
			logger.Error(err))
	}
}
