// Package service wires the scoring pipeline together and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/profiler/internal/adapters/mq/queue"
	"github.com/okian/profiler/internal/adapters/mq/worker"
	"github.com/okian/profiler/internal/adapters/notify"
	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/domain/aggregate"
	"github.com/okian/profiler/internal/domain/classify"
	"github.com/okian/profiler/internal/domain/dedupe"
	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/internal/domain/normalize"
	"github.com/okian/profiler/pkg/logger"
	"github.com/okian/profiler/pkg/metrics"
)

// Service owns the queue, the worker pool and the store.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	deduper    dedupe.Deduper
	eventQueue queue.Queue
	pool       *worker.Pool
	outbox     *notify.Async
	normalizer *normalize.Normalizer
	classifier *classify.Classifier

	// Configuration
	table           *normalize.WeightTable
	aggregatorOpts  []aggregate.Option
	classifierOpts  []classify.Option
	notifier        worker.Notifier
	outboxSize      int
	configVersion   string
	partitions      int
	partitionBuffer int
	queueSize       int
	dedupeSize      int
	maxAttempts     int
	retryBackoff    time.Duration

	// State
	started   bool
	stopped   bool
	startedAt time.Time

	logger logger.Logger
}

// New constructs a Service. The queue accepts events immediately; they are
// processed once Start runs.
func New(opts ...Option) *Service {
	s := &Service{
		partitions:   runtime.NumCPU() * 2,
		queueSize:    10_000,
		dedupeSize:   50_000,
		maxAttempts:  3,
		retryBackoff: 5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.table == nil {
		s.table = normalize.DefaultWeightTable()
	}
	s.deduper = dedupe.New(dedupe.WithCapacity(s.dedupeSize))
	s.eventQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	return s
}

// Start builds the pipeline and starts the worker pool. Cancelling ctx does
// not stop processing; call Shutdown to drain and stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return fmt.Errorf("%w: already shut down", ErrNotStarted)
	}

	normalizer, err := normalize.New(s.table)
	if err != nil {
		return err
	}
	s.normalizer = normalizer
	s.classifier = classify.New(s.classifierOpts...)
	aggregator := aggregate.New(s.aggregatorOpts...)
	version, err := configVersion(s.table, aggregator, s.classifier)
	if err != nil {
		return err
	}
	s.configVersion = version
	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.logger.Info(ctx, "using memory store")
	}

	recomputeOpts := []worker.RecomputerOption{
		worker.WithMaxAttempts(s.maxAttempts),
		worker.WithRetryBackoff(s.retryBackoff),
		worker.WithRecomputerLogger(s.logger.Named("recompute")),
		worker.WithConfigVersion(s.configVersion),
	}
	if s.notifier != nil {
		s.outbox = notify.NewAsync(ctx, s.notifier, s.outboxSize, s.logger.Named("notify"))
		recomputeOpts = append(recomputeOpts, worker.WithNotifier(s.outbox))
	}
	recomputer := worker.NewRecomputer(s.store, normalizer, aggregator, s.classifier, recomputeOpts...)

	poolOpts := []worker.Option{worker.WithLogger(s.logger.Named("pool"))}
	if s.partitionBuffer > 0 {
		poolOpts = append(poolOpts, worker.WithPartitionBuffer(s.partitionBuffer))
	}
	s.pool = worker.NewPool(s.partitions, s.eventQueue, recomputer, poolOpts...)
	s.pool.Start(ctx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "profiler service started",
		logger.Int("partitions", s.partitions),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("weights", s.table.Version),
		logger.String("config_version", s.configVersion),
		logger.String("classifier", s.classifier.String()),
	)
	return nil
}

// Shutdown stops intake, drains queued events and closes the store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	s.logger.Info(ctx, "stopping profiler service...")

	var errs []error
	if s.pool != nil {
		errs = append(errs, s.pool.Shutdown(ctx))
	} else {
		errs = append(errs, s.eventQueue.Close())
	}
	if s.outbox != nil {
		errs = append(errs, s.outbox.Close(ctx))
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && !errors.Is(err, repository.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.started = false
	s.logger.Info(ctx, "profiler service stopped")
	return errors.Join(errs...)
}

func (s *Service) storeOrErr() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// Admit records a submission id. It reports false for a duplicate.
func (s *Service) Admit(ctx context.Context, id string) bool {
	if !s.deduper.Admit(ctx, id) {
		metrics.RecordSubmissionDuplicate()
		return false
	}
	return true
}

// Forget removes id so a retried delivery is admitted again.
func (s *Service) Forget(ctx context.Context, id string) {
	s.deduper.Forget(ctx, id)
}

// Len returns the number of remembered submission ids.
func (s *Service) Len() int {
	return s.deduper.Len()
}

// Enqueue submits an event for asynchronous recomputation.
func (s *Service) Enqueue(ctx context.Context, e model.SubmissionCompleted) error {
	if err := s.eventQueue.Enqueue(ctx, e); err != nil {
		s.logger.Warn(ctx, "enqueue rejected",
			logger.String("submission_id", e.SubmissionID),
			logger.Error(err))
		return err
	}
	metrics.RecordSubmissionReceived(string(e.AssessmentType))
	s.logger.Debug(ctx, "submission enqueued",
		logger.String("submission_id", e.SubmissionID),
		logger.String("student_id", e.StudentID),
		logger.String("type", string(e.AssessmentType)))
	return nil
}

// GetCurrent returns the student's current classification.
func (s *Service) GetCurrent(ctx context.Context, studentID string) (model.Assignment, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return model.Assignment{}, err
	}
	return store.GetCurrent(ctx, studentID)
}

// GetHistory returns the student's versions in r, oldest first.
func (s *Service) GetHistory(ctx context.Context, studentID string, r repository.VersionRange) ([]model.Assignment, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return nil, err
	}
	return store.GetHistory(ctx, studentID, r)
}

// ListFailures returns unresolved failures, newest first.
func (s *Service) ListFailures(ctx context.Context, limit int) ([]model.Failure, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return nil, err
	}
	return store.ListFailures(ctx, limit)
}

// Reprocess requeues a stored submission, typically after the weight table
// was fixed. The stored record is replayed; a new submission is not created.
func (s *Service) Reprocess(ctx context.Context, submissionID string) error {
	store, err := s.storeOrErr()
	if err != nil {
		return err
	}
	sub, err := store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.Flagged {
		if err := store.UnflagSubmission(ctx, sub.ID); err != nil {
			return err
		}
	}
	if err := s.eventQueue.Enqueue(ctx, model.EventFromSubmission(&sub)); err != nil {
		return err
	}
	s.logger.Info(ctx, "submission requeued",
		logger.String("submission_id", sub.ID),
		logger.String("student_id", sub.StudentID))
	return nil
}

// ConfigVersion returns the version stamped on assignments. It is empty
// until Start.
func (s *Service) ConfigVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configVersion
}

// Stats returns store totals.
func (s *Service) Stats(ctx context.Context) (repository.Stats, error) {
	store, err := s.storeOrErr()
	if err != nil {
		return repository.Stats{}, err
	}
	st, err := store.Stats(ctx)
	if err != nil {
		return repository.Stats{}, err
	}
	metrics.UpdateStudentsClassified(st.Students)
	metrics.UpdateOpenFailures(st.OpenFailures)
	return st, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	stats := map[string]any{
		"started":       s.started,
		"partitions":    s.partitions,
		"queueCapacity": s.eventQueue.Cap(),
		"queueLength":   s.eventQueue.Len(),
		"dedupeSize":    s.deduper.Len(),
		"weights":       s.table.Version,
	}
	if s.started {
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
		stats["configVersion"] = s.configVersion
	}
	if s.outbox != nil {
		stats["notificationsPending"] = s.outbox.Pending()
	}
	s.mu.RUnlock()

	if st, err := s.Stats(ctx); err == nil {
		stats["students"] = st.Students
		stats["submissions"] = st.Submissions
		stats["openFailures"] = st.OpenFailures
	} else if !errors.Is(err, ErrNotStarted) {
		s.logger.Warn(ctx, "stats unavailable", logger.Error(err))
	}
	return stats
}
