package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/pkg/metrics"
)

const (
	defaultShardCount            = 16
	defaultMetricsUpdateInterval = 5 * time.Second
)

// studentState is the classification state of one student.
type studentState struct {
	// history holds every committed version; history[i].Version == i+1.
	history []model.Assignment
}

type shard struct {
	mu       sync.RWMutex
	students map[string]*studentState
}

// MemoryStore is an in-memory Store. Classification state is sharded by
// student; submissions and failures have their own locks. All reads return
// deep copies.
type MemoryStore struct {
	shardCount            int
	metricsUpdateInterval time.Duration
	now                   func() time.Time

	shards []*shard

	subMu      sync.RWMutex
	subs       map[string]*model.Submission
	byStudent  map[string][]string
	triggers   map[string]int // submission id -> version it triggered
	seq        int64
	failMu     sync.RWMutex
	failures   map[string]*model.Failure
	classified atomic.Int64

	closed   atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore and starts its metrics updater.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		shardCount:            defaultShardCount,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		now:                   time.Now,
		subs:                  make(map[string]*model.Submission),
		byStudent:             make(map[string][]string),
		triggers:              make(map[string]int),
		failures:              make(map[string]*model.Failure),
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		s.shards[i] = &shard{students: make(map[string]*studentState)}
	}

	metrics.UpdateRepositoryShardCount(s.shardCount)
	s.startMetricsUpdater(ctx)
	return s
}

func (s *MemoryStore) shardFor(studentID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(studentID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				st, err := s.Stats(ctx)
				if err != nil {
					continue
				}
				metrics.UpdateStudentsClassified(st.Students)
				metrics.UpdateOpenFailures(st.OpenFailures)
			}
		}
	}()
}

// Close stops the metrics updater. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopChan)
	}
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

// SaveSubmission implements Store.
func (s *MemoryStore) SaveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	start := time.Now()
	out, err := s.saveSubmission(ctx, sub)
	metrics.RecordRepositoryOperation("save_submission", metrics.Since(start), ignoreDuplicate(err))
	return out, err
}

func (s *MemoryStore) saveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	if err := s.check(ctx); err != nil {
		return model.Submission{}, err
	}
	if err := sub.Validate(); err != nil {
		return model.Submission{}, err
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if existing, ok := s.subs[sub.ID]; ok {
		return cloneSubmission(existing), ErrDuplicateSubmission
	}
	s.seq++
	stored := cloneSubmission(&sub)
	stored.Sequence = s.seq
	if stored.ReceivedAt.IsZero() {
		stored.ReceivedAt = s.now().UTC()
	}
	stored.Flagged = false
	stored.FlagReason = ""
	s.subs[stored.ID] = &stored
	s.byStudent[stored.StudentID] = append(s.byStudent[stored.StudentID], stored.ID)
	return cloneSubmission(&stored), nil
}

// GetSubmission implements Store.
func (s *MemoryStore) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	if err := s.check(ctx); err != nil {
		return model.Submission{}, err
	}
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	return cloneSubmission(sub), nil
}

// ListSubmissions implements Store.
func (s *MemoryStore) ListSubmissions(ctx context.Context, studentID string) ([]model.Submission, error) {
	start := time.Now()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	ids := s.byStudent[studentID]
	out := make([]model.Submission, 0, len(ids))
	for _, id := range ids {
		sub := s.subs[id]
		if sub.Flagged {
			continue
		}
		out = append(out, cloneSubmission(sub))
	}
	metrics.RecordRepositoryOperation("list_submissions", metrics.Since(start), nil)
	return out, nil
}

// FlagSubmission implements Store.
func (s *MemoryStore) FlagSubmission(ctx context.Context, id, reason string) error {
	return s.setFlag(ctx, id, true, reason)
}

// UnflagSubmission implements Store.
func (s *MemoryStore) UnflagSubmission(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, false, "")
}

func (s *MemoryStore) setFlag(ctx context.Context, id string, flagged bool, reason string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Flagged = flagged
	sub.FlagReason = reason
	return nil
}

// RecordAssignment implements Store.
func (s *MemoryStore) RecordAssignment(ctx context.Context, expectedVersion int, candidate model.Assignment) (model.Assignment, error) {
	start := time.Now()
	out, err := s.recordAssignment(ctx, expectedVersion, candidate)
	metrics.RecordRepositoryOperation("record_assignment", metrics.Since(start), ignoreStale(err))
	return out, err
}

func (s *MemoryStore) recordAssignment(ctx context.Context, expectedVersion int, candidate model.Assignment) (model.Assignment, error) {
	if err := s.check(ctx); err != nil {
		return model.Assignment{}, err
	}
	a := candidate.Clone()
	a.Version = expectedVersion + 1
	if a.ProducedAt.IsZero() {
		a.ProducedAt = s.now().UTC()
	}
	if err := a.Validate(); err != nil {
		return model.Assignment{}, err
	}

	// Lock order: submissions before shard.
	s.subMu.Lock()
	defer s.subMu.Unlock()
	trigger, ok := s.subs[a.TriggerSubmissionID]
	if !ok || trigger.StudentID != a.StudentID {
		return model.Assignment{}, fmt.Errorf("%w: trigger submission %s for student %s", ErrNotFound, a.TriggerSubmissionID, a.StudentID)
	}

	sh := s.shardFor(a.StudentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.students[a.StudentID]
	current := 0
	if st != nil {
		current = len(st.history)
	}
	if v, dup := s.triggers[a.TriggerSubmissionID]; dup {
		return model.Assignment{}, fmt.Errorf("%w: submission %s produced version %d", ErrAlreadyApplied, a.TriggerSubmissionID, v)
	}
	if current != expectedVersion {
		return model.Assignment{}, fmt.Errorf("%w: student %s at version %d, expected %d", ErrStaleWrite, a.StudentID, current, expectedVersion)
	}
	if st == nil {
		st = &studentState{}
		sh.students[a.StudentID] = st
		s.classified.Add(1)
	}
	st.history = append(st.history, a)
	s.triggers[a.TriggerSubmissionID] = a.Version
	return a.Clone(), nil
}

// GetCurrent implements Store.
func (s *MemoryStore) GetCurrent(ctx context.Context, studentID string) (model.Assignment, error) {
	start := time.Now()
	if err := s.check(ctx); err != nil {
		return model.Assignment{}, err
	}
	sh := s.shardFor(studentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	metrics.RecordRepositoryOperation("get_current", metrics.Since(start), nil)

	st := sh.students[studentID]
	if st == nil || len(st.history) == 0 {
		return model.Assignment{}, ErrNotFound
	}
	return st.history[len(st.history)-1].Clone(), nil
}

// GetHistory implements Store.
func (s *MemoryStore) GetHistory(ctx context.Context, studentID string, r VersionRange) ([]model.Assignment, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	sh := s.shardFor(studentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	st := sh.students[studentID]
	if st == nil {
		return []model.Assignment{}, nil
	}
	out := make([]model.Assignment, 0, len(st.history))
	for i := range st.history {
		if r.Contains(st.history[i].Version) {
			out = append(out, st.history[i].Clone())
		}
	}
	return out, nil
}

// AssignmentForSubmission implements Store.
func (s *MemoryStore) AssignmentForSubmission(ctx context.Context, submissionID string) (model.Assignment, error) {
	if err := s.check(ctx); err != nil {
		return model.Assignment{}, err
	}
	s.subMu.RLock()
	version, ok := s.triggers[submissionID]
	var studentID string
	if sub := s.subs[submissionID]; sub != nil {
		studentID = sub.StudentID
	}
	s.subMu.RUnlock()
	if !ok {
		return model.Assignment{}, ErrNotFound
	}

	sh := s.shardFor(studentID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	st := sh.students[studentID]
	if st == nil || version > len(st.history) {
		return model.Assignment{}, ErrNotFound
	}
	return st.history[version-1].Clone(), nil
}

// RecordFailure implements Store.
func (s *MemoryStore) RecordFailure(ctx context.Context, f model.Failure) (model.Failure, error) {
	if err := s.check(ctx); err != nil {
		return model.Failure{}, err
	}
	if f.SubmissionID == "" {
		return model.Failure{}, fmt.Errorf("%w: failure without submission id", model.ErrInvalidSubmission)
	}
	if f.OccurredAt.IsZero() {
		f.OccurredAt = s.now().UTC()
	}
	f.Resolved = false

	s.failMu.Lock()
	defer s.failMu.Unlock()
	if prev, ok := s.failures[f.SubmissionID]; ok {
		f.ID = prev.ID
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	stored := f
	s.failures[f.SubmissionID] = &stored
	return stored, nil
}

// ListFailures implements Store.
func (s *MemoryStore) ListFailures(ctx context.Context, limit int) ([]model.Failure, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.failMu.RLock()
	out := make([]model.Failure, 0, len(s.failures))
	for _, f := range s.failures {
		if !f.Resolved {
			out = append(out, *f)
		}
	}
	s.failMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].SubmissionID < out[j].SubmissionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResolveFailure implements Store.
func (s *MemoryStore) ResolveFailure(ctx context.Context, submissionID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.failMu.Lock()
	defer s.failMu.Unlock()
	f, ok := s.failures[submissionID]
	if !ok || f.Resolved {
		return ErrNotFound
	}
	f.Resolved = true
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.check(ctx); err != nil {
		return Stats{}, err
	}
	st := Stats{Students: int(s.classified.Load())}
	s.subMu.RLock()
	st.Submissions = len(s.subs)
	s.subMu.RUnlock()
	s.failMu.RLock()
	for _, f := range s.failures {
		if !f.Resolved {
			st.OpenFailures++
		}
	}
	s.failMu.RUnlock()
	return st, nil
}

func cloneSubmission(sub *model.Submission) model.Submission {
	out := *sub
	out.Responses = make([]model.Response, len(sub.Responses))
	for i, r := range sub.Responses {
		c := r
		if r.Value != nil {
			c.Value = model.Float64(*r.Value)
		}
		if r.Correct != nil {
			c.Correct = model.Bool(*r.Correct)
		}
		out.Responses[i] = c
	}
	return out
}
