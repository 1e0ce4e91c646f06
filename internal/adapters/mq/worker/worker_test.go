package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/profiler/internal/adapters/mq/queue"
	"github.com/okian/profiler/internal/adapters/mq/worker"
	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/domain/aggregate"
	"github.com/okian/profiler/internal/domain/classify"
	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/internal/domain/normalize"
	logging "github.com/okian/profiler/pkg/logger"
)

func testTable() *normalize.WeightTable {
	return &normalize.WeightTable{
		Version: "worker-test-1",
		Questions: map[string]normalize.QuestionWeight{
			"c-visual": {Type: model.Cognitive, ExpectedTimeMs: 1000, Weights: []normalize.CategoryWeight{
				{Category: model.VisualLearner, Weight: 1},
			}},
			"c-logic": {Type: model.Cognitive, ExpectedTimeMs: 1000, Weights: []normalize.CategoryWeight{
				{Category: model.LogicalLearner, Weight: 1},
			}},
			"a-logic": {Type: model.Academic, Weights: []normalize.CategoryWeight{
				{Category: model.LogicalLearner, Weight: 1},
			}},
		},
	}
}

func cognitive(student, id string, visual, logic float64) queue.Event {
	return queue.Event{
		StudentID:      student,
		AssessmentType: model.Cognitive,
		SubmissionID:   id,
		CompletedAt:    time.Now(),
		Responses: []model.Response{
			{QuestionID: "c-visual", Value: model.Float64(visual), TimeMs: 1000},
			{QuestionID: "c-logic", Value: model.Float64(logic), TimeMs: 1000},
		},
	}
}

func academic(student, id string, correct bool) queue.Event {
	return queue.Event{
		StudentID:      student,
		AssessmentType: model.Academic,
		SubmissionID:   id,
		CompletedAt:    time.Now(),
		Responses:      []model.Response{{QuestionID: "a-logic", Correct: model.Bool(correct)}},
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []model.ClassificationUpdated
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, u model.ClassificationUpdated) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.updates)
}

// staleStore loses every compare-and-commit race.
type staleStore struct {
	*repository.MemoryStore
	attempts int
	mu       sync.Mutex
}

func (s *staleStore) RecordAssignment(context.Context, int, model.Assignment) (model.Assignment, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return model.Assignment{}, repository.ErrStaleWrite
}

// appliedStore reports every trigger as already committed.
type appliedStore struct {
	*repository.MemoryStore
	attempts atomic.Int64
}

func (s *appliedStore) RecordAssignment(context.Context, int, model.Assignment) (model.Assignment, error) {
	s.attempts.Add(1)
	return model.Assignment{}, repository.ErrAlreadyApplied
}

func newRecomputer(store worker.Store, opts ...worker.RecomputerOption) *worker.Recomputer {
	n, err := normalize.New(testTable())
	convey.So(err, convey.ShouldBeNil)
	opts = append([]worker.RecomputerOption{
		worker.WithRecomputerLogger(logging.Nop()),
		worker.WithRetryBackoff(0),
	}, opts...)
	return worker.NewRecomputer(store, n, aggregate.New(), classify.New(), opts...)
}

func TestRecomputer(t *testing.T) {
	convey.Convey("Given a recomputer over a memory store", t, func() {
		_ = logging.Init()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := repository.NewMemoryStore(ctx)
		defer store.Close()
		notifier := &recordingNotifier{}
		r := newRecomputer(store, worker.WithNotifier(notifier))

		convey.Convey("When a first cognitive submission arrives", func() {
			convey.So(r.Process(ctx, cognitive("s1", "sub-1", 0.9, 0.2)), convey.ShouldBeNil)

			convey.Convey("Then version 1 holds the undiluted cognitive fragment", func() {
				cur, err := store.GetCurrent(ctx, "s1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(cur.Version, convey.ShouldEqual, 1)
				convey.So(cur.Primary, convey.ShouldEqual, model.VisualLearner)
				convey.So(cur.Secondary, convey.ShouldBeNil)
				convey.So(cur.Vector.Score(model.VisualLearner), convey.ShouldAlmostEqual, 0.9)
				convey.So(cur.Vector.Coverage, convey.ShouldEqual, model.CoverageOf(model.Cognitive))
				convey.So(cur.ConfigVersion, convey.ShouldEqual, "worker-test-1")
				convey.So(cur.TriggerSubmissionID, convey.ShouldEqual, "sub-1")
			})

			convey.Convey("Then the update is sent downstream", func() {
				convey.So(notifier.count(), convey.ShouldEqual, 1)
				convey.So(notifier.updates[0].Version, convey.ShouldEqual, 1)
				convey.So(notifier.updates[0].PrimaryCategory, convey.ShouldEqual, model.VisualLearner)
			})

			convey.Convey("And the same answers are submitted again", func() {
				convey.So(r.Process(ctx, cognitive("s1", "sub-2", 0.9, 0.2)), convey.ShouldBeNil)

				convey.Convey("Then the version increments with identical scores", func() {
					hist, err := store.GetHistory(ctx, "s1", repository.VersionRange{})
					convey.So(err, convey.ShouldBeNil)
					convey.So(hist, convey.ShouldHaveLength, 2)
					convey.So(hist[1].Version, convey.ShouldEqual, 2)
					convey.So(hist[1].Vector.Scores, convey.ShouldResemble, hist[0].Vector.Scores)
					convey.So(hist[1].Primary, convey.ShouldEqual, hist[0].Primary)
				})
			})

			convey.Convey("And the same event is redelivered", func() {
				convey.So(r.Process(ctx, cognitive("s1", "sub-1", 0.9, 0.2)), convey.ShouldBeNil)

				convey.Convey("Then no new version is written", func() {
					hist, err := store.GetHistory(ctx, "s1", repository.VersionRange{})
					convey.So(err, convey.ShouldBeNil)
					convey.So(hist, convey.ShouldHaveLength, 1)
					convey.So(notifier.count(), convey.ShouldEqual, 1)
				})
			})

			convey.Convey("And an academic submission follows", func() {
				convey.So(r.Process(ctx, academic("s1", "sub-3", true)), convey.ShouldBeNil)

				convey.Convey("Then both sources are averaged", func() {
					cur, err := store.GetCurrent(ctx, "s1")
					convey.So(err, convey.ShouldBeNil)
					convey.So(cur.Version, convey.ShouldEqual, 2)
					convey.So(cur.Vector.Coverage, convey.ShouldEqual, model.CoverageOf(model.Cognitive, model.Academic))
					convey.So(cur.Vector.Score(model.LogicalLearner), convey.ShouldAlmostEqual, 0.6)
					convey.So(cur.Vector.Score(model.VisualLearner), convey.ShouldAlmostEqual, 0.45)
				})
			})

			convey.Convey("And an empty cognitive re-take arrives", func() {
				empty := cognitive("s1", "sub-4", 0, 0)
				empty.Responses = nil
				convey.So(r.Process(ctx, empty), convey.ShouldBeNil)

				convey.Convey("Then the earlier fragment still drives the result", func() {
					cur, err := store.GetCurrent(ctx, "s1")
					convey.So(err, convey.ShouldBeNil)
					convey.So(cur.Version, convey.ShouldEqual, 2)
					convey.So(cur.Vector.Score(model.VisualLearner), convey.ShouldAlmostEqual, 0.9)
				})
			})
		})

		convey.Convey("When the only submission has no responses", func() {
			e := cognitive("s2", "sub-empty", 0, 0)
			e.Responses = nil
			convey.So(r.Process(ctx, e), convey.ShouldBeNil)

			convey.Convey("Then no classification exists", func() {
				_, err := store.GetCurrent(ctx, "s2")
				convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
				_, err = store.GetSubmission(ctx, "sub-empty")
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a submission references an unknown question", func() {
			e := cognitive("s3", "sub-bad", 0.5, 0.5)
			e.Responses = append(e.Responses, model.Response{QuestionID: "ghost", Value: model.Float64(1)})
			convey.So(r.Process(ctx, e), convey.ShouldBeNil)

			convey.Convey("Then it is stored, flagged, and reported", func() {
				sub, err := store.GetSubmission(ctx, "sub-bad")
				convey.So(err, convey.ShouldBeNil)
				convey.So(sub.Flagged, convey.ShouldBeTrue)

				failures, err := store.ListFailures(ctx, 10)
				convey.So(err, convey.ShouldBeNil)
				convey.So(failures, convey.ShouldHaveLength, 1)
				convey.So(failures[0].Kind, convey.ShouldEqual, model.FailureConfigMismatch)
				convey.So(failures[0].SubmissionID, convey.ShouldEqual, "sub-bad")

				_, err = store.GetCurrent(ctx, "s3")
				convey.So(errors.Is(err, repository.ErrNotFound), convey.ShouldBeTrue)
			})

			convey.Convey("Then other students are unaffected", func() {
				convey.So(r.Process(ctx, cognitive("s4", "sub-ok", 0.1, 0.9)), convey.ShouldBeNil)
				cur, err := store.GetCurrent(ctx, "s4")
				convey.So(err, convey.ShouldBeNil)
				convey.So(cur.Primary, convey.ShouldEqual, model.LogicalLearner)
			})
		})

		convey.Convey("When an older submission no longer matches the weight table", func() {
			old := cognitive("s8", "old-cog", 0.5, 0.5)
			old.Responses = []model.Response{{QuestionID: "retired", Value: model.Float64(0.7)}}
			_, err := store.SaveSubmission(ctx, old.Submission())
			convey.So(err, convey.ShouldBeNil)
			convey.So(r.Process(ctx, academic("s8", "new-aca", true)), convey.ShouldBeNil)

			convey.Convey("Then it is flagged and reported while the rest still classifies", func() {
				sub, err := store.GetSubmission(ctx, "old-cog")
				convey.So(err, convey.ShouldBeNil)
				convey.So(sub.Flagged, convey.ShouldBeTrue)

				failures, err := store.ListFailures(ctx, 10)
				convey.So(err, convey.ShouldBeNil)
				convey.So(failures, convey.ShouldHaveLength, 1)
				convey.So(failures[0].SubmissionID, convey.ShouldEqual, "old-cog")
				convey.So(failures[0].Kind, convey.ShouldEqual, model.FailureConfigMismatch)

				cur, err := store.GetCurrent(ctx, "s8")
				convey.So(err, convey.ShouldBeNil)
				convey.So(cur.Vector.Coverage, convey.ShouldEqual, model.CoverageOf(model.Academic))
			})

			convey.Convey("Then a later recomputation does not report it again", func() {
				convey.So(r.Process(ctx, academic("s8", "new-aca-2", false)), convey.ShouldBeNil)
				failures, err := store.ListFailures(ctx, 10)
				convey.So(err, convey.ShouldBeNil)
				convey.So(failures, convey.ShouldHaveLength, 1)
				cur, err := store.GetCurrent(ctx, "s8")
				convey.So(err, convey.ShouldBeNil)
				convey.So(cur.Version, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When notification fails", func() {
			notifier.err = errors.New("downstream unavailable")
			err := r.Process(ctx, cognitive("s5", "sub-n", 0.9, 0.1))

			convey.Convey("Then the version is still committed", func() {
				convey.So(err, convey.ShouldBeNil)
				cur, gerr := store.GetCurrent(ctx, "s5")
				convey.So(gerr, convey.ShouldBeNil)
				convey.So(cur.Version, convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When two events for one student race without serialization", func() {
			var wg sync.WaitGroup
			errs := make([]error, 2)
			events := []queue.Event{cognitive("s6", "race-1", 0.9, 0.1), academic("s6", "race-2", true)}
			for i := range events {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = r.Process(ctx, events[i])
				}(i)
			}
			wg.Wait()

			convey.Convey("Then both commit in sequence and the last sees both", func() {
				convey.So(errs[0], convey.ShouldBeNil)
				convey.So(errs[1], convey.ShouldBeNil)
				hist, err := store.GetHistory(ctx, "s6", repository.VersionRange{})
				convey.So(err, convey.ShouldBeNil)
				convey.So(hist, convey.ShouldHaveLength, 2)
				convey.So(hist[0].Version, convey.ShouldEqual, 1)
				convey.So(hist[1].Version, convey.ShouldEqual, 2)
				convey.So(hist[1].Vector.Coverage, convey.ShouldEqual, model.CoverageOf(model.Cognitive, model.Academic))
			})
		})
	})

	convey.Convey("Given a store that always reports stale writes", t, func() {
		_ = logging.Init()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mem := repository.NewMemoryStore(ctx)
		defer mem.Close()
		store := &staleStore{MemoryStore: mem}
		r := newRecomputer(store, worker.WithMaxAttempts(3))

		convey.Convey("When a submission is processed", func() {
			err := r.Process(ctx, cognitive("s7", "sub-stale", 0.8, 0.2))

			convey.Convey("Then it gives up after the retry budget", func() {
				convey.So(errors.Is(err, worker.ErrRetriesExhausted), convey.ShouldBeTrue)
				convey.So(store.attempts, convey.ShouldEqual, 3)
			})

			convey.Convey("Then the failure is queued for inspection", func() {
				failures, ferr := mem.ListFailures(ctx, 10)
				convey.So(ferr, convey.ShouldBeNil)
				convey.So(failures, convey.ShouldHaveLength, 1)
				convey.So(failures[0].Kind, convey.ShouldEqual, model.FailureStaleWrite)
				convey.So(failures[0].Attempts, convey.ShouldEqual, 3)
			})
		})
	})
}

func TestRecomputerAlreadyApplied(t *testing.T) {
	convey.Convey("Given a store where the trigger already produced a version", t, func() {
		_ = logging.Init()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mem := repository.NewMemoryStore(ctx)
		defer mem.Close()
		store := &appliedStore{MemoryStore: mem}
		r := newRecomputer(store, worker.WithMaxAttempts(3))

		convey.Convey("When the submission is processed", func() {
			err := r.Process(ctx, cognitive("s9", "sub-applied", 0.8, 0.2))

			convey.Convey("Then it is treated as a redelivery without retries or failures", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(int(store.attempts.Load()), convey.ShouldEqual, 1)
				failures, ferr := mem.ListFailures(ctx, 10)
				convey.So(ferr, convey.ShouldBeNil)
				convey.So(failures, convey.ShouldBeEmpty)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool over an in-memory queue", t, func() {
		_ = logging.Init()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))

		convey.Convey("When partitions are computed", func() {
			pool := worker.NewPool(4, q, worker.ProcessorFunc(func(context.Context, queue.Event) error { return nil }),
				worker.WithLogger(logging.Nop()))

			convey.Convey("Then they are stable and in range", func() {
				convey.So(pool.Partitions(), convey.ShouldEqual, 4)
				p := pool.PartitionFor("student-x")
				convey.So(p, convey.ShouldBeBetweenOrEqual, 0, 3)
				convey.So(pool.PartitionFor("student-x"), convey.ShouldEqual, p)
			})
		})

		convey.Convey("When a zero partition count is given", func() {
			pool := worker.NewPool(0, q, worker.ProcessorFunc(func(context.Context, queue.Event) error { return nil }))

			convey.Convey("Then it falls back to at least one partition", func() {
				convey.So(pool.Partitions(), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When many events for several students are processed", func() {
			var (
				mu       sync.Mutex
				inFlight = map[string]int{}
				maxSeen  = map[string]int{}
				order    = map[string][]string{}
			)
			proc := worker.ProcessorFunc(func(_ context.Context, e queue.Event) error {
				mu.Lock()
				inFlight[e.StudentID]++
				if inFlight[e.StudentID] > maxSeen[e.StudentID] {
					maxSeen[e.StudentID] = inFlight[e.StudentID]
				}
				order[e.StudentID] = append(order[e.StudentID], e.SubmissionID)
				mu.Unlock()

				time.Sleep(100 * time.Microsecond)

				mu.Lock()
				inFlight[e.StudentID]--
				mu.Unlock()
				return nil
			})
			pool := worker.NewPool(3, q, proc, worker.WithLogger(logging.Nop()), worker.WithPartitionBuffer(4))
			pool.Start(ctx)

			students := []string{"a", "b", "c", "d", "e"}
			const perStudent = 20
			for i := 0; i < perStudent; i++ {
				for _, s := range students {
					convey.So(q.Enqueue(ctx, cognitive(s, fmt.Sprintf("%s-%02d", s, i), 0.5, 0.5)), convey.ShouldBeNil)
				}
			}
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then every event ran once, in order, one at a time per student", func() {
				mu.Lock()
				defer mu.Unlock()
				for _, s := range students {
					convey.So(maxSeen[s], convey.ShouldEqual, 1)
					convey.So(order[s], convey.ShouldHaveLength, perStudent)
					for i, id := range order[s] {
						convey.So(id, convey.ShouldEqual, fmt.Sprintf("%s-%02d", s, i))
					}
				}
			})
		})

		convey.Convey("When a processor panics", func() {
			var (
				mu   sync.Mutex
				seen []string
			)
			proc := worker.ProcessorFunc(func(_ context.Context, e queue.Event) error {
				if e.SubmissionID == "boom" {
					panic("kaboom")
				}
				mu.Lock()
				seen = append(seen, e.SubmissionID)
				mu.Unlock()
				return nil
			})
			pool := worker.NewPool(1, q, proc, worker.WithLogger(logging.Nop()))
			pool.Start(ctx)
			convey.So(q.Enqueue(ctx, cognitive("p", "boom", 0, 0)), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, cognitive("p", "after", 0, 0)), convey.ShouldBeNil)
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then the partition keeps going", func() {
				mu.Lock()
				defer mu.Unlock()
				convey.So(seen, convey.ShouldResemble, []string{"after"})
			})
		})

		convey.Convey("When the pool drives recomputation for one student", func() {
			store := repository.NewMemoryStore(ctx)
			defer store.Close()
			r := newRecomputer(store)
			pool := worker.NewPool(2, q, r, worker.WithLogger(logging.Nop()))
			pool.Start(ctx)
			convey.So(q.Enqueue(ctx, cognitive("s", "s-1", 0.9, 0.1)), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, academic("s", "s-2", true)), convey.ShouldBeNil)
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then two sequential versions are written", func() {
				hist, err := store.GetHistory(ctx, "s", repository.VersionRange{})
				convey.So(err, convey.ShouldBeNil)
				convey.So(hist, convey.ShouldHaveLength, 2)
				convey.So(hist[0].TriggerSubmissionID, convey.ShouldEqual, "s-1")
				convey.So(hist[0].Vector.Coverage, convey.ShouldEqual, model.CoverageOf(model.Cognitive))
				convey.So(hist[1].TriggerSubmissionID, convey.ShouldEqual, "s-2")
				convey.So(hist[1].Vector.Coverage, convey.ShouldEqual, model.CoverageOf(model.Cognitive, model.Academic))
			})
		})

		convey.Convey("When the start context is cancelled before shutdown", func() {
			var processed atomic.Int64
			proc := worker.ProcessorFunc(func(context.Context, queue.Event) error {
				time.Sleep(50 * time.Microsecond)
				processed.Add(1)
				return nil
			})
			pool := worker.NewPool(2, q, proc, worker.WithLogger(logging.Nop()), worker.WithPartitionBuffer(2))
			startCtx, stop := context.WithCancel(ctx)
			pool.Start(startCtx)

			const events = 500
			for i := 0; i < events; i++ {
				convey.So(q.Enqueue(ctx, cognitive(fmt.Sprintf("s-%d", i%7), fmt.Sprintf("e-%03d", i), 0.5, 0.5)), convey.ShouldBeNil)
			}
			stop()
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then every accepted event is still processed", func() {
				convey.So(int(processed.Load()), convey.ShouldEqual, events)
			})
		})

		convey.Convey("When shutdown is called before start", func() {
			pool := worker.NewPool(1, q, worker.ProcessorFunc(func(context.Context, queue.Event) error { return nil }),
				worker.WithLogger(logging.Nop()))

			convey.Convey("Then it returns immediately and closes the queue", func() {
				convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}
