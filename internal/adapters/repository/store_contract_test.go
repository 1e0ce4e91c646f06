package repository_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func submission(id, student string, t model.AssessmentType) model.Submission {
	return model.Submission{
		ID: id, StudentID: student, Type: t,
		Responses: []model.Response{{QuestionID: "q1", Value: model.Float64(0.7), TimeMs: 1200}},
		SubmittedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func candidate(student, trigger string) model.Assignment {
	v := model.NewScoreVector()
	v.Scores[model.VisualLearner] = 0.72
	v.Scores[model.LogicalLearner] = 0.70
	v.ProcessingSpeed = model.Float64(0.8)
	v.Coverage = model.CoverageOf(model.Cognitive)
	sec := model.VisualLearner
	return model.Assignment{
		StudentID:           student,
		Primary:             model.LogicalLearner,
		Secondary:           &sec,
		Vector:              v,
		TieBreak:            model.TieBreakProcessingSpeed,
		ConfigVersion:       "t-1",
		TriggerSubmissionID: trigger,
		ProducedAt:          time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC),
	}
}

func storeFactories(t *testing.T) map[string]func() repository.Store {
	return map[string]func() repository.Store{
		"memory": func() repository.Store {
			return repository.NewMemoryStore(context.Background(), repository.WithShards(4))
		},
		"sqlite": func() repository.Store {
			dsn := filepath.Join(t.TempDir(), "profiler.db")
			s, err := repository.OpenSQL(context.Background(), repository.SQLConfig{
				Dialect: repository.DialectSQLite, DSN: dsn, Migrate: true,
			})
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		name, factory := name, factory
		Convey(fmt.Sprintf("Given a %s store", name), t, func() {
			ctx := context.Background()
			store := factory()
			Reset(func() { _ = store.Close() })

			Convey("When submissions are saved", func() {
				first, err := store.SaveSubmission(ctx, submission("sub-1", "stu-1", model.Cognitive))
				So(err, ShouldBeNil)
				second, err := store.SaveSubmission(ctx, submission("sub-2", "stu-1", model.Academic))
				So(err, ShouldBeNil)

				Convey("Then sequences follow arrival order", func() {
					So(first.Sequence, ShouldBeGreaterThan, 0)
					So(second.Sequence, ShouldBeGreaterThan, first.Sequence)
					So(first.ReceivedAt.IsZero(), ShouldBeFalse)
				})

				Convey("Then a repeated id returns the stored record", func() {
					dup, err := store.SaveSubmission(ctx, submission("sub-1", "stu-1", model.Cognitive))
					So(errors.Is(err, repository.ErrDuplicateSubmission), ShouldBeTrue)
					So(dup.Sequence, ShouldEqual, first.Sequence)
				})

				Convey("Then the stored record round trips", func() {
					got, err := store.GetSubmission(ctx, "sub-1")
					So(err, ShouldBeNil)
					So(got.StudentID, ShouldEqual, "stu-1")
					So(got.Type, ShouldEqual, model.Cognitive)
					So(len(got.Responses), ShouldEqual, 1)
					So(*got.Responses[0].Value, ShouldEqual, 0.7)
					So(got.Responses[0].TimeMs, ShouldEqual, 1200)
				})

				Convey("Then flagged submissions are excluded from listing", func() {
					So(store.FlagSubmission(ctx, "sub-1", "unknown question"), ShouldBeNil)
					list, err := store.ListSubmissions(ctx, "stu-1")
					So(err, ShouldBeNil)
					So(len(list), ShouldEqual, 1)
					So(list[0].ID, ShouldEqual, "sub-2")

					flagged, err := store.GetSubmission(ctx, "sub-1")
					So(err, ShouldBeNil)
					So(flagged.Flagged, ShouldBeTrue)
					So(flagged.FlagReason, ShouldEqual, "unknown question")

					So(store.UnflagSubmission(ctx, "sub-1"), ShouldBeNil)
					list, err = store.ListSubmissions(ctx, "stu-1")
					So(err, ShouldBeNil)
					So(len(list), ShouldEqual, 2)
					So(list[0].ID, ShouldEqual, "sub-1")
				})
			})

			Convey("When looking up unknown records", func() {
				_, err := store.GetSubmission(ctx, "nope")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				So(errors.Is(store.FlagSubmission(ctx, "nope", "x"), repository.ErrNotFound), ShouldBeTrue)
				_, err = store.GetCurrent(ctx, "stu-1")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, err = store.AssignmentForSubmission(ctx, "nope")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				hist, err := store.GetHistory(ctx, "stu-1", repository.VersionRange{})
				So(err, ShouldBeNil)
				So(len(hist), ShouldEqual, 0)
			})

			Convey("When assignments are committed", func() {
				for _, id := range []string{"sub-1", "sub-2", "sub-3"} {
					_, err := store.SaveSubmission(ctx, submission(id, "stu-1", model.Cognitive))
					So(err, ShouldBeNil)
				}
				v1, err := store.RecordAssignment(ctx, 0, candidate("stu-1", "sub-1"))
				So(err, ShouldBeNil)
				So(v1.Version, ShouldEqual, 1)

				Convey("Then a write against a stale version fails", func() {
					_, err := store.RecordAssignment(ctx, 0, candidate("stu-1", "sub-2"))
					So(errors.Is(err, repository.ErrStaleWrite), ShouldBeTrue)
					cur, err := store.GetCurrent(ctx, "stu-1")
					So(err, ShouldBeNil)
					So(cur.Version, ShouldEqual, 1)
				})

				Convey("Then versions increase without gaps", func() {
					v2, err := store.RecordAssignment(ctx, 1, candidate("stu-1", "sub-2"))
					So(err, ShouldBeNil)
					So(v2.Version, ShouldEqual, 2)
					_, err = store.RecordAssignment(ctx, 2, candidate("stu-1", "sub-3"))
					So(err, ShouldBeNil)

					hist, err := store.GetHistory(ctx, "stu-1", repository.VersionRange{})
					So(err, ShouldBeNil)
					So(len(hist), ShouldEqual, 3)
					for i, a := range hist {
						So(a.Version, ShouldEqual, i+1)
					}

					ranged, err := store.GetHistory(ctx, "stu-1", repository.VersionRange{From: 2, To: 2})
					So(err, ShouldBeNil)
					So(len(ranged), ShouldEqual, 1)
					So(ranged[0].TriggerSubmissionID, ShouldEqual, "sub-2")

					cur, err := store.GetCurrent(ctx, "stu-1")
					So(err, ShouldBeNil)
					So(cur.Version, ShouldEqual, 3)
				})

				Convey("Then the committed record round trips", func() {
					cur, err := store.GetCurrent(ctx, "stu-1")
					So(err, ShouldBeNil)
					So(cur.Primary, ShouldEqual, model.LogicalLearner)
					So(*cur.Secondary, ShouldEqual, model.VisualLearner)
					So(cur.Vector.Scores[model.VisualLearner], ShouldEqual, 0.72)
					So(*cur.Vector.ProcessingSpeed, ShouldEqual, 0.8)
					So(cur.Vector.Coverage, ShouldEqual, model.CoverageOf(model.Cognitive))
					So(cur.ConfigVersion, ShouldEqual, "t-1")
					So(cur.TieBreak, ShouldEqual, model.TieBreakProcessingSpeed)
					So(cur.ProducedAt.Equal(time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)), ShouldBeTrue)

					bySub, err := store.AssignmentForSubmission(ctx, "sub-1")
					So(err, ShouldBeNil)
					So(bySub.Version, ShouldEqual, 1)
				})

				Convey("Then a submission cannot trigger two versions", func() {
					_, err := store.RecordAssignment(ctx, 1, candidate("stu-1", "sub-1"))
					So(errors.Is(err, repository.ErrAlreadyApplied), ShouldBeTrue)
					So(errors.Is(err, repository.ErrStaleWrite), ShouldBeFalse)
				})

				Convey("Then a replayed trigger is reported as applied, not stale", func() {
					_, err := store.RecordAssignment(ctx, 1, candidate("stu-1", "sub-2"))
					So(err, ShouldBeNil)
					_, err = store.RecordAssignment(ctx, 1, candidate("stu-1", "sub-1"))
					So(errors.Is(err, repository.ErrAlreadyApplied), ShouldBeTrue)
					cur, err := store.GetCurrent(ctx, "stu-1")
					So(err, ShouldBeNil)
					So(cur.Version, ShouldEqual, 2)
				})

				Convey("Then a trigger owned by another student is rejected", func() {
					_, err := store.SaveSubmission(ctx, submission("other", "stu-2", model.Academic))
					So(err, ShouldBeNil)
					_, err = store.RecordAssignment(ctx, 1, candidate("stu-1", "other"))
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				})

				Convey("Then an invalid candidate is rejected", func() {
					bad := candidate("stu-1", "sub-2")
					bad.Vector.Coverage = 0
					_, err := store.RecordAssignment(ctx, 1, bad)
					So(errors.Is(err, model.ErrInvalidAssignment), ShouldBeTrue)
				})
			})

			Convey("When writers race on the same version", func() {
				const writers = 8
				for i := 0; i < writers; i++ {
					_, err := store.SaveSubmission(ctx, submission(fmt.Sprintf("race-%d", i), "stu-r", model.Cognitive))
					So(err, ShouldBeNil)
				}
				var (
					wg    sync.WaitGroup
					mu    sync.Mutex
					wins  int
					stale int
				)
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := store.RecordAssignment(ctx, 0, candidate("stu-r", fmt.Sprintf("race-%d", i)))
						mu.Lock()
						defer mu.Unlock()
						switch {
						case err == nil:
							wins++
						case errors.Is(err, repository.ErrStaleWrite):
							stale++
						}
					}(i)
				}
				wg.Wait()

				Convey("Then exactly one commits", func() {
					So(wins, ShouldEqual, 1)
					So(stale, ShouldEqual, writers-1)
					hist, err := store.GetHistory(ctx, "stu-r", repository.VersionRange{})
					So(err, ShouldBeNil)
					So(len(hist), ShouldEqual, 1)
				})
			})

			Convey("When failures are recorded", func() {
				f, err := store.RecordFailure(ctx, model.Failure{
					SubmissionID: "sub-9", StudentID: "stu-9", Kind: model.FailureConfigMismatch,
					Message: "unknown question", Attempts: 1,
				})
				So(err, ShouldBeNil)
				So(f.ID, ShouldNotBeEmpty)

				Convey("Then re-recording replaces the open entry", func() {
					again, err := store.RecordFailure(ctx, model.Failure{
						SubmissionID: "sub-9", StudentID: "stu-9", Kind: model.FailureStaleWrite,
						Message: "retries exhausted", Attempts: 3,
					})
					So(err, ShouldBeNil)
					So(again.ID, ShouldEqual, f.ID)

					list, err := store.ListFailures(ctx, 10)
					So(err, ShouldBeNil)
					So(len(list), ShouldEqual, 1)
					So(list[0].Kind, ShouldEqual, model.FailureStaleWrite)
					So(list[0].Attempts, ShouldEqual, 3)
				})

				Convey("Then resolving hides it", func() {
					So(store.ResolveFailure(ctx, "sub-9"), ShouldBeNil)
					list, err := store.ListFailures(ctx, 10)
					So(err, ShouldBeNil)
					So(len(list), ShouldEqual, 0)
					So(errors.Is(store.ResolveFailure(ctx, "sub-9"), repository.ErrNotFound), ShouldBeTrue)
				})

				Convey("Then stats count it", func() {
					st, err := store.Stats(ctx)
					So(err, ShouldBeNil)
					So(st.OpenFailures, ShouldEqual, 1)
				})
			})

			Convey("When stats are read after activity", func() {
				_, err := store.SaveSubmission(ctx, submission("sub-1", "stu-1", model.Cognitive))
				So(err, ShouldBeNil)
				_, err = store.RecordAssignment(ctx, 0, candidate("stu-1", "sub-1"))
				So(err, ShouldBeNil)

				st, err := store.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Students, ShouldEqual, 1)
				So(st.Submissions, ShouldEqual, 1)
			})
		})
	}
}
