package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/profiler/internal/adapters/mq/queue"
	"github.com/okian/profiler/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func event(id, student string) queue.Event {
	return model.SubmissionCompleted{SubmissionID: id, StudentID: student, AssessmentType: model.Cognitive}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity two", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		Reset(cancel)
		q := queue.NewInMemoryQueue(queue.WithCapacity(2))
		So(q.Cap(), ShouldEqual, 2)
		So(q.Len(), ShouldEqual, 0)

		Convey("When two events are enqueued", func() {
			So(q.Enqueue(ctx, event("e1", "s1")), ShouldBeNil)
			So(q.Enqueue(ctx, event("e2", "s1")), ShouldBeNil)
			So(q.Len(), ShouldEqual, 2)

			Convey("Then a third is rejected as full", func() {
				So(errors.Is(q.Enqueue(ctx, event("e3", "s1")), queue.ErrQueueFull), ShouldBeTrue)
			})

			Convey("Then they are delivered in order", func() {
				ch := q.Dequeue(ctx)
				So((<-ch).SubmissionID, ShouldEqual, "e1")
				So((<-ch).SubmissionID, ShouldEqual, "e2")
			})

			Convey("Then dequeue returns the same channel each time", func() {
				So(q.Dequeue(ctx), ShouldEqual, q.Dequeue(ctx))
			})

			Convey("Then closing still drains pending events", func() {
				So(q.Close(), ShouldBeNil)
				So(q.IsClosed(), ShouldBeTrue)
				So(errors.Is(q.Enqueue(ctx, event("e4", "s1")), queue.ErrQueueClosed), ShouldBeTrue)

				var got []string
				for e := range q.Dequeue(ctx) {
					got = append(got, e.SubmissionID)
				}
				So(got, ShouldResemble, []string{"e1", "e2"})
				So(q.Close(), ShouldBeNil)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, ccancel := context.WithCancel(ctx)
			ccancel()
			So(errors.Is(q.Enqueue(cctx, event("e1", "s1")), context.Canceled), ShouldBeTrue)

			ch := q.Dequeue(cctx)
			select {
			case _, ok := <-ch:
				So(ok, ShouldBeFalse)
			case <-time.After(time.Second):
				So("dequeue channel not closed", ShouldBeEmpty)
			}
		})
	})
}

func TestInMemoryQueueConcurrentProducers(t *testing.T) {
	Convey("Given many producers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))

		var wg sync.WaitGroup
		for p := 0; p < 10; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					_ = q.Enqueue(ctx, event(fmt.Sprintf("p%d-%d", p, i), "s"))
				}
			}(p)
		}
		wg.Wait()
		So(q.Len(), ShouldEqual, 500)
		So(q.Close(), ShouldBeNil)

		count := 0
		for range q.Dequeue(ctx) {
			count++
		}
		So(count, ShouldEqual, 500)
	})
}
