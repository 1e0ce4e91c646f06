package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/pkg/logger"
	"github.com/okian/profiler/pkg/metrics"
)

const defaultOutboxSize = 1024

// Async puts a bounded outbox in front of another notifier. Notify only
// enqueues; one goroutine delivers updates in the order they were accepted.
type Async struct {
	next   Notifier
	outbox chan model.ClassificationUpdated
	logger logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the delivery goroutine. size < 1 selects the default
// outbox size. Deliveries run under ctx without its cancellation; Close
// stops them.
func NewAsync(ctx context.Context, next Notifier, size int, l logger.Logger) *Async {
	if size < 1 {
		size = defaultOutboxSize
	}
	if l == nil {
		l = logger.Get().Named("notify.async")
	}
	a := &Async{
		next:   next,
		outbox: make(chan model.ClassificationUpdated, size),
		logger: l,
		done:   make(chan struct{}),
	}
	go a.run(context.WithoutCancel(ctx))
	return a
}

func (a *Async) run(ctx context.Context) {
	defer close(a.done)
	for u := range a.outbox {
		if err := a.next.Notify(ctx, u); err != nil {
			a.logger.Error(ctx, "classification notification failed",
				logger.String("student_id", u.StudentID),
				logger.Int("version", u.Version),
				logger.Error(err))
		}
	}
}

// Notify implements Notifier. It fails with ErrOutboxFull instead of waiting
// for room, and with ErrOutboxClosed after Close.
func (a *Async) Notify(_ context.Context, u model.ClassificationUpdated) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrOutboxClosed
	}
	select {
	case a.outbox <- u:
		return nil
	default:
		metrics.RecordNotificationFailure("outbox")
		return fmt.Errorf("%w: student %s version %d", ErrOutboxFull, u.StudentID, u.Version)
	}
}

// Pending returns the number of updates waiting for delivery.
func (a *Async) Pending() int { return len(a.outbox) }

// Close stops intake and waits until queued updates are delivered or ctx
// ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.outbox)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notification outbox: %w", ctx.Err())
	}
}
