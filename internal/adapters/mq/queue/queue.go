// Package queue holds submission-completed events between ingress and the
// per-student workers. Events leave the queue in arrival order.
package queue

import (
	"context"
	"sync"

	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Event is the payload flowing through the queue.
type Event = model.SubmissionCompleted

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds e without blocking. It fails with ErrQueueFull or
	// ErrQueueClosed.
	Enqueue(ctx context.Context, e Event) error
	// Dequeue returns the single consumer channel. It is closed once the
	// queue is closed and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan Event
	// Len returns the number of pending events.
	Len() int
	// Cap returns the configured capacity.
	Cap() int
	// Close stops accepting events. Pending events are still delivered.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	mu     sync.RWMutex
	closed bool

	once sync.Once
	out  chan Event
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.publishSize()
	return q
}

func (q *InMemoryQueue) publishSize() {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) error { //nolint:gocritic // hugeParam: events are copied into the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return reject("closed", ErrQueueClosed)
	}
	if err := ctx.Err(); err != nil {
		return reject("context_cancelled", err)
	}
	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		q.publishSize()
		return nil
	default:
		return reject("queue_full", ErrQueueFull)
	}
}

func reject(reason string, err error) error {
	metrics.RecordQueueEnqueueError()
	metrics.RecordErrorByComponent("queue", reason)
	return err
}

// Dequeue implements Queue. Every call returns the same channel.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	q.once.Do(func() {
		q.out = make(chan Event)
		go func() {
			defer close(q.out)
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-q.events:
					if !ok {
						return
					}
					select {
					case q.out <- e:
						metrics.RecordQueueDequeue()
						q.publishSize()
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	})
	return q.out
}

// Len implements Queue.
func (q *InMemoryQueue) Len() int { return len(q.events) }

// Cap implements Queue.
func (q *InMemoryQueue) Cap() int { return q.capacity }

// Close implements Queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed implements Queue.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
