// Package worker runs recomputations with strict per-student ordering and
// parallelism across students.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/profiler/internal/adapters/mq/queue"
	"github.com/okian/profiler/pkg/logger"
	"github.com/okian/profiler/pkg/metrics"
)

const (
	defaultPartitionBuffer = 64
	poolShutdownTimeout    = 30 * time.Second
)

// Event is what partitions process.
type Event = queue.Event

// Queue defines how the pool receives events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Processor handles one event. Errors are logged and counted; they never
// stop the pool.
type Processor interface {
	Process(ctx context.Context, e Event) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, e Event) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, e Event) error { return f(ctx, e) } //nolint:gocritic // hugeParam: events are passed by value

// partition owns every student whose id hashes to it. A single goroutine
// drains its channel, so events for one student never run concurrently and
// keep their queue order.
type partition struct {
	id     int
	events chan Event
	logger logger.Logger
}

// Pool reads the queue in order and routes each event to its student's
// partition.
type Pool struct {
	queue      Queue
	processor  Processor
	partitions []*partition
	buffer     int
	logger     logger.Logger

	group   errgroup.Group
	active  atomic.Int64
	started atomic.Bool
	done    chan struct{}
}

// NewPool creates a pool with n partitions. n < 1 selects runtime.NumCPU().
func NewPool(n int, q Queue, processor Processor, opts ...Option) *Pool {
	if n < 1 {
		n = runtime.NumCPU()
	}
	p := &Pool{
		queue:     q,
		processor: processor,
		buffer:    defaultPartitionBuffer,
		logger:    logger.Get().Named("worker-pool"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.partitions = make([]*partition, n)
	for i := range p.partitions {
		p.partitions[i] = &partition{
			id:     i,
			events: make(chan Event, p.buffer),
			logger: p.logger.Named("partition-" + strconv.Itoa(i)),
		}
	}
	metrics.UpdateWorkerPartitions(n)
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Partitions returns the number of partitions.
func (p *Pool) Partitions() int { return len(p.partitions) }

// PartitionFor returns the partition index owning studentID.
func (p *Pool) PartitionFor(studentID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(studentID))
	return int(h.Sum32() % uint32(len(p.partitions)))
}

// Start launches the dispatcher and partitions. It returns immediately.
// The pool ignores cancellation of ctx: accepted events are only released
// by Shutdown, which closes the queue and waits for it to drain.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, part := range p.partitions {
		part := part
		p.group.Go(func() error {
			p.runPartition(ctx, part)
			return nil
		})
	}
	p.group.Go(func() error {
		p.dispatch(ctx)
		return nil
	})
	go func() {
		_ = p.group.Wait()
		close(p.done)
	}()
	p.logger.Info(ctx, "worker pool started", logger.Int("partitions", len(p.partitions)))
}

func (p *Pool) dispatch(ctx context.Context) {
	defer func() {
		for _, part := range p.partitions {
			close(part.events)
		}
	}()
	for e := range p.queue.Dequeue(ctx) {
		p.partitions[p.PartitionFor(e.StudentID)].events <- e
	}
}

func (p *Pool) runPartition(ctx context.Context, part *partition) {
	for e := range part.events {
		p.active.Add(1)
		metrics.UpdateWorkerActiveCount(int(p.active.Load()))
		start := time.Now()

		if err := p.safeProcess(ctx, e); err != nil {
			metrics.RecordWorkerError()
			part.logger.Error(ctx, "event processing failed",
				logger.String("submission_id", e.SubmissionID),
				logger.String("student_id", e.StudentID),
				logger.Error(err))
		}

		metrics.RecordWorkerProcessingLatency(metrics.Since(start))
		p.active.Add(-1)
		metrics.UpdateWorkerActiveCount(int(p.active.Load()))
	}
}

func (p *Pool) safeProcess(ctx context.Context, e Event) (err error) { //nolint:gocritic // hugeParam: events are passed by value
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return p.processor.Process(ctx, e)
}

// Done is closed once every partition has exited.
func (p *Pool) Done() <-chan struct{} { return p.done }

// Shutdown closes the queue, lets partitions drain, and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if !p.started.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	select {
	case <-p.done:
		p.logger.Info(ctx, "worker pool stopped")
		return nil
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
	}
}
