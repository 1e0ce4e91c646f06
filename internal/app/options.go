package service

import (
	"time"

	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/adapters/mq/worker"
	"github.com/okian/profiler/internal/domain/aggregate"
	"github.com/okian/profiler/internal/domain/classify"
	"github.com/okian/profiler/internal/domain/normalize"
	"github.com/okian/profiler/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithPartitions sets the number of per-student serialization lanes.
func WithPartitions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.partitions = n
		}
	}
}

// WithPartitionBuffer sets how many events each lane holds.
func WithPartitionBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.partitionBuffer = n
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication window.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStore sets the classification store. The service closes it on
// Shutdown.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWeightTable sets the question weight table.
func WithWeightTable(t *normalize.WeightTable) Option {
	return func(s *Service) {
		if t != nil {
			s.table = t
		}
	}
}

// WithAggregatorOptions configures the score aggregator.
func WithAggregatorOptions(opts ...aggregate.Option) Option {
	return func(s *Service) {
		s.aggregatorOpts = append(s.aggregatorOpts, opts...)
	}
}

// WithClassifierOptions configures the category classifier.
func WithClassifierOptions(opts ...classify.Option) Option {
	return func(s *Service) {
		s.classifierOpts = append(s.classifierOpts, opts...)
	}
}

// WithOutboxSize bounds how many committed versions may wait for
// notification delivery.
func WithOutboxSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.outboxSize = n
		}
	}
}

// WithNotifier sets where committed versions are announced.
func WithNotifier(n worker.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMaxAttempts bounds compare-and-commit attempts per event.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between commit attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
