package worker

import (
	"time"

	"github.com/okian/profiler/pkg/logger"
)

// Option applies a configuration option to the Pool.
type Option func(*Pool)

// WithPartitionBuffer sets how many events each partition holds before the
// dispatcher blocks.
func WithPartitionBuffer(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithLogger sets a custom logger for the pool.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// RecomputerOption applies a configuration option to the Recomputer.
type RecomputerOption func(*Recomputer)

// WithMaxAttempts bounds compare-and-commit attempts per event.
func WithMaxAttempts(n int) RecomputerOption {
	return func(r *Recomputer) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts. The delay grows
// linearly with the attempt number.
func WithRetryBackoff(d time.Duration) RecomputerOption {
	return func(r *Recomputer) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// WithNotifier sets where ClassificationUpdated events are sent.
func WithNotifier(n Notifier) RecomputerOption {
	return func(r *Recomputer) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithRecomputerLogger sets a custom logger for the Recomputer.
func WithRecomputerLogger(l logger.Logger) RecomputerOption {
	return func(r *Recomputer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConfigVersion sets the version stamped on every assignment. Without
// it the weight table version is used.
func WithConfigVersion(v string) RecomputerOption {
	return func(r *Recomputer) {
		if v != "" {
			r.configVersion = v
		}
	}
}

// WithClock overrides the time source for ProducedAt.
func WithClock(now func() time.Time) RecomputerOption {
	return func(r *Recomputer) {
		if now != nil {
			r.now = now
		}
	}
}
