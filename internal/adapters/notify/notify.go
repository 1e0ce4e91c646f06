// Package notify delivers ClassificationUpdated events to downstream
// consumers. Delivery is at-least-once; consumers treat repeats of the same
// version as a no-op.
package notify

import (
	"context"
	"errors"

	"github.com/okian/profiler/internal/domain/model"
	"github.com/okian/profiler/pkg/logger"
	"github.com/okian/profiler/pkg/metrics"
)

// Notifier sends one update downstream.
type Notifier interface {
	Notify(ctx context.Context, u model.ClassificationUpdated) error
}

// Log writes updates to the structured log. It is the default when no
// webhook is configured.
type Log struct {
	logger logger.Logger
}

// NewLog creates a log notifier.
func NewLog(l logger.Logger) *Log {
	if l == nil {
		l = logger.Get().Named("notify")
	}
	return &Log{logger: l}
}

// Notify implements Notifier.
func (n *Log) Notify(ctx context.Context, u model.ClassificationUpdated) error {
	secondary := ""
	if u.SecondaryCategory != nil {
		secondary = string(*u.SecondaryCategory)
	}
	n.logger.Info(ctx, "classification updated",
		logger.String("student_id", u.StudentID),
		logger.Int("version", u.Version),
		logger.String("primary", string(u.PrimaryCategory)),
		logger.String("secondary", secondary))
	metrics.RecordNotificationSent("log")
	return nil
}

// Multi fans an update out to several notifiers. Every notifier is tried;
// their errors are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, u model.ClassificationUpdated) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
