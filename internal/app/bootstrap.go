package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/okian/profiler/internal/adapters/notify"
	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/config"
	"github.com/okian/profiler/internal/domain/aggregate"
	"github.com/okian/profiler/internal/domain/classify"
	"github.com/okian/profiler/pkg/logger"
)

// FromConfig builds a Service and its store from cfg. The store is opened
// here so connection or migration problems surface before serving.
func FromConfig(ctx context.Context, cfg *config.Config) (*Service, error) {
	table, err := cfg.LoadWeights(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := NewNotifier(cfg)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return New(
		WithStore(store),
		WithWeightTable(table),
		WithNotifier(notifier),
		WithOutboxSize(cfg.NotifyOutboxSize),
		WithPartitions(cfg.Partitions),
		WithPartitionBuffer(cfg.PartitionBuffer),
		WithQueueSize(cfg.EventQueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithMaxAttempts(cfg.MaxAttempts),
		WithRetryBackoff(cfg.RetryBackoff()),
		WithAggregatorOptions(aggregate.WithTypeWeights(cfg.CognitiveWeight, cfg.AcademicWeight)),
		WithClassifierOptions(
			classify.WithPrimaryThreshold(cfg.PrimaryThreshold),
			classify.WithSecondaryThreshold(cfg.SecondaryThreshold),
			classify.WithClosenessMargin(cfg.ClosenessMargin),
			classify.WithHighSpeedThreshold(cfg.HighSpeedThreshold),
		),
	), nil
}

// OpenStore opens the store selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return repository.NewMemoryStore(ctx, repository.WithShards(cfg.StoreShards)), nil
	case config.DriverSQLite, config.DriverPostgres:
		dialect, err := repository.ParseDialect(cfg.StoreDriver)
		if err != nil {
			return nil, err
		}
		return repository.OpenSQL(ctx, repository.SQLConfig{
			Dialect:      dialect,
			DSN:          cfg.StoreDSN,
			MaxOpenConns: cfg.StoreMaxOpenConns,
			MaxIdleConns: cfg.StoreMaxOpenConns,
			Migrate:      cfg.StoreAutoMigrate,
		})
	default:
		return nil, fmt.Errorf("%w: unknown store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

// NewNotifier returns a webhook notifier when a URL is configured, and a
// log notifier otherwise. Updates are always logged.
func NewNotifier(cfg *config.Config) (notify.Notifier, error) {
	log := notify.NewLog(logger.Get().Named("notify"))
	if cfg.WebhookURL == "" {
		return log, nil
	}
	wh, err := notify.NewWebhook(cfg.WebhookURL,
		notify.WithMaxAttempts(cfg.WebhookAttempts),
		notify.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return notify.Multi{log, wh}, nil
}
