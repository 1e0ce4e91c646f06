package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/okian/profiler/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

// Run generates students, submits their assessments concurrently and waits
// for every student's classification to cover all of them.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	cfg.normalize()
	log := logger.Get().Named("loadgen")
	start := time.Now()

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("students", cfg.Students),
		logger.Int("workers", cfg.Workers),
		logger.Float64("duplicateRate", cfg.DuplicateRate),
		logger.Float64("rate", cfg.Rate),
		logger.Bool("compare", cfg.Compare))

	c := newClient(cfg.BaseURL, cfg.Timeout)
	if err := c.health(ctx); err != nil {
		return Stats{}, err
	}

	gen, err := NewGenerator(cfg.Seed)
	if err != nil {
		return Stats{}, err
	}
	students, err := gen.Students(ctx, cfg.Students)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Students: len(students)}

	if cfg.OutputFile != "" {
		if err := save(cfg.OutputFile, students); err != nil {
			log.Warn(ctx, "failed to save generated students", logger.Error(err))
		}
	}

	if err := submitAll(ctx, &cfg, c, gen, students, &stats); err != nil {
		return stats, err
	}
	log.Info(ctx, "submission completed",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("rejected", stats.Rejected))

	verr := verifyAll(ctx, &cfg, c, students, &stats)
	stats.Duration = time.Since(start)

	var perSecond float64
	if stats.Duration > 0 {
		perSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("students", stats.Students),
		logger.Int("classified", stats.Classified),
		logger.Int("mismatched", stats.Mismatched),
		logger.Int("unsettled", stats.Unsettled),
		logger.Duration("duration", stats.Duration),
		logger.Float64("submissionsPerSecond", perSecond))
	return stats, verr
}

func submitAll(ctx context.Context, cfg *Config, c *client, gen *Generator, students []Student, stats *Stats) error {
	// Per-student order is preserved by sending a student's submissions
	// from one goroutine.
	var (
		submitted, accepted, duplicates, rejected atomic.Int64
		log                                       = logger.Get().Named("loadgen")
	)
	plans := make([][]*Submission, len(students))
	for i := range students {
		for j := range students[i].Submissions {
			sub := &students[i].Submissions[j]
			plans[i] = append(plans[i], sub)
			if gen.Duplicate(cfg.DuplicateRate) {
				plans[i] = append(plans[i], sub)
			}
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, cfg.Workers))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range plans {
		plan := plans[i]
		g.Go(func() error {
			for _, sub := range plan {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				res, err := c.submit(gctx, sub)
				submitted.Add(1)
				switch {
				case err != nil:
					rejected.Add(1)
					log.Debug(gctx, "submission rejected", logger.String("submission_id", sub.SubmissionID), logger.Error(err))
				case res == submitDuplicate:
					duplicates.Add(1)
				default:
					accepted.Add(1)
				}
			}
			return gctx.Err()
		})
	}
	err := g.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Accepted = int(accepted.Load())
	stats.Duplicates = int(duplicates.Load())
	stats.Rejected = int(rejected.Load())
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

func verifyAll(ctx context.Context, cfg *Config, c *client, students []Student, stats *Stats) error {
	var (
		classified, mismatched, unsettled atomic.Int64
		log                               = logger.Get().Named("loadgen")
	)
	deadline := time.Now().Add(cfg.Settle)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range students {
		s := &students[i]
		g.Go(func() error {
			got, ok, err := waitSettled(gctx, c, s, deadline, cfg.PollInterval)
			if err != nil {
				return err
			}
			if !ok {
				unsettled.Add(1)
				return nil
			}
			classified.Add(1)
			if cfg.Compare && !sameLabels(&got, s) {
				mismatched.Add(1)
				log.Warn(gctx, "classification mismatch",
					logger.String("student_id", s.ID),
					logger.String("expected", string(s.Primary)),
					logger.String("served", string(got.Primary)))
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Classified = int(classified.Load())
	stats.Mismatched = int(mismatched.Load())
	stats.Unsettled = int(unsettled.Load())
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	var errs []error
	if stats.Unsettled > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d students", ErrUnsettled, stats.Unsettled, stats.Students))
	}
	if stats.Mismatched > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d students", ErrMismatch, stats.Mismatched, stats.Students))
	}
	return errors.Join(errs...)
}

// waitSettled polls until the served version covers every submission the
// student made, or the deadline passes.
func waitSettled(ctx context.Context, c *client, s *Student, deadline time.Time, every time.Duration) (classification, bool, error) {
	want := len(s.Submissions)
	for {
		got, ok, err := c.current(ctx, s.ID)
		if err != nil {
			return classification{}, false, err
		}
		if ok && got.Version >= want {
			return got, true, nil
		}
		if time.Now().After(deadline) {
			return classification{}, false, nil
		}
		select {
		case <-ctx.Done():
			return classification{}, false, ctx.Err()
		case <-time.After(every):
		}
	}
}

func sameLabels(got *classification, s *Student) bool {
	if got.Primary != s.Primary {
		return false
	}
	switch {
	case got.Secondary == nil && s.Secondary == nil:
		return true
	case got.Secondary == nil || s.Secondary == nil:
		return false
	default:
		return *got.Secondary == *s.Secondary
	}
}

func save(path string, students []Student) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(students, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal students: %w", err)
	}
	return os.WriteFile(path, data, filePermission)
}
