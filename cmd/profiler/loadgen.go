package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/profiler/internal/loadgen"
	"github.com/okian/profiler/pkg/logger"
)

func newLoadgenCmd() *cobra.Command {
	def := loadgen.DefaultConfig()
	cfg := def
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Submit synthetic assessments to a running profiler and verify the results",
		Example: `  # Default run against a local server
  profiler loadgen

  # Heavier run that resends 10% of submissions
  profiler loadgen --students 50000 --workers 16 --duplicates 0.1 --url http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr())); err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			if verbose {
				_ = logger.SetLevelString("debug")
			}
			stats, err := loadgen.Run(cmd.Context(), cfg)
			fmt.Fprintf(cmd.OutOrStdout(),
				"students=%d submitted=%d accepted=%d duplicates=%d rejected=%d classified=%d mismatched=%d unsettled=%d duration=%s\n",
				stats.Students, stats.Submitted, stats.Accepted, stats.Duplicates, stats.Rejected,
				stats.Classified, stats.Mismatched, stats.Unsettled, stats.Duration)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", def.BaseURL, "Base URL of the service")
	f.IntVar(&cfg.Students, "students", def.Students, "Number of synthetic students")
	f.IntVar(&cfg.Workers, "workers", def.Workers, "Number of concurrent workers")
	f.DurationVar(&cfg.Timeout, "timeout", def.Timeout, "HTTP request timeout")
	f.DurationVar(&cfg.Settle, "settle", def.Settle, "How long to wait for classifications to settle")
	f.DurationVar(&cfg.PollInterval, "poll", def.PollInterval, "Classification poll interval")
	f.Float64Var(&cfg.DuplicateRate, "duplicates", 0, "Fraction of submissions to resend")
	f.Float64Var(&cfg.Rate, "rate", 0, "Maximum submissions per second (0 = unlimited)")
	f.BoolVar(&cfg.Compare, "compare", def.Compare, "Compare served labels with the built-in weights")
	f.Uint64Var(&cfg.Seed, "seed", 1, "Seed for response generation")
	f.StringVar(&cfg.OutputFile, "output", "", "Write generated students to this JSON file")
	f.Bool("verbose", false, "Enable debug logging")
	return cmd
}
