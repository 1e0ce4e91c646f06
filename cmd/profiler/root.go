package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/profiler/internal/config"
	"github.com/okian/profiler/pkg/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "profiler",
		Short:         "Assessment scoring and learning-profile categorization engine",
		Long:          "profiler turns completed cognitive and academic assessments into a versioned primary/secondary learning-profile classification per student.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "Path to YAML config file (overrides PROFILER_CONFIG env var)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newLoadgenCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig layers defaults, the --config file (or PROFILER_CONFIG), and
// env, then initializes the global logger from the result.
func loadConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		cfg, err = config.LoadFile(ctx, p)
	} else {
		cfg, err = config.Load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}
