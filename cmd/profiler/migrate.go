package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/profiler/internal/adapters/repository"
	"github.com/okian/profiler/internal/config"
)

// errMemoryStore is returned when migrate runs against the in-memory driver.
var errMemoryStore = errors.New("the memory store has no schema to migrate")

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL store schema",
		Long:  "migrate applies or reverts the embedded schema migrations. Driver and DSN default to store_driver and store_dsn from config.",
	}
	cmd.PersistentFlags().String("driver", "", "Store driver: sqlite or postgres")
	cmd.PersistentFlags().String("dsn", "", "Database connection string")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, g *repository.Migrator, _ []string) error {
				if err := g.Up(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, g *repository.Migrator, _ []string) error {
				if err := g.Down(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations reverted successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations (negative reverts; pass after --)",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, g *repository.Migrator, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("steps: %w", err)
				}
				if err := g.Steps(n); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration steps\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, g *repository.Migrator, _ []string) error {
				v, dirty, err := g.Version()
				if err != nil {
					return fmt.Errorf("get version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %v\n", v, dirty)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the recorded version without migrating (use with caution)",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, g *repository.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("force: %w", err)
				}
				if err := g.Force(v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forced to version %d\n", v)
				return nil
			}),
		},
	)
	return cmd
}

type migrateFunc func(cmd *cobra.Command, g *repository.Migrator, args []string) error

// withMigrator resolves driver and DSN, opens a migrator for the duration
// of fn and closes it afterwards.
func withMigrator(fn migrateFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dialect, dsn, err := migrateTarget(cmd)
		if err != nil {
			return err
		}
		g, err := repository.NewMigrator(dialect, dsn)
		if err != nil {
			return err
		}
		runErr := fn(cmd, g, args)
		return errors.Join(runErr, g.Close())
	}
}

func migrateTarget(cmd *cobra.Command) (repository.Dialect, string, error) {
	driver, _ := cmd.Flags().GetString("driver")
	dsn, _ := cmd.Flags().GetString("dsn")
	if driver == "" || dsn == "" {
		cfg, err := loadConfig(cmd.Context(), cmd)
		if err != nil {
			return "", "", err
		}
		if driver == "" {
			driver = cfg.StoreDriver
		}
		if dsn == "" {
			dsn = cfg.StoreDSN
		}
	}
	if driver == config.DriverMemory {
		return "", "", errMemoryStore
	}
	dialect, err := repository.ParseDialect(driver)
	if err != nil {
		return "", "", err
	}
	if dsn == "" {
		return "", "", fmt.Errorf("migrate %s: dsn is required", dialect)
	}
	return dialect, dsn, nil
}
