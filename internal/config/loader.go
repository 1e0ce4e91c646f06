package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/profiler/internal/domain/normalize"
)

const (
	envPrefix  = "PROFILER_"
	envFileVar = "PROFILER_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PROFILER_CONFIG is set
//  3. env (prefix PROFILER_)
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, os.Getenv(envFileVar))
}

// LoadFile is Load with an explicit file path. An empty path skips the file
// layer.
func LoadFile(_ context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PROFILER_STORE_DSN -> store_dsn. Keys are flat so underscores stay.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWeights reads the weight table named by WeightsFile, or returns the
// built-in table when none is configured. JSON files parse as YAML.
func (c *Config) LoadWeights(_ context.Context) (*normalize.WeightTable, error) {
	if c.WeightsFile == "" {
		return normalize.DefaultWeightTable(), nil
	}
	k := koanf.New("::")
	if err := k.Load(file.Provider(c.WeightsFile), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: weights %s: %w", ErrLoadConfig, c.WeightsFile, err)
	}
	var table normalize.WeightTable
	if err := k.UnmarshalWithConf("", &table, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: weights %s: %w", ErrLoadConfig, c.WeightsFile, err)
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &table, nil
}
