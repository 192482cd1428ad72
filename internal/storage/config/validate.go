package config

import (
	"errors"
	"fmt"

	"github.com/xtxerr/mdr/internal/bitplane"
	"github.com/xtxerr/mdr/internal/compress"
	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/interleave"
	"github.com/xtxerr/mdr/internal/plan"
)

// Validate checks the configuration for errors. Every reported problem
// wraps ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, mdrerrors.NewConfiguration("data_dir", "required"))
	}

	// Layout
	if err := c.Layout.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("layout: %w", err))
	}

	// Refactor
	if err := c.Refactor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("refactor: %w", err))
	}

	// Compression
	if err := c.Compression.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}

	// Estimator
	if err := c.Estimator.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("estimator: %w", err))
	}

	// Retrieval
	if err := c.Retrieval.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retrieval: %w", err))
	}

	// Telemetry
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	// Query
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	// Logging
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the layout configuration.
func (c *LayoutConfig) Validate() error {
	var errs []error

	if c.Blocks <= 0 {
		errs = append(errs, mdrerrors.NewConfiguration("blocks", "must be positive"))
	}
	if c.Workers <= 0 {
		errs = append(errs, mdrerrors.NewConfiguration("workers", "must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the refactor configuration. Bitplane counts are not
// rejected here; the refactor engine adjusts them to the element type.
func (c *RefactorConfig) Validate() error {
	var errs []error

	if c.TargetLevel < 0 {
		errs = append(errs, mdrerrors.NewConfiguration("target_level", "must be non-negative"))
	}
	if _, err := decompose.ParseKind(c.Decomposer); err != nil {
		errs = append(errs, err)
	}
	kind, err := interleave.ParseKind(c.Interleaver)
	if err != nil {
		errs = append(errs, err)
	} else if kind == interleave.KindBlock && c.InterleaveBlock < 1 {
		errs = append(errs, mdrerrors.NewConfiguration("interleave_block", "must be positive for the block interleaver"))
	}
	if _, err := bitplane.ParseKind(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.Workers <= 0 {
		errs = append(errs, mdrerrors.NewConfiguration("workers", "must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compression configuration.
func (c *CompressionConfig) Validate() error {
	var errs []error

	alg, err := compress.ParseAlgorithm(c.Algorithm)
	if err != nil {
		errs = append(errs, err)
	}
	if alg == compress.AlgorithmZstd && (c.Level < 1 || c.Level > 4) {
		errs = append(errs, mdrerrors.NewConfiguration("level", "zstd level must be between 1 and 4"))
	}
	if c.MinSavings < 0 || c.MinSavings >= 1 {
		errs = append(errs, mdrerrors.NewConfiguration("min_savings", "must be in [0, 1)"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the estimator configuration.
func (c *EstimatorConfig) Validate() error {
	var errs []error

	norm, err := estimate.ParseNorm(c.Norm)
	if err != nil {
		errs = append(errs, err)
	} else if _, err := estimate.New(norm, c.S); err != nil {
		errs = append(errs, err)
	}

	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
			errs = append(errs, mdrerrors.NewConfiguration("percentile.accuracy", "must be between 0 and 1"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retrieval configuration.
func (c *RetrievalConfig) Validate() error {
	var errs []error

	if _, err := plan.ParsePolicy(c.Planner); err != nil {
		errs = append(errs, err)
	}
	if c.Budget < -1 {
		errs = append(errs, mdrerrors.NewConfiguration("budget", "must be -1 (unlimited) or non-negative"))
	}
	if c.Workers <= 0 {
		errs = append(errs, mdrerrors.NewConfiguration("workers", "must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		return mdrerrors.NewConfiguration("compression", "must be one of: snappy, zstd, lz4, none")
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, mdrerrors.NewConfiguration("timeout", "must be positive"))
	}
	if c.MaxRows <= 0 {
		errs = append(errs, mdrerrors.NewConfiguration("max_rows", "must be positive"))
	}
	if c.MemoryLimit != "" && ParseMemoryLimit(c.MemoryLimit) <= 0 {
		errs = append(errs, mdrerrors.NewConfiguration("memory_limit", fmt.Sprintf("cannot parse %q", c.MemoryLimit)))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	var errs []error

	switch c.Level {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, mdrerrors.NewConfiguration("level", "must be one of: debug, info, warn, error"))
	}
	switch c.Format {
	case "text", "json", "auto", "":
	default:
		errs = append(errs, mdrerrors.NewConfiguration("format", "must be one of: text, json, auto"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
