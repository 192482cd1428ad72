// Package config loads the YAML configuration shared by the refactor and
// reconstruct commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/mdr/config"
)

// Config represents the complete mdr configuration.
type Config struct {
	// DataDir is the root directory for metadata and level streams.
	DataDir string `yaml:"data_dir"`

	// Layout defines how a field is split into blocks and stored.
	Layout LayoutConfig `yaml:"layout"`

	// Refactor configures decomposition and encoding.
	Refactor RefactorConfig `yaml:"refactor"`

	// Compression configures bitplane chunk compression.
	Compression CompressionConfig `yaml:"compression"`

	// Estimator configures the error norm.
	Estimator EstimatorConfig `yaml:"estimator"`

	// Retrieval configures progressive reconstruction.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Telemetry configures parquet recording of refactor and retrieval reports.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Query configures telemetry reports.
	Query QueryConfig `yaml:"query"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
}

// LayoutConfig defines the on-disk layout.
type LayoutConfig struct {
	// Blocks is the number of slabs the field is cut into along its slowest dimension.
	Blocks int `yaml:"blocks"`

	// Workers bounds how many blocks are processed concurrently.
	Workers int `yaml:"workers"`

	// Container stores all blocks in one multiplexed file instead of a
	// directory of level files.
	Container bool `yaml:"container"`
}

// RefactorConfig configures decomposition and encoding.
type RefactorConfig struct {
	// TargetLevel is the number of decomposition steps.
	TargetLevel int `yaml:"target_level"`

	// Bitplanes is the requested bitplane count per level.
	Bitplanes int `yaml:"bitplanes"`

	// Decomposer is the transform: haar.
	Decomposer string `yaml:"decomposer"`

	// Interleaver is the level ordering: direct, morton, block.
	Interleaver string `yaml:"interleaver"`

	// InterleaveBlock is the block edge for the block interleaver.
	InterleaveBlock int `yaml:"interleave_block"`

	// Codec is the bitplane encoding: negabinary, signmag.
	Codec string `yaml:"codec"`

	// Workers bounds how many levels are encoded concurrently.
	Workers int `yaml:"workers"`
}

// CompressionConfig configures bitplane chunk compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: zstd, lz4, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the zstd encoder level (1-4).
	Level int `yaml:"level"`

	// MinSavings is the fraction a chunk must shrink by to be stored compressed.
	MinSavings float64 `yaml:"min_savings"`
}

// EstimatorConfig configures the error norm.
type EstimatorConfig struct {
	// Norm is max or snorm.
	Norm string `yaml:"norm"`

	// S is the level exponent of snorm.
	S float64 `yaml:"s"`

	// Percentile configures DDSketch magnitude quantiles in refactor reports.
	Percentile PercentileConfig `yaml:"percentile"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// RetrievalConfig configures progressive reconstruction.
type RetrievalConfig struct {
	// Planner is the selection policy: greedy, roundrobin, inorder.
	Planner string `yaml:"planner"`

	// Budget caps the bytes fetched per call; -1 is unlimited.
	Budget int64 `yaml:"budget"`

	// Workers bounds how many levels are fetched and decoded concurrently.
	Workers int `yaml:"workers"`
}

// TelemetryConfig configures parquet telemetry.
type TelemetryConfig struct {
	// Enabled enables telemetry recording.
	Enabled bool `yaml:"enabled"`

	// Dir is the telemetry directory. Defaults to {DataDir}/telemetry.
	Dir string `yaml:"dir"`

	// Compression is the parquet codec: snappy, zstd, lz4, none.
	Compression string `yaml:"compression"`
}

// QueryConfig configures telemetry reports.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text, json, or auto (json unless stderr is a terminal).
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./mdr-data",
		Layout: LayoutConfig{
			Blocks:  defaults.DefaultBlocks,
			Workers: defaults.DefaultBlockWorkers,
		},
		Refactor: RefactorConfig{
			TargetLevel:     defaults.DefaultTargetLevel,
			Bitplanes:       defaults.DefaultBitplanes,
			Decomposer:      "haar",
			Interleaver:     "direct",
			InterleaveBlock: defaults.DefaultInterleaveBlock,
			Codec:           "negabinary",
			Workers:         defaults.DefaultRefactorWorkers,
		},
		Compression: CompressionConfig{
			Algorithm:  defaults.DefaultCompressionAlgorithm,
			Level:      defaults.DefaultCompressionLevel,
			MinSavings: defaults.DefaultMinSavings,
		},
		Estimator: EstimatorConfig{
			Norm: defaults.DefaultNorm,
			S:    defaults.DefaultSNormExponent,
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: 0.01,
			},
		},
		Retrieval: RetrievalConfig{
			Planner: defaults.DefaultPlanner,
			Budget:  defaults.UnlimitedBudget,
			Workers: defaults.DefaultRefactorWorkers,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Compression: "zstd",
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
			Timeout:     defaults.DefaultQueryTimeout,
			MaxRows:     100000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// TelemetryDir returns the telemetry directory, defaulting under DataDir.
func (c *Config) TelemetryDir() string {
	if c.Telemetry.Dir != "" {
		return c.Telemetry.Dir
	}
	return filepath.Join(c.DataDir, "telemetry")
}
