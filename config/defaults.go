// Package config provides configuration defaults and utilities
// for the mdr refactoring codec.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Refactor Defaults
// =============================================================================

const (
	// DefaultTargetLevel is the number of decomposition steps.
	// The field is split into DefaultTargetLevel+1 levels.
	// Override via config: refactor.target_level
	DefaultTargetLevel = 3

	// DefaultBitplanes is the number of precision increments per level.
	// Odd values are rounded up to the next even count.
	// Override via config: refactor.bitplanes
	DefaultBitplanes = 32

	// MinBitplanes is the smallest bitplane count a level is encoded with.
	// Non-positive requests are raised to this value.
	MinBitplanes = 2

	// MaxBitplanesFloat32 is the bitplane ceiling for float32 fields.
	MaxBitplanesFloat32 = 32

	// MaxBitplanesFloat64 is the bitplane ceiling for float64 fields.
	// Quantized values must fit an int64 with two guard bits.
	MaxBitplanesFloat64 = 60

	// DefaultRefactorWorkers bounds how many levels are encoded concurrently.
	// Override via config: refactor.workers
	DefaultRefactorWorkers = 4

	// DefaultInterleaveBlock is the block edge for the block interleaver.
	// Override via config: refactor.interleave_block
	DefaultInterleaveBlock = 4
)

// =============================================================================
// Compression Defaults
// =============================================================================

const (
	// DefaultCompressionAlgorithm compresses bitplane chunks with zstd.
	// Override via config: compression.algorithm
	DefaultCompressionAlgorithm = "zstd"

	// DefaultCompressionLevel is the zstd encoder level (1-4 in klauspost terms).
	// Override via config: compression.level
	DefaultCompressionLevel = 2

	// DefaultMinSavings is the fraction a chunk must shrink by to be stored
	// compressed. Chunks that do not reach it are stored raw.
	// Override via config: compression.min_savings
	DefaultMinSavings = 0.05
)

// =============================================================================
// Estimator / Retrieval Defaults
// =============================================================================

const (
	// DefaultNorm is the global error norm used for error tables.
	// Override via config: estimator.norm
	DefaultNorm = "max"

	// DefaultSNormExponent weights levels by 2^(2*s*level) for the snorm norm.
	// Override via config: estimator.s
	DefaultSNormExponent = 0.0

	// DefaultPlanner is the retrieval selection policy.
	// Override via config: retrieval.planner
	DefaultPlanner = "greedy"

	// UnlimitedBudget disables the per-call byte cap.
	UnlimitedBudget = -1
)

// =============================================================================
// Layout Defaults
// =============================================================================

const (
	// DefaultBlocks is the number of independent spatial blocks.
	// Override via config: layout.blocks
	DefaultBlocks = 1

	// DefaultBlockWorkers bounds concurrent block engines.
	// Override via config: layout.workers
	DefaultBlockWorkers = 16

	// MetadataFile is the metadata stream name in single-block mode.
	MetadataFile = "metadata.bin"

	// ContainerFile is the default multiplexed container file name.
	ContainerFile = "dataset.mdrc"
)

// =============================================================================
// Telemetry Defaults
// =============================================================================

const (
	// DefaultQueryTimeout bounds telemetry report queries.
	// Override via config: query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMemoryLimit is the DuckDB memory limit for reports.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "1GB"
)
