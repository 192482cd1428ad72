// Package engine runs the refactor and progressive reconstruction pipelines
// of one field (or one block of a field).
//
// A Refactorer decomposes a field, encodes every level into bitplanes,
// compresses the chunks, builds the error tables and hands the result to a
// storage.Writer. A Reconstructor loads the metadata back and, call after
// call, fetches only the bitplanes the planner asks for, refining a cached
// reconstruction in place.
package engine

import (
	defaults "github.com/xtxerr/mdr/config"
	"github.com/xtxerr/mdr/internal/bitplane"
	"github.com/xtxerr/mdr/internal/compress"
	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/interleave"
	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/metadata"
	"github.com/xtxerr/mdr/internal/plan"
	"github.com/xtxerr/mdr/internal/storage/config"
)

var log = logging.Component("engine")

// Options select the components a field is refactored with.
type Options struct {
	Decomposer      decompose.Kind
	Interleaver     interleave.Kind
	InterleaveBlock int
	Codec           bitplane.Kind
	Compression     compress.Options
	Norm            estimate.Norm
	S               float64

	// Workers bounds how many levels are encoded concurrently.
	Workers int

	// SketchAccuracy enables magnitude quantiles in reports when positive.
	SketchAccuracy float64
}

// DefaultOptions returns the default refactor components.
func DefaultOptions() Options {
	return Options{
		Decomposer:      decompose.KindHaar,
		Interleaver:     interleave.KindDirect,
		InterleaveBlock: defaults.DefaultInterleaveBlock,
		Codec:           bitplane.KindNegabinary,
		Compression:     compress.DefaultOptions(),
		Norm:            estimate.NormMax,
		Workers:         defaults.DefaultRefactorWorkers,
		SketchAccuracy:  estimate.DefaultSketchAccuracy,
	}
}

// OptionsFromConfig resolves the refactor options named in cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := DefaultOptions()

	var err error
	if opts.Decomposer, err = decompose.ParseKind(cfg.Refactor.Decomposer); err != nil {
		return opts, err
	}
	if opts.Interleaver, err = interleave.ParseKind(cfg.Refactor.Interleaver); err != nil {
		return opts, err
	}
	if opts.Codec, err = bitplane.ParseKind(cfg.Refactor.Codec); err != nil {
		return opts, err
	}
	if opts.Compression.Algorithm, err = compress.ParseAlgorithm(cfg.Compression.Algorithm); err != nil {
		return opts, err
	}
	if opts.Norm, err = estimate.ParseNorm(cfg.Estimator.Norm); err != nil {
		return opts, err
	}

	opts.InterleaveBlock = cfg.Refactor.InterleaveBlock
	opts.Compression.Level = cfg.Compression.Level
	opts.Compression.MinSavings = cfg.Compression.MinSavings
	opts.S = cfg.Estimator.S
	opts.Workers = cfg.Refactor.Workers
	opts.SketchAccuracy = 0
	if cfg.Estimator.Percentile.Enabled {
		opts.SketchAccuracy = cfg.Estimator.Percentile.Accuracy
	}
	return opts, nil
}

// policy returns the metadata identifiers for a field of the given element.
func (o Options) policy(element field.Kind) metadata.Policy {
	block := 0
	if o.Interleaver == interleave.KindBlock {
		block = o.InterleaveBlock
	}
	return metadata.Policy{
		Element:         element,
		Decomposer:      o.Decomposer,
		Interleaver:     o.Interleaver,
		InterleaveBlock: uint32(max(block, 0)),
		Codec:           o.Codec,
		Compression:     o.Compression.Algorithm,
		Norm:            o.Norm,
		S:               o.S,
	}
}

// ReconstructOptions configure a Reconstructor.
type ReconstructOptions struct {
	Planner plan.Policy
	// Workers bounds how many levels are decoded concurrently.
	Workers int
}

// DefaultReconstructOptions returns the greedy planner with default workers.
func DefaultReconstructOptions() ReconstructOptions {
	return ReconstructOptions{
		Planner: plan.PolicyGreedy,
		Workers: defaults.DefaultRefactorWorkers,
	}
}

// ReconstructOptionsFromConfig resolves the retrieval options named in cfg.
func ReconstructOptionsFromConfig(cfg *config.Config) (ReconstructOptions, error) {
	policy, err := plan.ParsePolicy(cfg.Retrieval.Planner)
	if err != nil {
		return ReconstructOptions{}, err
	}
	return ReconstructOptions{Planner: policy, Workers: cfg.Retrieval.Workers}, nil
}

// components are the strategies named by a metadata.Policy.
type components struct {
	decomposer  decompose.Decomposer
	interleaver interleave.Interleaver
	codec       bitplane.Codec
	compressor  *compress.Adaptive
	estimator   estimate.Estimator
}

func newComponents(p metadata.Policy, copts compress.Options) (*components, error) {
	c := &components{}
	var err error
	if c.decomposer, err = decompose.ForKind(p.Decomposer); err != nil {
		return nil, err
	}
	if c.interleaver, err = interleave.New(p.Interleaver, int(p.InterleaveBlock)); err != nil {
		return nil, err
	}
	if c.codec, err = bitplane.ForKind(p.Codec); err != nil {
		return nil, err
	}
	if c.estimator, err = estimate.New(p.Norm, p.S); err != nil {
		return nil, err
	}
	copts.Algorithm = p.Compression
	if c.compressor, err = compress.New(copts); err != nil {
		return nil, err
	}
	return c, nil
}

// componentsFor resolves the components a stored field was written with.
func componentsFor(md *metadata.Metadata) (*components, error) {
	copts := compress.DefaultOptions()
	copts.MinSavings = 0
	c, err := newComponents(md.Policy, copts)
	if err != nil {
		return nil, mdrerrors.NewCorruption("resolve stored policy: %v", err)
	}
	return c, nil
}

func (c *components) close() {
	c.compressor.Close()
}

func workers(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
