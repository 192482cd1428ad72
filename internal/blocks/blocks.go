package blocks

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/mdr/config"
	"github.com/xtxerr/mdr/internal/engine"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/storage"
)

var log = logging.Component("blocks")

// Writers hands out the Writer of each block. storage.Dataset implements it.
type Writers interface {
	Writer(b int) storage.Writer
}

// Readers hands out a fresh Reader per block. storage.Dataset implements it.
type Readers interface {
	Blocks() int
	Reader(b int) storage.Reader
}

// Options configure block orchestration.
type Options struct {
	// Workers bounds how many blocks run concurrently.
	Workers     int
	Refactor    engine.Options
	Reconstruct engine.ReconstructOptions
	Observer    engine.Observer
}

// DefaultOptions returns the default engine options with the default
// block worker limit.
func DefaultOptions() Options {
	return Options{
		Workers:     defaults.DefaultBlockWorkers,
		Refactor:    engine.DefaultOptions(),
		Reconstruct: engine.DefaultReconstructOptions(),
	}
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

// RefactorBlocks partitions f into blocks and refactors every block into
// the writer dst hands out for it. Reports are ordered by block.
func RefactorBlocks[T field.Float](ctx context.Context, f *field.Field[T], blocks int, dst Writers, targetLevel, numBitplanes int, opts Options) ([]*engine.RefactorReport, error) {
	slabs, err := Partition(f.Dims(), blocks)
	if err != nil {
		return nil, err
	}
	if err := CheckLevel(slabs, targetLevel); err != nil {
		return nil, err
	}
	parts, err := Split(f, slabs)
	if err != nil {
		return nil, err
	}
	if len(slabs) < blocks {
		log.Warn("fewer blocks than requested", "requested", blocks, "blocks", len(slabs), "rows", f.Dims()[0])
	}

	started := time.Now()
	reports := make([]*engine.RefactorReport, len(slabs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i, s := range slabs {
		g.Go(func() error {
			r, err := engine.NewRefactorer[T](dst.Writer(s.Index), opts.Refactor)
			if err != nil {
				return err
			}
			defer r.Close()
			if opts.Observer != nil {
				r.SetObserver(opts.Observer)
			}
			rep, err := r.Refactor(logging.ContextWithBlock(gctx, s.Index), parts[i], targetLevel, numBitplanes)
			if err != nil {
				return fmt.Errorf("block %d: %w", s.Index, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("blocks refactored", "blocks", len(slabs), "duration", time.Since(started))
	return reports, nil
}

// Result aggregates one progressive call over all blocks.
type Result[T field.Float] struct {
	Field *field.Field[T]
	// Bytes is the number of bytes fetched by this call over all blocks.
	Bytes      int64
	BlockBytes []int64
	TotalBytes int64
	// Achieved combines the block errors in the stored norm.
	Achieved  float64
	Satisfied bool
	// Degraded maps a block to the levels that failed during this call.
	Degraded map[int][]int
	Duration time.Duration
}

// Session is a progressive reconstruction session over every block of a
// dataset.
type Session[T field.Float] struct {
	recs    []*engine.Reconstructor[T]
	norm    estimate.Norm
	workers int
}

// OpenSession loads the metadata of every block.
func OpenSession[T field.Float](ctx context.Context, src Readers, opts Options) (*Session[T], error) {
	n := src.Blocks()
	if n < 1 {
		return nil, fmt.Errorf("dataset has no blocks: %w", mdrerrors.ErrStreamMissing)
	}

	s := &Session[T]{recs: make([]*engine.Reconstructor[T], n), workers: opts.workers()}
	for b := range s.recs {
		rec, err := engine.NewReconstructor[T](src.Reader(b), opts.Reconstruct)
		if err != nil {
			return nil, err
		}
		if opts.Observer != nil {
			rec.SetObserver(opts.Observer)
		}
		s.recs[b] = rec
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for b, rec := range s.recs {
		g.Go(func() error {
			if err := rec.LoadMetadata(logging.ContextWithBlock(gctx, b)); err != nil {
				return fmt.Errorf("block %d: %w", b, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.Close()
		return nil, err
	}
	s.norm = s.recs[0].Metadata().Policy.Norm
	return s, nil
}

// Blocks returns the number of blocks.
func (s *Session[T]) Blocks() int { return len(s.recs) }

// Block returns the reconstructor of block b.
func (s *Session[T]) Block(b int) *engine.Reconstructor[T] { return s.recs[b] }

// Close releases every block session.
func (s *Session[T]) Close() {
	for _, rec := range s.recs {
		if rec != nil {
			rec.Close()
		}
	}
}

// satisfiedSlack absorbs rounding when the block errors are recombined.
const satisfiedSlack = 1e-12

// blockTolerance splits tolerance across blocks so the combined error stays
// within it: the max norm combines by maximum, snorm by root sum of squares.
func (s *Session[T]) blockTolerance(tolerance float64) float64 {
	if s.norm == estimate.NormMax || len(s.recs) < 2 || math.IsInf(tolerance, 1) {
		return tolerance
	}
	return tolerance / math.Sqrt(float64(len(s.recs)))
}

// Reconstruct refines every block to tolerance with at most maxBytes per
// block and stitches the blocks together. Under snorm every block is refined
// to tolerance/sqrt(blocks).
func (s *Session[T]) Reconstruct(ctx context.Context, tolerance float64, maxBytes int64) (*Result[T], error) {
	if err := estimate.ValidateTolerance(tolerance); err != nil {
		return nil, err
	}
	started := time.Now()
	parts := make([]*field.Field[T], len(s.recs))
	blockTol := s.blockTolerance(tolerance)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for b, rec := range s.recs {
		g.Go(func() error {
			f, err := rec.ProgressiveReconstruct(logging.ContextWithBlock(gctx, b), blockTol, maxBytes)
			if err != nil {
				return fmt.Errorf("block %d: %w", b, err)
			}
			parts[b] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := Stitch(parts)
	if err != nil {
		return nil, err
	}

	res := &Result[T]{
		Field:      out,
		BlockBytes: make([]int64, len(s.recs)),
		Satisfied:  true,
		Degraded:   map[int][]int{},
	}
	var sumSq float64
	for b, rec := range s.recs {
		for _, n := range rec.LastRetrieveSizes() {
			res.BlockBytes[b] += n
		}
		res.Bytes += res.BlockBytes[b]
		res.TotalBytes += rec.TotalBytes()
		res.Satisfied = res.Satisfied && rec.Satisfied()
		if d := rec.Degraded(); len(d) > 0 {
			res.Degraded[b] = d
		}

		e := rec.AchievedError()
		if s.norm == estimate.NormMax {
			res.Achieved = math.Max(res.Achieved, e)
		} else {
			sumSq += e * e
		}
	}
	if s.norm != estimate.NormMax {
		res.Achieved = math.Sqrt(sumSq)
	}
	res.Satisfied = res.Satisfied && res.Achieved <= tolerance*(1+satisfiedSlack)
	res.Duration = time.Since(started)

	log.Debug("blocks reconstructed",
		"tolerance", tolerance,
		"block_tolerance", blockTol,
		"bytes", res.Bytes,
		"achieved", res.Achieved,
		"duration", res.Duration)
	return res, nil
}

// ReconstructBlocks runs a single progressive call on a fresh session.
func ReconstructBlocks[T field.Float](ctx context.Context, src Readers, tolerance float64, maxBytes int64, opts Options) (*Result[T], error) {
	s, err := OpenSession[T](ctx, src, opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Reconstruct(ctx, tolerance, maxBytes)
}
