package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/metadata"
	"github.com/xtxerr/mdr/internal/storage"
	"github.com/xtxerr/mdr/internal/storage/config"
)

// Refactorer turns fields into stored level streams.
type Refactorer[T field.Float] struct {
	w        storage.Writer
	opts     Options
	policy   metadata.Policy
	comps    *components
	observer Observer
}

// NewRefactorer resolves the components named in opts.
func NewRefactorer[T field.Float](w storage.Writer, opts Options) (*Refactorer[T], error) {
	policy := opts.policy(field.KindOf[T]())
	comps, err := newComponents(policy, opts.Compression)
	if err != nil {
		return nil, err
	}
	return &Refactorer[T]{
		w:        w,
		opts:     opts,
		policy:   policy,
		comps:    comps,
		observer: nopObserver{},
	}, nil
}

// SetObserver registers o to receive refactor reports.
func (r *Refactorer[T]) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	r.observer = o
}

// Close releases compressor resources.
func (r *Refactorer[T]) Close() {
	r.comps.close()
}

// Refactor decomposes f into targetLevel+1 levels, encodes each level into
// numBitplanes bitplanes and writes metadata and streams. numBitplanes is
// adjusted to an even count within the element precision; the metadata
// records the effective count.
func (r *Refactorer[T]) Refactor(ctx context.Context, f *field.Field[T], targetLevel, numBitplanes int) (*RefactorReport, error) {
	started := time.Now()
	logger := logging.WithContext(ctx, log)

	if f == nil {
		return nil, mdrerrors.NewConfiguration("field", "nil")
	}
	n, err := field.Count(f.Dims())
	if err != nil {
		return nil, err
	}
	if n != f.Len() {
		return nil, fmt.Errorf("%d elements for dims %v: %w", f.Len(), f.Dims(), mdrerrors.ErrShapeMismatch)
	}
	h, err := decompose.NewHierarchy(f.Dims(), targetLevel)
	if err != nil {
		return nil, err
	}

	element := field.KindOf[T]()
	bitplanes := config.AdjustBitplanes(numBitplanes, element)
	if bitplanes != numBitplanes {
		logger.Debug("bitplane count adjusted", "requested", numBitplanes, "effective", bitplanes)
	}

	data := f.Float64s()
	r.comps.decomposer.Decompose(data, h)
	logger.Debug("decomposed", "dims", f.Dims(), "levels", h.Levels())

	levels := make([]metadata.Level, h.Levels())
	streams := make([][]byte, h.Levels())
	reports := make([]LevelReport, h.Levels())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(r.opts.Workers))
	for l := range levels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lv, stream, rep, err := r.encodeLevel(h, l, data, bitplanes)
			if err != nil {
				return fmt.Errorf("level %d: %w", l, err)
			}
			levels[l], streams[l], reports[l] = lv, stream, rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	md := &metadata.Metadata{Dims: f.Dims(), Policy: r.policy, Levels: levels}
	md.AssignOffsets()
	if err := r.w.Write(ctx, md, streams); err != nil {
		return nil, fmt.Errorf("write refactored field: %w", err)
	}

	report := &RefactorReport{
		Block:     -1,
		Metadata:  md,
		Requested: numBitplanes,
		Bitplanes: bitplanes,
		Levels:    reports,
		Started:   started,
		Duration:  time.Since(started),
	}
	if b, ok := logging.Block(ctx); ok {
		report.Block = b
	}
	for _, lr := range reports {
		report.RawBytes += lr.RawBytes
		report.StoredBytes += lr.StoredBytes
	}

	logger.Info("refactor finalized",
		"dims", md.Dims,
		"levels", len(levels),
		"bitplanes", bitplanes,
		"stored_bytes", report.StoredBytes,
		"ratio", fmt.Sprintf("%.3f", report.Ratio()),
		"duration", report.Duration)

	r.observer.ObserveRefactor(report)
	return report, nil
}

// encodeLevel interleaves, encodes and compresses one level.
func (r *Refactorer[T]) encodeLevel(h *decompose.Hierarchy, level int, data []float64, bitplanes int) (metadata.Level, []byte, LevelReport, error) {
	coeffs := r.comps.interleaver.Flatten(h, level, data)
	chunks, enc, err := r.comps.codec.Encode(coeffs, bitplanes)
	if err != nil {
		return metadata.Level{}, nil, LevelReport{}, err
	}

	lv := metadata.Level{
		Coefficients: uint64(len(coeffs)),
		Exponent:     int32(enc.Exponent),
		Planes:       make([]metadata.Plane, len(chunks)),
	}
	rep := LevelReport{
		Level:        level,
		Coefficients: len(coeffs),
		Bitplanes:    len(chunks),
		Exponent:     enc.Exponent,
	}

	var stream []byte
	for b, chunk := range chunks {
		stored, raw := r.comps.compressor.Compress(chunk)
		lv.Planes[b] = metadata.Plane{
			RawSize:    uint32(len(chunk)),
			StoredSize: uint32(len(stored)),
			Raw:        raw,
		}
		stream = append(stream, stored...)
		rep.RawBytes += int64(len(chunk))
		rep.StoredBytes += int64(len(stored))
		if raw {
			rep.RawPlanes++
		}
	}

	lv.Errors = r.comps.estimator.LevelRow(level, h.ActiveDims(), enc.Errors)
	rep.Floor = lv.Errors[len(lv.Errors)-1]

	stats := estimate.NewLevelStats(level, r.opts.SketchAccuracy)
	stats.AddAll(coeffs)
	rep.Summary = stats.Summary()

	return lv, stream, rep, nil
}

// Refactor is a convenience wrapper that refactors data shaped by dims with
// a throwaway Refactorer.
func Refactor[T field.Float](ctx context.Context, w storage.Writer, data []T, dims []int, targetLevel, numBitplanes int, opts Options) (*RefactorReport, error) {
	f, err := field.FromSlice(data, dims...)
	if err != nil {
		return nil, err
	}
	r, err := NewRefactorer[T](w, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Refactor(ctx, f, targetLevel, numBitplanes)
}
