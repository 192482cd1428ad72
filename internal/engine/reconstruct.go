package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/metadata"
	"github.com/xtxerr/mdr/internal/plan"
	"github.com/xtxerr/mdr/internal/storage"
)

// Reconstructor is a progressive reconstruction session over one stored
// field. Each call fetches only the bitplanes it has not seen yet, so the
// reconstruction only ever gets more precise.
//
// A Reconstructor serves one call at a time; overlapping calls fail with
// ErrSessionBusy. Accessors are safe to call concurrently.
type Reconstructor[T field.Float] struct {
	r        storage.Reader
	opts     ReconstructOptions
	planner  plan.Planner
	observer Observer
	id       string
	state    atomic.Int32
	loadMu   sync.Mutex

	// Set once by LoadMetadata.
	md     *metadata.Metadata
	h      *decompose.Hierarchy
	comps  *components
	errors estimate.Table
	sizes  [][]int64

	// Retrieval state, written only while Retrieving.
	mu        sync.RWMutex
	retrieved []int
	partial   [][]float64
	lastSizes []int64
	total     int64
	achieved  float64
	satisfied bool
	degraded  []int
	calls     int
	current   *field.Field[T]
}

// NewReconstructor creates an uninitialized session reading from r.
func NewReconstructor[T field.Float](r storage.Reader, opts ReconstructOptions) (*Reconstructor[T], error) {
	planner, err := plan.New(opts.Planner)
	if err != nil {
		return nil, err
	}
	return &Reconstructor[T]{
		r:        r,
		opts:     opts,
		planner:  planner,
		observer: nopObserver{},
		id:       uuid.NewString(),
	}, nil
}

// SetObserver registers o to receive retrieval reports.
func (r *Reconstructor[T]) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	r.observer = o
}

// SessionID returns the session's unique id.
func (r *Reconstructor[T]) SessionID() string { return r.id }

// Metadata returns the loaded metadata, or nil before LoadMetadata.
func (r *Reconstructor[T]) Metadata() *metadata.Metadata {
	if r.State() == StateUninitialized {
		return nil
	}
	return r.md
}

// Close releases decompressor resources.
func (r *Reconstructor[T]) Close() {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.comps != nil {
		r.comps.close()
	}
}

// LoadMetadata reads and validates the stored metadata. On failure the
// session stays uninitialized.
func (r *Reconstructor[T]) LoadMetadata(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if s := r.State(); s != StateUninitialized {
		return fmt.Errorf("load metadata in state %s: %w", s, mdrerrors.ErrInvalidTransition)
	}

	md, err := r.r.LoadMetadata(ctx)
	if err != nil {
		return err
	}
	h, err := md.Hierarchy()
	if err != nil {
		return mdrerrors.NewCorruption("hierarchy: %v", err)
	}
	comps, err := componentsFor(md)
	if err != nil {
		return err
	}

	r.md, r.h, r.comps = md, h, comps
	r.errors = md.ErrorTable()
	r.sizes = md.Sizes()
	if err := r.transition(StateUninitialized, StateMetadataLoaded); err != nil {
		return err
	}

	logging.WithContext(r.context(ctx), log).Debug("metadata loaded", "metadata", md.String())
	return nil
}

func (r *Reconstructor[T]) context(ctx context.Context) context.Context {
	return logging.ContextWithSessionID(ctx, r.id)
}

// begin enters Retrieving, building the retrieval state on the first call.
func (r *Reconstructor[T]) begin() error {
	from := r.State()
	switch from {
	case StateUninitialized:
		return fmt.Errorf("reconstruct: %w: %w", mdrerrors.ErrInvalidState, mdrerrors.ErrMetadataNotLoaded)
	case StateRetrieving:
		return fmt.Errorf("reconstruct: %w: %w", mdrerrors.ErrInvalidState, mdrerrors.ErrSessionBusy)
	}
	if err := r.transition(from, StateRetrieving); err != nil {
		return err
	}
	if from == StateMetadataLoaded {
		r.initRetrieval()
	}
	return nil
}

func (r *Reconstructor[T]) initRetrieval() {
	r.mu.Lock()
	defer r.mu.Unlock()
	levels := len(r.md.Levels)
	r.retrieved = make([]int, levels)
	r.lastSizes = make([]int64, levels)
	r.partial = make([][]float64, levels)
	for l, lv := range r.md.Levels {
		r.partial[l] = make([]float64, lv.Coefficients)
	}
	r.achieved = r.comps.estimator.Achieved(r.errors.Total(r.retrieved))
}

// ProgressiveReconstruct refines the reconstruction until its estimated
// error is within tolerance or the call has fetched maxBytes
// (config.UnlimitedBudget for no cap). It returns the current reconstruction.
//
// A level whose fetch or decode fails keeps its previous bitplanes for this
// call; AchievedError reflects that. Call Satisfied to learn whether the
// tolerance was met.
func (r *Reconstructor[T]) ProgressiveReconstruct(ctx context.Context, tolerance float64, maxBytes int64) (*field.Field[T], error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.transition(StateRetrieving, StateIdle); err != nil {
			log.Error("leave retrieving", "session", r.id, "error", err)
		}
	}()

	started := time.Now()
	ctx = r.context(ctx)
	logger := logging.WithContext(ctx, log)

	r.mu.RLock()
	retrieved := append([]int(nil), r.retrieved...)
	r.mu.RUnlock()

	p, err := r.planner.Plan(plan.Input{
		Tolerance: tolerance,
		Budget:    maxBytes,
		Estimator: r.comps.estimator,
		Errors:    r.errors,
		Sizes:     r.sizes,
		Retrieved: retrieved,
	})
	if err != nil {
		return nil, err
	}

	levelBytes := make([]int64, len(retrieved))
	var degraded []int
	updates := map[int][]float64{}

	if !p.Empty() {
		logger.Debug("plan committed",
			"requests", len(p.Requests),
			"bytes", p.Bytes,
			"estimated", p.Estimated)

		updates, degraded, err = r.retrieve(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, req := range p.Requests {
			if _, ok := updates[req.Level]; ok {
				retrieved[req.Level] = req.End
				levelBytes[req.Level] = req.Bytes
			}
		}
	}

	var fetched int64
	for _, b := range levelBytes {
		fetched += b
	}
	achieved := r.comps.estimator.Achieved(r.errors.Total(retrieved))
	satisfied := r.errors.Total(retrieved) <= r.comps.estimator.Threshold(tolerance)

	r.mu.Lock()
	for l, buf := range updates {
		r.partial[l] = buf
	}
	r.retrieved = retrieved
	r.lastSizes = levelBytes
	r.total += fetched
	r.achieved = achieved
	r.satisfied = satisfied
	r.degraded = degraded
	r.calls++
	call := r.calls
	if len(updates) > 0 || r.current == nil {
		r.current, err = r.assemble()
	}
	current := r.current
	total := r.total
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	report := &RetrieveReport{
		Session:      r.id,
		Block:        -1,
		Call:         call,
		Planner:      r.planner.Policy().String(),
		Tolerance:    tolerance,
		Budget:       maxBytes,
		Requests:     len(p.Requests),
		PlannedBytes: p.Bytes,
		Bytes:        fetched,
		LevelBytes:   append([]int64(nil), levelBytes...),
		TotalBytes:   total,
		Retrieved:    append([]int(nil), retrieved...),
		Degraded:     degraded,
		Achieved:     achieved,
		Satisfied:    satisfied,
		Started:      started,
		Duration:     time.Since(started),
	}
	if b, ok := logging.Block(ctx); ok {
		report.Block = b
	}

	logger.Info("reconstruction refined",
		"call", call,
		"tolerance", tolerance,
		"bytes", fetched,
		"total_bytes", total,
		"achieved", achieved,
		"satisfied", satisfied)

	r.observer.ObserveRetrieve(report)
	return current, nil
}

// retrieve fetches the plan's ranges and decodes them into copies of the
// affected partial buffers. Levels that fail are returned in degraded.
func (r *Reconstructor[T]) retrieve(ctx context.Context, p plan.Plan) (map[int][]float64, []int, error) {
	ranges := make([]storage.Range, len(p.Requests))
	for i, req := range p.Requests {
		ranges[i] = storage.LevelRequest(r.md, req.Level, req.Start, req.End)
	}
	results, err := r.r.Fetch(ctx, ranges)
	if err != nil {
		return nil, nil, err
	}
	if len(results) != len(ranges) {
		return nil, nil, fmt.Errorf("fetch returned %d results for %d ranges: %w", len(results), len(ranges), mdrerrors.ErrRetrievalIO)
	}

	bufs := make([][]float64, len(p.Requests))
	errs := make([]error, len(p.Requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(r.opts.Workers))
	for i, req := range p.Requests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bufs[i], errs[i] = r.decodeLevel(req, results[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	logger := logging.WithContext(ctx, log)
	updates := make(map[int][]float64, len(p.Requests))
	var degraded []int
	for i, req := range p.Requests {
		if errs[i] != nil {
			logger.Warn("level degraded",
				"level", req.Level,
				"bitplanes", fmt.Sprintf("%d..%d", req.Start, req.End),
				"error", errs[i])
			degraded = append(degraded, req.Level)
			continue
		}
		updates[req.Level] = bufs[i]
	}
	return updates, degraded, nil
}

// decodeLevel decompresses the chunks of one request and decodes them into
// a copy of the level's partial coefficients.
func (r *Reconstructor[T]) decodeLevel(req plan.Request, res storage.Result) ([]float64, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	lv := r.md.Levels[req.Level]
	_, want := lv.Range(req.Start, req.End)
	if int64(len(res.Data)) != want {
		return nil, mdrerrors.NewRetrieval(req.Level,
			fmt.Errorf("%d bytes, want %d: %w", len(res.Data), want, mdrerrors.ErrStreamTruncated))
	}

	chunks := make([][]byte, 0, req.End-req.Start)
	var off int64
	for b := req.Start; b < req.End; b++ {
		pl := lv.Planes[b]
		stored := res.Data[off : off+int64(pl.StoredSize)]
		off += int64(pl.StoredSize)
		chunk, err := r.comps.compressor.DecompressWith(r.md.Policy.Compression, stored, pl.Raw, int(pl.RawSize))
		if err != nil {
			return nil, mdrerrors.NewRetrieval(req.Level, fmt.Errorf("bitplane %d: %w", b, err))
		}
		chunks = append(chunks, chunk)
	}

	r.mu.RLock()
	buf := append([]float64(nil), r.partial[req.Level]...)
	r.mu.RUnlock()
	if err := r.comps.codec.DecodeIncremental(buf, lv.Params(), req.Start, chunks); err != nil {
		return nil, mdrerrors.NewRetrieval(req.Level, err)
	}
	return buf, nil
}

// assemble recomposes the partial coefficients into a field. r.mu is held.
func (r *Reconstructor[T]) assemble() (*field.Field[T], error) {
	data := make([]float64, r.h.Len())
	for l, buf := range r.partial {
		r.comps.interleaver.Unflatten(r.h, l, buf, data)
	}
	r.comps.decomposer.Recompose(data, r.h)
	return field.FromFloat64s[T](data, r.md.Dims)
}

// LastRetrieveSizes returns the bytes fetched per level by the last call.
func (r *Reconstructor[T]) LastRetrieveSizes() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.lastSizes...)
}

// Retrieved returns the number of bitplanes held per level.
func (r *Reconstructor[T]) Retrieved() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.retrieved...)
}

// TotalBytes returns the bytes fetched over the whole session.
func (r *Reconstructor[T]) TotalBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// AchievedError returns the estimated error of the current reconstruction.
func (r *Reconstructor[T]) AchievedError() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.achieved
}

// Satisfied reports whether the last call met its tolerance.
func (r *Reconstructor[T]) Satisfied() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.satisfied
}

// Degraded returns the levels that failed during the last call.
func (r *Reconstructor[T]) Degraded() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.degraded...)
}

// Current returns the current reconstruction, or nil before the first call.
func (r *Reconstructor[T]) Current() *field.Field[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
