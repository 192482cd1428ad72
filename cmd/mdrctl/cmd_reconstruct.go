package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/mdr/internal/blocks"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/metadata"
	"github.com/xtxerr/mdr/internal/storage"
)

type reconstructFlags struct {
	tolerances string
	budget     int64
	planner    string
	fresh      bool
	output     string
	verify     string
}

func (a *app) reconstructCmd() *cobra.Command {
	var fl reconstructFlags

	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Reconstruct a dataset progressively through a sequence of tolerances",
		Long: `Reconstruct refines the stored field through each tolerance in turn and
reports the bytes fetched and time spent per tolerance. By default a single
session is refined incrementally; --fresh opens a new session per tolerance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReconstruct(cmd.Context(), fl)
		},
	}

	f := cmd.Flags()
	f.StringVar(&fl.tolerances, "tolerance", "1e-1,1e-2,1e-3,1e-4", "comma separated error tolerances")
	f.Int64Var(&fl.budget, "budget", 0, "byte budget per block and call, -1 for unlimited (default from config)")
	f.StringVar(&fl.planner, "planner", "", "greedy, roundrobin or inorder (default from config)")
	f.BoolVar(&fl.fresh, "fresh", false, "open a fresh session for every tolerance")
	f.StringVarP(&fl.output, "output", "o", "", "write the last reconstruction to this raw file")
	f.StringVar(&fl.verify, "verify", "", "raw original to measure the actual max error against")
	return cmd
}

func (a *app) runReconstruct(ctx context.Context, fl reconstructFlags) error {
	tolerances, err := parseTolerances(fl.tolerances)
	if err != nil {
		return err
	}
	if fl.budget != 0 {
		a.cfg.Retrieval.Budget = fl.budget
	}
	if fl.planner != "" {
		a.cfg.Retrieval.Planner = fl.planner
	}

	ds, md, err := a.openDataset(ctx)
	if err != nil {
		return err
	}
	defer ds.Close()

	if md.Policy.Element == field.KindFloat32 {
		return reconstructAs[float32](ctx, a, ds, md, tolerances, fl)
	}
	return reconstructAs[float64](ctx, a, ds, md, tolerances, fl)
}

// openDataset opens the dataset and loads the metadata of its first block.
func (a *app) openDataset(ctx context.Context) (*storage.Dataset, *metadata.Metadata, error) {
	ds, err := storage.Open(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	md, err := ds.Reader(0).LoadMetadata(ctx)
	if err != nil {
		ds.Close()
		return nil, nil, err
	}
	return ds, md, nil
}

// fullDims returns the dims of the whole field, whose first dimension is
// split across blocks.
func fullDims(ctx context.Context, ds *storage.Dataset, first *metadata.Metadata) ([]int, error) {
	dims := append([]int(nil), first.Dims...)
	for b := 1; b < ds.Blocks(); b++ {
		md, err := ds.Reader(b).LoadMetadata(ctx)
		if err != nil {
			return nil, mdrerrors.Wrapf(err, "block %d", b)
		}
		dims[0] += md.Dims[0]
	}
	return dims, nil
}

func reconstructAs[T field.Float](ctx context.Context, a *app, ds *storage.Dataset, md *metadata.Metadata, tolerances []float64, fl reconstructFlags) error {
	var original *field.Field[T]
	if fl.verify != "" {
		dims, err := fullDims(ctx, ds, md)
		if err != nil {
			return err
		}
		if original, err = readRaw[T](fl.verify, dims); err != nil {
			return err
		}
	}

	obs, flush, err := a.observer()
	if err != nil {
		return err
	}
	defer func() {
		if err := flush(); err != nil {
			log.Warn("telemetry incomplete", "error", err)
		}
	}()
	opts, err := a.blockOptions(obs)
	if err != nil {
		return err
	}

	var session *blocks.Session[T]
	if !fl.fresh {
		if session, err = blocks.OpenSession[T](ctx, ds, opts); err != nil {
			return err
		}
		defer session.Close()
	}

	printHeader(a, original != nil)
	var last *blocks.Result[T]
	for _, tol := range tolerances {
		var res *blocks.Result[T]
		if fl.fresh {
			res, err = blocks.ReconstructBlocks[T](ctx, ds, tol, a.cfg.Retrieval.Budget, opts)
		} else {
			res, err = session.Reconstruct(ctx, tol, a.cfg.Retrieval.Budget)
		}
		if err != nil {
			return fmt.Errorf("tolerance %g: %w", tol, err)
		}
		printResult(a, tol, res, original)
		last = res
	}

	if fl.output != "" {
		if err := writeRaw(fl.output, last.Field); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %s (%v)\n", fl.output, last.Field.Dims())
	}
	return nil
}

func printHeader(a *app, verify bool) {
	fmt.Fprintf(a.out, "%-10s %12s %12s %12s %-9s %10s", "tolerance", "bytes", "total", "achieved", "satisfied", "time")
	if verify {
		fmt.Fprintf(a.out, " %12s", "actual")
	}
	fmt.Fprintln(a.out)
}

func printResult[T field.Float](a *app, tol float64, res *blocks.Result[T], original *field.Field[T]) {
	fmt.Fprintf(a.out, "%-10g %12d %12d %12.4g %-9t %10v",
		tol, res.Bytes, res.TotalBytes, res.Achieved, res.Satisfied, res.Duration.Round(time.Microsecond))
	if original != nil {
		fmt.Fprintf(a.out, " %12.4g", field.MaxAbsDiff(original, res.Field))
	}
	fmt.Fprintln(a.out)
	ids := make([]int, 0, len(res.Degraded))
	for b := range res.Degraded {
		ids = append(ids, b)
	}
	sort.Ints(ids)
	for _, b := range ids {
		fmt.Fprintf(a.out, "  block %d degraded levels %v\n", b, res.Degraded[b])
	}
}
