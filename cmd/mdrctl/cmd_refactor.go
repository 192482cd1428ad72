package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/mdr/internal/blocks"
	"github.com/xtxerr/mdr/internal/engine"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/storage"
)

type refactorFlags struct {
	dims      string
	element   string
	level     int
	bitplanes int
	blocks    int
	container bool
	dryRun    bool
}

func (a *app) refactorCmd() *cobra.Command {
	var fl refactorFlags

	cmd := &cobra.Command{
		Use:   "refactor <input.raw>",
		Short: "Refactor a raw little-endian array into a progressive dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRefactor(cmd, args[0], fl)
		},
	}

	f := cmd.Flags()
	f.StringVar(&fl.dims, "dims", "", "array dimensions, slowest first (e.g. 512,512,512)")
	f.StringVarP(&fl.element, "type", "t", "float32", "element type: float32 or float64")
	f.IntVar(&fl.level, "level", -1, "decomposition steps (default from config)")
	f.IntVar(&fl.bitplanes, "bitplanes", -1, "bitplanes per level (default from config)")
	f.IntVar(&fl.blocks, "blocks", 0, "number of blocks along the first dimension (default from config)")
	f.BoolVar(&fl.container, "container", false, "store all blocks in a single container file")
	f.BoolVar(&fl.dryRun, "dry-run", false, "print resource requirements and exit")
	cmd.MarkFlagRequired("dims")
	return cmd
}

func (a *app) runRefactor(cmd *cobra.Command, input string, fl refactorFlags) error {
	v := mdrerrors.NewValidationErrors()
	dims, err := parseDims(fl.dims)
	v.Add(err)
	kind, err := field.ParseKind(fl.element)
	v.Add(err)
	if err := v.Err(); err != nil {
		return err
	}

	if fl.level >= 0 {
		a.cfg.Refactor.TargetLevel = fl.level
	}
	if fl.bitplanes >= 0 {
		a.cfg.Refactor.Bitplanes = fl.bitplanes
	}
	if fl.blocks > 0 {
		a.cfg.Layout.Blocks = fl.blocks
	}
	if fl.container {
		a.cfg.Layout.Container = true
	}

	if fl.dryRun {
		req, err := a.cfg.CalculateRequirements(dims, kind)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, req.FormatRequirements())
		return nil
	}

	if kind == field.KindFloat32 {
		return refactorAs[float32](cmd.Context(), a, input, dims)
	}
	return refactorAs[float64](cmd.Context(), a, input, dims)
}

func refactorAs[T field.Float](ctx context.Context, a *app, input string, dims []int) error {
	f, err := readRaw[T](input, dims)
	if err != nil {
		return err
	}

	obs, flush, err := a.observer()
	if err != nil {
		return err
	}
	opts, err := a.blockOptions(obs)
	if err != nil {
		flush()
		return err
	}

	ds, err := storage.Create(a.cfg)
	if err != nil {
		flush()
		return err
	}

	started := time.Now()
	reports, err := blocks.RefactorBlocks(ctx, f, a.cfg.Layout.Blocks, ds, a.cfg.Refactor.TargetLevel, a.cfg.Refactor.Bitplanes, opts)
	if err != nil {
		ds.Close()
		flush()
		return err
	}
	if err := ds.Close(); err != nil {
		flush()
		return err
	}
	if err := flush(); err != nil {
		log.Warn("telemetry incomplete", "error", err)
	}

	printRefactor(a, reports, time.Since(started))
	return nil
}

func printRefactor(a *app, reports []*engine.RefactorReport, elapsed time.Duration) {
	var raw, stored int64
	for _, r := range reports {
		raw += r.RawBytes
		stored += r.StoredBytes
	}
	first := reports[0]

	fmt.Fprintf(a.out, "dataset:   %s\n", a.cfg.DataDir)
	fmt.Fprintf(a.out, "blocks:    %d\n", len(reports))
	fmt.Fprintf(a.out, "levels:    %d\n", len(first.Levels))
	if first.Bitplanes != first.Requested {
		fmt.Fprintf(a.out, "bitplanes: %d (requested %d)\n", first.Bitplanes, first.Requested)
	} else {
		fmt.Fprintf(a.out, "bitplanes: %d\n", first.Bitplanes)
	}
	ratio := 1.0
	if raw > 0 {
		ratio = float64(stored) / float64(raw)
	}
	fmt.Fprintf(a.out, "stored:    %s of %s (%.3f)\n", formatBytes(stored), formatBytes(raw), ratio)
	fmt.Fprintf(a.out, "elapsed:   %v\n", elapsed.Round(time.Millisecond))
}
