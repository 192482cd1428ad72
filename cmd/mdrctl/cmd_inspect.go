package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/metadata"
)

func (a *app) inspectCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the stored metadata of every block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInspect(cmd.Context(), verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every bitplane")
	return cmd
}

func (a *app) runInspect(ctx context.Context, verbose bool) error {
	ds, _, err := a.openDataset(ctx)
	if err != nil {
		return err
	}
	defer ds.Close()

	layout := "level files"
	if ds.IsContainer() {
		layout = "container"
	}
	fmt.Fprintf(a.out, "dataset: %s (%s, %d blocks)\n", ds.Root(), layout, ds.Blocks())

	for b := 0; b < ds.Blocks(); b++ {
		md, err := ds.Reader(b).LoadMetadata(ctx)
		if err != nil {
			return mdrerrors.Wrapf(err, "block %d", b)
		}
		fmt.Fprintf(a.out, "\nblock %d: %s\n", b, md)
		printLevels(a, md, verbose)
	}

	if ds.IsContainer() {
		streams, err := ds.Container().Streams(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "\nstreams:\n")
		for _, s := range streams {
			fmt.Fprintf(a.out, "  block %d level %d: offset %d length %d\n", s.Block, s.Level, s.Offset, s.Length)
		}
	}
	return nil
}

func printLevels(a *app, md *metadata.Metadata, verbose bool) {
	fmt.Fprintf(a.out, "  %-5s %12s %8s %9s %12s %4s %12s %12s\n",
		"level", "coeffs", "exponent", "bitplanes", "stored", "raw", "max error", "floor")
	for l, lv := range md.Levels {
		raw := 0
		for _, p := range lv.Planes {
			if p.Raw {
				raw++
			}
		}
		fmt.Fprintf(a.out, "  %-5d %12d %8d %9d %12d %4d %12.4g %12.4g\n",
			l, lv.Coefficients, lv.Exponent, lv.Bitplanes(), lv.StreamSize(), raw,
			lv.Errors[0], lv.Errors[len(lv.Errors)-1])

		if !verbose {
			continue
		}
		for i, p := range lv.Planes {
			fmt.Fprintf(a.out, "    plane %2d: offset %8d raw %8d stored %8d uncompressed %-5t error %.4g\n",
				i, p.Offset, p.RawSize, p.StoredSize, p.Raw, lv.Errors[i+1])
		}
	}
}
