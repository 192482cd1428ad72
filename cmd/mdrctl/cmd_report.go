package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/mdr/internal/telemetry/query"
)

func (a *app) reportCmd() *cobra.Command {
	var sql string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recorded telemetry",
		Long: `Report summarizes the parquet telemetry written by refactor and reconstruct
runs made with --telemetry. --sql runs an arbitrary DuckDB query; the views
levels and retrievals cover the recorded files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReport(cmd.Context(), sql)
		},
	}
	cmd.Flags().StringVar(&sql, "sql", "", "run a DuckDB query instead of the summaries")
	return cmd
}

func (a *app) runReport(ctx context.Context, sql string) error {
	svc, err := query.New(a.cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if sql != "" {
		rows, err := svc.ExecuteSQL(ctx, sql)
		if err != nil {
			return err
		}
		printRows(a, rows)
		return nil
	}

	levels, err := svc.Levels(ctx)
	if err != nil {
		return err
	}
	tolerances, err := svc.Tolerances(ctx)
	if err != nil {
		return err
	}
	if levels == nil && tolerances == nil {
		fmt.Fprintf(a.out, "no telemetry in %s\n", svc.Dir())
		return nil
	}

	if len(levels) > 0 {
		fmt.Fprintf(a.out, "%-5s %8s %14s %14s %8s %12s\n", "level", "blocks", "raw", "stored", "ratio", "floor")
		for _, l := range levels {
			fmt.Fprintf(a.out, "%-5d %8d %14d %14d %8.3f %12.4g\n",
				l.Level, l.Blocks, l.RawBytes, l.StoredBytes, l.Ratio, l.MaxFloor)
		}
		fmt.Fprintln(a.out)
	}
	if len(tolerances) > 0 {
		fmt.Fprintf(a.out, "%-10s %6s %8s %14s %12s %-9s %8s %12s\n",
			"tolerance", "calls", "sessions", "mean bytes", "max error", "satisfied", "degraded", "mean time")
		for _, t := range tolerances {
			fmt.Fprintf(a.out, "%-10g %6d %8d %14.1f %12.4g %-9t %8d %12v\n",
				t.Tolerance, t.Calls, t.Sessions, t.Bytes, t.MaxAchieved, t.Satisfied, t.Degraded,
				query.Elapsed(t.MeanMicros).Round(time.Microsecond))
		}
	}
	return nil
}

func printRows(a *app, rows []map[string]interface{}) {
	if len(rows) == 0 {
		fmt.Fprintln(a.out, "(no rows)")
		return
	}
	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(a.out, "\t")
		}
		fmt.Fprint(a.out, c)
	}
	fmt.Fprintln(a.out)
	for _, r := range rows {
		for i, c := range cols {
			if i > 0 {
				fmt.Fprint(a.out, "\t")
			}
			fmt.Fprint(a.out, r[c])
		}
		fmt.Fprintln(a.out)
	}
}
