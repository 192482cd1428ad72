package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	defaults "github.com/xtxerr/mdr/config"
	"github.com/xtxerr/mdr/internal/blocks"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/metadata"
	"github.com/xtxerr/mdr/internal/storage"
)

var replSuggestions = []prompt.Suggest{
	{Text: "tol", Description: "refine to a tolerance: tol <value>"},
	{Text: "budget", Description: "set the byte budget per block and call, -1 for unlimited"},
	{Text: "status", Description: "show retrieved bitplanes and bytes per block"},
	{Text: "levels", Description: "show the stored levels of block 0"},
	{Text: "save", Description: "write the current reconstruction: save <path>"},
	{Text: "help", Description: "list commands"},
	{Text: "exit", Description: "leave the session"},
}

// replSession is one interactive progressive session. Lines are handled by
// execute so the session can be driven without a terminal.
type replSession interface {
	execute(ctx context.Context, line string) (exit bool)
	close()
}

func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Refine a dataset interactively, one tolerance at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.openRepl(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			fmt.Fprintln(a.out, `progressive session open; "help" lists commands`)
			var done bool
			p := prompt.New(
				func(line string) { done = s.execute(ctx, line) },
				func(d prompt.Document) []prompt.Suggest {
					if strings.Contains(d.TextBeforeCursor(), " ") {
						return nil
					}
					return prompt.FilterHasPrefix(replSuggestions, d.GetWordBeforeCursor(), true)
				},
				prompt.OptionPrefix("mdr> "),
				prompt.OptionTitle("mdrctl repl"),
				prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return done }),
			)
			p.Run()
			return nil
		},
	}
}

func (a *app) openRepl(ctx context.Context) (replSession, error) {
	ds, md, err := a.openDataset(ctx)
	if err != nil {
		return nil, err
	}
	if md.Policy.Element == field.KindFloat32 {
		return newRepl[float32](ctx, a, ds, md)
	}
	return newRepl[float64](ctx, a, ds, md)
}

type repl[T field.Float] struct {
	a       *app
	ds      *storage.Dataset
	md      *metadata.Metadata
	session *blocks.Session[T]
	flush   func() error
	budget  int64
	last    *blocks.Result[T]
}

func newRepl[T field.Float](ctx context.Context, a *app, ds *storage.Dataset, md *metadata.Metadata) (*repl[T], error) {
	obs, flush, err := a.observer()
	if err != nil {
		ds.Close()
		return nil, err
	}
	opts, err := a.blockOptions(obs)
	if err != nil {
		ds.Close()
		flush()
		return nil, err
	}
	session, err := blocks.OpenSession[T](ctx, ds, opts)
	if err != nil {
		ds.Close()
		flush()
		return nil, err
	}
	return &repl[T]{
		a:       a,
		ds:      ds,
		md:      md,
		session: session,
		flush:   flush,
		budget:  a.cfg.Retrieval.Budget,
	}, nil
}

func (r *repl[T]) close() {
	r.session.Close()
	r.ds.Close()
	if err := r.flush(); err != nil {
		log.Warn("telemetry incomplete", "error", err)
	}
}

func (r *repl[T]) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	out := r.a.out

	cmd, args := fields[0], fields[1:]
	// A bare number is a tolerance.
	if _, err := strconv.ParseFloat(cmd, 64); err == nil {
		cmd, args = "tol", fields
	}

	var err error
	switch cmd {
	case "exit", "quit":
		return true
	case "help":
		for _, s := range replSuggestions {
			fmt.Fprintf(out, "  %-7s %s\n", s.Text, s.Description)
		}
	case "tol":
		err = r.refine(ctx, args)
	case "budget":
		err = r.setBudget(args)
	case "status":
		r.status()
	case "levels":
		printLevels(r.a, r.md, false)
	case "save":
		err = r.save(args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func (r *repl[T]) refine(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tol <value>")
	}
	tolerances, err := parseTolerances(args[0])
	if err != nil {
		return err
	}
	res, err := r.session.Reconstruct(ctx, tolerances[0], r.budget)
	if err != nil {
		return err
	}
	r.last = res
	printHeader(r.a, false)
	printResult(r.a, tolerances[0], res, nil)
	return nil
}

func (r *repl[T]) setBudget(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: budget <bytes>")
	}
	b, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || b < defaults.UnlimitedBudget {
		return fmt.Errorf("budget %q: %w", args[0], mdrerrors.ErrInvalidBudget)
	}
	r.budget = b
	fmt.Fprintf(r.a.out, "budget %d\n", b)
	return nil
}

func (r *repl[T]) status() {
	out := r.a.out
	fmt.Fprintf(out, "budget %d\n", r.budget)
	for b := 0; b < r.session.Blocks(); b++ {
		rec := r.session.Block(b)
		fmt.Fprintf(out, "  block %d: planes %v bytes %d achieved %.4g satisfied %t\n",
			b, rec.Retrieved(), rec.TotalBytes(), rec.AchievedError(), rec.Satisfied())
	}
}

func (r *repl[T]) save(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: save <path>")
	}
	if r.last == nil {
		return fmt.Errorf("nothing reconstructed yet")
	}
	if err := writeRaw(args[0], r.last.Field); err != nil {
		return err
	}
	fmt.Fprintf(r.a.out, "wrote %s (%v)\n", args[0], r.last.Field.Dims())
	return nil
}
