// mdrctl refactors raw arrays into progressive datasets and reconstructs
// them to a requested error tolerance.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xtxerr/mdr/internal/blocks"
	"github.com/xtxerr/mdr/internal/engine"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/metrics"
	"github.com/xtxerr/mdr/internal/storage/config"
	"github.com/xtxerr/mdr/internal/telemetry"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("mdrctl")

// app holds the state shared by all subcommands.
type app struct {
	cfgPath     string
	dataDir     string
	logLevel    string
	logFormat   string
	telemetry   bool
	metricsAddr string

	cfg     *config.Config
	out     io.Writer
	metrics *metrics.Observer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "mdrctl",
		Short: "Refactor arrays into progressive datasets and reconstruct them to a tolerance",
		Long: `mdrctl stores a floating-point array as a coefficient hierarchy cut into
bitplanes, and reconstructs it progressively: every call fetches only the
bitplanes needed to reach the requested error bound.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", "", "config file path")
	pf.StringVarP(&a.dataDir, "data-dir", "d", "", "dataset directory (overrides config)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	pf.StringVar(&a.logFormat, "log-format", "", "text, json or auto (overrides config)")
	pf.BoolVar(&a.telemetry, "telemetry", false, "record parquet telemetry (overrides config)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		a.refactorCmd(),
		a.reconstructCmd(),
		a.inspectCmd(),
		a.reportCmd(),
		a.replCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg := config.DefaultConfig()
	if a.cfgPath != "" {
		loaded, err := config.Load(a.cfgPath)
		if err != nil {
			return mdrerrors.Wrap(err, a.cfgPath)
		}
		cfg = loaded
	}

	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if a.telemetry {
		cfg.Telemetry.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), jsonLogs(cfg.Logging.Format))
	a.cfg = cfg
	return nil
}

// jsonLogs resolves the auto format: text on a terminal, JSON otherwise.
func jsonLogs(format string) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !term.IsTerminal(int(os.Stderr.Fd()))
	}
}

// observer returns the observers enabled for this run and a function that
// flushes them. The observer is nil when none is enabled.
func (a *app) observer() (engine.Observer, func() error, error) {
	var obs engine.Observers
	flush := func() error { return nil }

	if rec := telemetry.NewRecorderFromConfig(a.cfg); rec != nil {
		obs = append(obs, rec)
		flush = rec.Close
		log.Debug("telemetry enabled", "dir", rec.Dir(), "run", rec.Run())
	}
	if a.metricsAddr != "" {
		m, err := a.serveMetrics()
		if err != nil {
			return nil, flush, err
		}
		obs = append(obs, m)
	}

	if len(obs) == 0 {
		return nil, flush, nil
	}
	return obs, flush, nil
}

func (a *app) serveMetrics() (*metrics.Observer, error) {
	if a.metrics != nil {
		return a.metrics, nil
	}
	ln, err := net.Listen("tcp", a.metricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	reg := prometheus.NewRegistry()
	a.metrics = metrics.New(reg)
	go func() {
		if err := http.Serve(ln, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})); err != nil {
			log.Warn("metrics server stopped", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())
	return a.metrics, nil
}

// blockOptions resolves the engine options named in the config.
func (a *app) blockOptions(obs engine.Observer) (blocks.Options, error) {
	refactor, err := engine.OptionsFromConfig(a.cfg)
	if err != nil {
		return blocks.Options{}, err
	}
	reconstruct, err := engine.ReconstructOptionsFromConfig(a.cfg)
	if err != nil {
		return blocks.Options{}, err
	}
	return blocks.Options{
		Workers:     a.cfg.Layout.Workers,
		Refactor:    refactor,
		Reconstruct: reconstruct,
		Observer:    obs,
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()

	if err != nil {
		code := mdrerrors.ErrorToCode(err)
		fmt.Fprintf(os.Stderr, "mdrctl: %v (%s)\n", err, mdrerrors.CodeName(code))
		os.Exit(code)
	}
}
