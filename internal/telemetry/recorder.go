package telemetry

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/xtxerr/mdr/internal/engine"
	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/storage/config"
)

var log = logging.Component("telemetry")

// File name prefixes.
const (
	LevelsPrefix     = "levels"
	RetrievalsPrefix = "retrievals"
)

// Recorder is an engine.Observer that writes every report it sees to
// Parquet files in one directory. Files are created on the first report of
// their kind.
type Recorder struct {
	dir  string
	run  string
	opts Options

	mu         sync.Mutex
	levels     *Writer[LevelRow]
	retrievals *Writer[RetrieveRow]
	errs       []error
	closed     bool
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder returns a recorder writing into dir.
func NewRecorder(dir string, opts Options) *Recorder {
	return &Recorder{dir: dir, run: uuid.NewString(), opts: opts}
}

// NewRecorderFromConfig returns a recorder for cfg's telemetry section, or
// nil when telemetry is disabled.
func NewRecorderFromConfig(cfg *config.Config) *Recorder {
	if !cfg.Telemetry.Enabled {
		return nil
	}
	opts := DefaultOptions()
	opts.Compression = ParseCompressionType(cfg.Telemetry.Compression)
	return NewRecorder(cfg.TelemetryDir(), opts)
}

// Run returns the run id stamped on every row.
func (r *Recorder) Run() string { return r.run }

// Dir returns the output directory.
func (r *Recorder) Dir() string { return r.dir }

// ObserveRefactor implements engine.Observer.
func (r *Recorder) ObserveRefactor(rep *engine.RefactorReport) {
	rows := LevelRows(r.run, rep)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.levels == nil {
		w, err := NewWriter[LevelRow](r.path(LevelsPrefix), r.opts)
		if err != nil {
			r.fail(err)
			return
		}
		r.levels = w
	}
	if err := r.levels.Write(rows); err != nil {
		r.fail(err)
	}
}

// ObserveRetrieve implements engine.Observer.
func (r *Recorder) ObserveRetrieve(rep *engine.RetrieveReport) {
	row := RetrieveToRow(r.run, rep)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.retrievals == nil {
		w, err := NewWriter[RetrieveRow](r.path(RetrievalsPrefix), r.opts)
		if err != nil {
			r.fail(err)
			return
		}
		r.retrievals = w
	}
	if err := r.retrievals.Write([]RetrieveRow{row}); err != nil {
		r.fail(err)
	}
}

// Close finalizes the files and returns every error met while recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if r.levels != nil {
		if err := r.levels.Close(); err != nil {
			r.errs = append(r.errs, err)
		}
	}
	if r.retrievals != nil {
		if err := r.retrievals.Close(); err != nil {
			r.errs = append(r.errs, err)
		}
	}
	if len(r.errs) == 0 {
		log.Debug("telemetry closed", "dir", r.dir, "run", r.run)
	}
	return errors.Join(r.errs...)
}

func (r *Recorder) path(prefix string) string {
	return filepath.Join(r.dir, prefix+"_"+r.run+".parquet")
}

func (r *Recorder) fail(err error) {
	if len(r.errs) == 0 {
		log.Warn("telemetry write failed", "dir", r.dir, "error", err)
	}
	r.errs = append(r.errs, err)
}
