package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/mdr/internal/engine"
	"github.com/xtxerr/mdr/internal/storage"
	"github.com/xtxerr/mdr/internal/storage/config"
	"github.com/xtxerr/mdr/internal/testutil"
)

func TestWriterBasic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "retrievals_x.parquet")

	w, err := NewWriter[RetrieveRow](path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	rows := []RetrieveRow{
		{Run: "r", Session: "s", Block: 0, Call: 1, Tolerance: 1e-3, Bytes: 128, Retrieved: "2,1,0", Satisfied: true},
		{Run: "r", Session: "s", Block: 0, Call: 2, Tolerance: 1e-5, Bytes: 64, Retrieved: "4,3,1", Degraded: "1", DegradedN: 1},
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(nil); err != nil {
		t.Fatalf("Write(nil): %v", err)
	}
	if got := w.RowCount(); got != 2 {
		t.Errorf("RowCount = %d, want 2", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := w.Write(rows); err != ErrWriterClosed {
		t.Errorf("Write after Close = %v, want ErrWriterClosed", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("file should not be empty")
	}

	r, err := NewReader[RetrieveRow](path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if r.NumRows() != 2 {
		t.Fatalf("NumRows = %d", r.NumRows())
	}
	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got[1].Degraded != "1" || got[1].Call != 2 || got[0].Retrieved != "2,1,0" {
		t.Errorf("rows = %+v", got)
	}
	if got[0].Degraded != "" {
		t.Errorf("empty optional column read back as %q", got[0].Degraded)
	}
}

func TestCompressionTypes(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"none", CompressionNone},
		{"unknown", CompressionZstd},
	}
	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4} {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "levels_x.parquet")
			w, err := NewWriter[LevelRow](path, Options{Compression: ct})
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			p50 := 0.5
			if err := w.Write([]LevelRow{{Run: "r", Level: 1, StoredBytes: 10, P50: &p50}, {Run: "r", Level: 0}}); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			rows, err := ReadDir[LevelRow](filepath.Dir(path), LevelsPrefix)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			if len(rows) != 2 {
				t.Fatalf("got %d rows", len(rows))
			}
			if rows[0].P50 == nil || *rows[0].P50 != 0.5 {
				t.Errorf("p50 = %v", rows[0].P50)
			}
			if rows[1].P50 != nil {
				t.Errorf("missing p50 read back as %v", *rows[1].P50)
			}
		})
	}
}

func TestParseInts(t *testing.T) {
	got, err := ParseInts(joinInts([]int{12, 0, 3}))
	if err != nil {
		t.Fatalf("ParseInts: %v", err)
	}
	if len(got) != 3 || got[0] != 12 || got[1] != 0 || got[2] != 3 {
		t.Errorf("ParseInts = %v", got)
	}
	if got, _ := ParseInts(""); got != nil {
		t.Errorf("empty = %v", got)
	}
	if _, err := ParseInts("1,x"); err == nil {
		t.Error("expected error")
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rec := NewRecorder(dir, DefaultOptions())

	mem := storage.NewMemory()
	ref, err := engine.NewRefactorer[float64](mem, engine.DefaultOptions())
	if err != nil {
		t.Fatalf("NewRefactorer: %v", err)
	}
	defer ref.Close()
	ref.SetObserver(rec)
	rep, err := ref.Refactor(ctx, testutil.SmoothField[float64](3, 16, 16), 2, 32)
	if err != nil {
		t.Fatalf("Refactor: %v", err)
	}

	r, err := engine.NewReconstructor[float64](mem, engine.DefaultReconstructOptions())
	if err != nil {
		t.Fatalf("NewReconstructor: %v", err)
	}
	defer r.Close()
	r.SetObserver(rec)
	if err := r.LoadMetadata(ctx); err != nil {
		t.Fatalf("LoadMetadata: %v", err)
	}
	tolerances := []float64{1e-1, 1e-3}
	for _, tol := range tolerances {
		if _, err := r.ProgressiveReconstruct(ctx, tol, -1); err != nil {
			t.Fatalf("ProgressiveReconstruct(%g): %v", tol, err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reports after Close are dropped.
	rec.ObserveRetrieve(&engine.RetrieveReport{Started: time.Now()})

	levels, err := ReadDir[LevelRow](dir, LevelsPrefix)
	if err != nil {
		t.Fatalf("ReadDir levels: %v", err)
	}
	if len(levels) != len(rep.Levels) {
		t.Fatalf("got %d level rows, want %d", len(levels), len(rep.Levels))
	}
	var stored int64
	for _, l := range levels {
		if l.Run != rec.Run() {
			t.Errorf("run = %q, want %q", l.Run, rec.Run())
		}
		if l.Dims != "16,16" {
			t.Errorf("dims = %q", l.Dims)
		}
		stored += l.StoredBytes
	}
	if stored != rep.StoredBytes {
		t.Errorf("stored bytes = %d, want %d", stored, rep.StoredBytes)
	}

	retrievals, err := ReadDir[RetrieveRow](dir, RetrievalsPrefix)
	if err != nil {
		t.Fatalf("ReadDir retrievals: %v", err)
	}
	if len(retrievals) != len(tolerances) {
		t.Fatalf("got %d retrieval rows", len(retrievals))
	}
	for i, row := range retrievals {
		if row.Tolerance != tolerances[i] || row.Call != int32(i+1) {
			t.Errorf("row %d = %+v", i, row)
		}
		if row.Session != r.SessionID() {
			t.Errorf("session = %q", row.Session)
		}
		if !row.Satisfied || row.DegradedN != 0 {
			t.Errorf("row %d not satisfied: %+v", i, row)
		}
	}
	if retrievals[1].TotalBytes != r.TotalBytes() {
		t.Errorf("total bytes = %d, want %d", retrievals[1].TotalBytes, r.TotalBytes())
	}
}

func TestRecorderFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	if rec := NewRecorderFromConfig(cfg); rec != nil {
		t.Fatal("disabled telemetry should return nil")
	}

	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Compression = "snappy"
	rec := NewRecorderFromConfig(cfg)
	if rec == nil {
		t.Fatal("expected recorder")
	}
	if rec.Dir() != cfg.TelemetryDir() {
		t.Errorf("dir = %q", rec.Dir())
	}
	if rec.opts.Compression != CompressionSnappy {
		t.Errorf("compression = %v", rec.opts.Compression)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(cfg.TelemetryDir()); !os.IsNotExist(err) {
		t.Errorf("idle recorder created %s", cfg.TelemetryDir())
	}
}
