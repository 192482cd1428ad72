package query

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/mdr/internal/storage/config"
	"github.com/xtxerr/mdr/internal/telemetry"
)

func newService(t *testing.T) (*Service, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc, cfg
}

func writeRows[R telemetry.Row](t *testing.T, dir, prefix, run string, rows []R) {
	t.Helper()
	w, err := telemetry.NewWriter[R](filepath.Join(dir, fmt.Sprintf("%s_%s.parquet", prefix, run)), telemetry.DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Write(rows); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestService_New(t *testing.T) {
	svc, cfg := newService(t)
	if svc.Dir() != cfg.TelemetryDir() {
		t.Errorf("dir = %q", svc.Dir())
	}
}

func TestService_ExecuteSQL(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	results, err := svc.ExecuteSQL(ctx, "SELECT 1 AS value")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	if _, err := svc.ExecuteSQL(ctx, "SELECT * FROM no_such_table"); err == nil {
		t.Error("expected error")
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 1 {
		t.Errorf("expected 1 query executed, got %d", stats.QueriesExecuted)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
}

func TestService_MaxRows(t *testing.T) {
	svc, cfg := newService(t)
	cfg.Query.MaxRows = 5

	results, err := svc.ExecuteSQL(context.Background(), "SELECT * FROM range(100)")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("expected 5 rows, got %d", len(results))
	}
}

func TestService_Empty(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tol, err := svc.Tolerances(ctx)
	if err != nil || tol != nil {
		t.Errorf("Tolerances = %v, %v", tol, err)
	}
	levels, err := svc.Levels(ctx)
	if err != nil || levels != nil {
		t.Errorf("Levels = %v, %v", levels, err)
	}
}

func TestService_Summaries(t *testing.T) {
	svc, cfg := newService(t)
	ctx := context.Background()
	dir := cfg.TelemetryDir()
	now := time.Now().UnixMilli()

	writeRows(t, dir, telemetry.RetrievalsPrefix, "a", []telemetry.RetrieveRow{
		{Run: "a", Session: "s0", Block: 0, Call: 1, Tolerance: 1e-1, Bytes: 100, Achieved: 0.05, Satisfied: true, DurationUs: 10, TimestampMs: now},
		{Run: "a", Session: "s1", Block: 1, Call: 1, Tolerance: 1e-1, Bytes: 300, Achieved: 0.08, Satisfied: true, DurationUs: 30, TimestampMs: now},
		{Run: "a", Session: "s0", Block: 0, Call: 2, Tolerance: 1e-3, Bytes: 500, Achieved: 0.01, Degraded: "2", DegradedN: 1, DurationUs: 50, TimestampMs: now},
	})
	writeRows(t, dir, telemetry.RetrievalsPrefix, "b", []telemetry.RetrieveRow{
		{Run: "b", Session: "s2", Block: 0, Call: 1, Tolerance: 1e-3, Bytes: 700, Achieved: 0.0009, Satisfied: true, DurationUs: 70, TimestampMs: now},
	})
	writeRows(t, dir, telemetry.LevelsPrefix, "a", []telemetry.LevelRow{
		{Run: "a", Block: 0, Level: 0, RawBytes: 100, StoredBytes: 50, Floor: 1e-9},
		{Run: "a", Block: 1, Level: 0, RawBytes: 100, StoredBytes: 30, Floor: 2e-9},
		{Run: "a", Block: 0, Level: 1, RawBytes: 400, StoredBytes: 400},
	})

	tol, err := svc.Tolerances(ctx)
	if err != nil {
		t.Fatalf("Tolerances: %v", err)
	}
	if len(tol) != 2 {
		t.Fatalf("expected 2 tolerances, got %d", len(tol))
	}
	loose, tight := tol[0], tol[1]
	if loose.Tolerance != 1e-1 || loose.Calls != 2 || loose.Sessions != 2 || loose.Bytes != 200 {
		t.Errorf("loose = %+v", loose)
	}
	if !loose.Satisfied || loose.MaxAchieved != 0.08 || loose.Degraded != 0 {
		t.Errorf("loose = %+v", loose)
	}
	if tight.Tolerance != 1e-3 || tight.Calls != 2 || tight.Bytes != 600 || tight.Satisfied || tight.Degraded != 1 {
		t.Errorf("tight = %+v", tight)
	}
	if got := Elapsed(tight.MeanMicros); got != 60*time.Microsecond {
		t.Errorf("mean = %v", got)
	}

	levels, err := svc.Levels(ctx)
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if l := levels[0]; l.Level != 0 || l.Blocks != 2 || l.RawBytes != 200 || l.StoredBytes != 80 || l.Ratio != 0.4 || l.MaxFloor != 2e-9 {
		t.Errorf("level 0 = %+v", l)
	}
	if l := levels[1]; l.Ratio != 1 {
		t.Errorf("level 1 = %+v", l)
	}

	rows, err := svc.ExecuteSQL(ctx, "SELECT count(*) AS n FROM retrievals WHERE NOT satisfied")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if n, ok := rows[0]["n"].(int64); !ok || n != 1 {
		t.Errorf("n = %#v", rows[0]["n"])
	}
}
