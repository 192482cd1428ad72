// Package query summarizes recorded telemetry with DuckDB.
//
// DuckDB reads the Parquet files written by the telemetry package directly
// through read_parquet, so no import step is needed.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/mdr/internal/logging"
	"github.com/xtxerr/mdr/internal/storage/config"
	"github.com/xtxerr/mdr/internal/telemetry"
)

var log = logging.Component("query")

// Service runs summaries over a telemetry directory.
type Service struct {
	mu sync.RWMutex

	config *config.Config
	dir    string
	db     *sql.DB

	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// ToleranceSummary aggregates the retrieval calls made at one tolerance.
type ToleranceSummary struct {
	Tolerance float64
	Calls     int64
	Sessions  int64
	// Bytes is the mean number of bytes one block fetched in one call.
	Bytes       float64
	MaxAchieved float64
	Satisfied   bool
	Degraded    int64
	MeanMicros  float64
}

// LevelSummary aggregates the encoded levels of all refactor calls.
type LevelSummary struct {
	Level       int
	Blocks      int64
	RawBytes    int64
	StoredBytes int64
	Ratio       float64
	MaxFloor    float64
}

// New opens an in-memory DuckDB for the telemetry directory of cfg.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		config: cfg,
		dir:    cfg.TelemetryDir(),
		db:     db,
	}, nil
}

// Close closes the database.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Dir returns the telemetry directory queried.
func (s *Service) Dir() string { return s.dir }

// Tolerances summarizes retrievals per tolerance, loosest first. It returns
// nil when nothing was recorded.
func (s *Service) Tolerances(ctx context.Context) ([]ToleranceSummary, error) {
	pattern, ok := s.pattern(telemetry.RetrievalsPrefix)
	if !ok {
		return nil, nil
	}

	query := `
		SELECT
			tolerance,
			count(*) AS calls,
			count(DISTINCT session) AS sessions,
			avg(bytes) AS bytes,
			max(achieved) AS max_achieved,
			bool_and(satisfied) AS satisfied,
			sum(degraded_levels)::BIGINT AS degraded,
			avg(duration_us) AS mean_us
		FROM read_parquet($1)
		GROUP BY tolerance
		ORDER BY tolerance DESC
	`

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query retrievals: %w", err)
	}
	defer rows.Close()

	var out []ToleranceSummary
	for rows.Next() {
		var t ToleranceSummary
		if err := rows.Scan(&t.Tolerance, &t.Calls, &t.Sessions, &t.Bytes,
			&t.MaxAchieved, &t.Satisfied, &t.Degraded, &t.MeanMicros); err != nil {
			s.stats.Errors++
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, t)
	}
	s.record(len(out))
	return out, rows.Err()
}

// Levels summarizes the encoded levels, coarsest level last.
func (s *Service) Levels(ctx context.Context) ([]LevelSummary, error) {
	pattern, ok := s.pattern(telemetry.LevelsPrefix)
	if !ok {
		return nil, nil
	}

	query := `
		SELECT
			level,
			count(*) AS blocks,
			sum(raw_bytes)::BIGINT AS raw_bytes,
			sum(stored_bytes)::BIGINT AS stored_bytes,
			max(floor) AS max_floor
		FROM read_parquet($1)
		GROUP BY level
		ORDER BY level
	`

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()

	var out []LevelSummary
	for rows.Next() {
		var l LevelSummary
		if err := rows.Scan(&l.Level, &l.Blocks, &l.RawBytes, &l.StoredBytes, &l.MaxFloor); err != nil {
			s.stats.Errors++
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if l.RawBytes > 0 {
			l.Ratio = float64(l.StoredBytes) / float64(l.RawBytes)
		}
		out = append(out, l)
	}
	s.record(len(out))
	return out, rows.Err()
}

// ExecuteSQL executes a raw SQL query. The views levels and retrievals are
// defined over the recorded files when they exist.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.defineViews(ctx); err != nil {
		s.stats.Errors++
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		if max := s.config.Query.MaxRows; max > 0 && len(results) >= max {
			log.Warn("result truncated", "max_rows", max)
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.record(len(results))
	return results, rows.Err()
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Service) defineViews(ctx context.Context) error {
	for name, prefix := range map[string]string{
		"levels":     telemetry.LevelsPrefix,
		"retrievals": telemetry.RetrievalsPrefix,
	} {
		pattern, ok := s.pattern(prefix)
		if !ok {
			continue
		}
		stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet('%s')", name, pattern)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create view %s: %w", name, err)
		}
	}
	return nil
}

// pattern returns the glob for one file kind, and false when no file
// matches it.
func (s *Service) pattern(prefix string) (string, bool) {
	pattern := filepath.Join(s.dir, prefix+"_*.parquet")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return pattern, true
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Query.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Query.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) record(rows int) {
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(rows)
}

// Elapsed converts a microsecond mean to a duration.
func Elapsed(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}
