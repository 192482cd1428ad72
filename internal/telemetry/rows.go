package telemetry

import (
	"strconv"
	"strings"

	"github.com/xtxerr/mdr/internal/engine"
)

// LevelRow is one encoded level of one refactor call.
type LevelRow struct {
	Run          string   `parquet:"run,zstd"`
	Block        int32    `parquet:"block"`
	Dims         string   `parquet:"dims,zstd"`
	Element      string   `parquet:"element,zstd"`
	Codec        string   `parquet:"codec,zstd"`
	Compression  string   `parquet:"compression,zstd"`
	Level        int32    `parquet:"level"`
	Coefficients int64    `parquet:"coefficients"`
	Bitplanes    int32    `parquet:"bitplanes"`
	Exponent     int32    `parquet:"exponent"`
	RawBytes     int64    `parquet:"raw_bytes"`
	StoredBytes  int64    `parquet:"stored_bytes"`
	RawPlanes    int32    `parquet:"raw_planes"`
	Floor        float64  `parquet:"floor"`
	Zeros        int64    `parquet:"zeros"`
	Max          float64  `parquet:"max"`
	RMS          float64  `parquet:"rms"`
	P50          *float64 `parquet:"p50,optional"`
	P90          *float64 `parquet:"p90,optional"`
	P99          *float64 `parquet:"p99,optional"`
	DurationUs   int64    `parquet:"duration_us"`
	TimestampMs  int64    `parquet:"timestamp_ms"`
}

// RetrieveRow is one progressive call on one block.
type RetrieveRow struct {
	Run          string  `parquet:"run,zstd"`
	Session      string  `parquet:"session,zstd"`
	Block        int32   `parquet:"block"`
	Call         int32   `parquet:"call"`
	Planner      string  `parquet:"planner,zstd"`
	Tolerance    float64 `parquet:"tolerance"`
	Budget       int64   `parquet:"budget"`
	Requests     int32   `parquet:"requests"`
	PlannedBytes int64   `parquet:"planned_bytes"`
	Bytes        int64   `parquet:"bytes"`
	TotalBytes   int64   `parquet:"total_bytes"`
	Retrieved    string  `parquet:"retrieved,zstd"`
	Degraded     string  `parquet:"degraded,optional,zstd"`
	DegradedN    int32   `parquet:"degraded_levels"`
	Achieved     float64 `parquet:"achieved"`
	Satisfied    bool    `parquet:"satisfied"`
	DurationUs   int64   `parquet:"duration_us"`
	TimestampMs  int64   `parquet:"timestamp_ms"`
}

// LevelRows converts a refactor report to one row per level.
func LevelRows(run string, r *engine.RefactorReport) []LevelRow {
	var dims, element, codec, compression string
	if md := r.Metadata; md != nil {
		dims = joinInts(md.Dims)
		element = md.Policy.Element.String()
		codec = md.Policy.Codec.String()
		compression = md.Policy.Compression.String()
	}

	rows := make([]LevelRow, len(r.Levels))
	for i, l := range r.Levels {
		rows[i] = LevelRow{
			Run:          run,
			Block:        int32(r.Block),
			Dims:         dims,
			Element:      element,
			Codec:        codec,
			Compression:  compression,
			Level:        int32(l.Level),
			Coefficients: int64(l.Coefficients),
			Bitplanes:    int32(l.Bitplanes),
			Exponent:     int32(l.Exponent),
			RawBytes:     l.RawBytes,
			StoredBytes:  l.StoredBytes,
			RawPlanes:    int32(l.RawPlanes),
			Floor:        l.Floor,
			Zeros:        l.Summary.Zeros,
			Max:          l.Summary.Max,
			RMS:          l.Summary.RMS,
			P50:          l.Summary.P50,
			P90:          l.Summary.P90,
			P99:          l.Summary.P99,
			DurationUs:   r.Duration.Microseconds(),
			TimestampMs:  r.Started.UnixMilli(),
		}
	}
	return rows
}

// RetrieveToRow converts a retrieval report to a row.
func RetrieveToRow(run string, r *engine.RetrieveReport) RetrieveRow {
	return RetrieveRow{
		Run:          run,
		Session:      r.Session,
		Block:        int32(r.Block),
		Call:         int32(r.Call),
		Planner:      r.Planner,
		Tolerance:    r.Tolerance,
		Budget:       r.Budget,
		Requests:     int32(r.Requests),
		PlannedBytes: r.PlannedBytes,
		Bytes:        r.Bytes,
		TotalBytes:   r.TotalBytes,
		Retrieved:    joinInts(r.Retrieved),
		Degraded:     joinInts(r.Degraded),
		DegradedN:    int32(len(r.Degraded)),
		Achieved:     r.Achieved,
		Satisfied:    r.Satisfied,
		DurationUs:   r.Duration.Microseconds(),
		TimestampMs:  r.Started.UnixMilli(),
	}
}

// ParseInts parses the comma separated lists stored in Dims, Retrieved and
// Degraded.
func ParseInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func joinInts(v []int) string {
	var b strings.Builder
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(x))
	}
	return b.String()
}
