package config

import (
	"fmt"

	defaults "github.com/xtxerr/mdr/config"
	"github.com/xtxerr/mdr/internal/decompose"
	"github.com/xtxerr/mdr/internal/field"
)

// Requirements represents calculated resource requirements of one refactor.
type Requirements struct {
	// Shape
	Elements  int64
	Levels    int
	Bitplanes int

	// Memory requirements
	FieldBytes        int64
	CoefficientBytes  int64
	LevelBufferBytes  int64
	QueryCacheBytes   int64
	PeakRefactorBytes int64

	// Storage requirements
	MetadataBytes     int64
	MaxStreamBytes    int64
	TotalStorageBytes int64
}

// Constants for calculations
const (
	// Coefficients are held as float64 during refactor.
	bytesPerCoefficient = 8

	// Fixed metadata header: ndims, nlevels, policy ids, block, s, crc.
	metadataHeaderBytes = 1 + 1 + 3 + 4 + 3 + 8 + 4

	// Per level header: coefficients, exponent, bitplane count.
	metadataLevelBytes = 8 + 4 + 1

	// Per bitplane: offset, raw size, stored size, flags, error entry.
	metadataPlaneBytes = 8 + 4 + 4 + 1 + 8
)

// CalculateRequirements computes the resources needed to refactor a field
// of the given shape with this configuration. Storage is the uncompressed
// upper bound; sign-magnitude streams may add one sign bit per coefficient.
func (c *Config) CalculateRequirements(dims []int, element field.Kind) (Requirements, error) {
	n, err := field.Count(dims)
	if err != nil {
		return Requirements{}, err
	}
	h, err := decompose.NewHierarchy(dims, c.Refactor.TargetLevel)
	if err != nil {
		return Requirements{}, err
	}

	r := Requirements{
		Elements:  int64(n),
		Levels:    h.Levels(),
		Bitplanes: AdjustBitplanes(c.Refactor.Bitplanes, element),
	}

	// -------------------------------------------------------------------------
	// Memory Requirements
	// -------------------------------------------------------------------------

	r.FieldBytes = r.Elements * int64(element)
	r.CoefficientBytes = r.Elements * bytesPerCoefficient

	// Concurrent levels each hold a flattened copy plus their chunks.
	workers := c.Refactor.Workers
	if workers > h.Levels() {
		workers = h.Levels()
	}
	sizes := h.LevelSizes()
	largest := int64(0)
	for _, s := range sizes {
		if int64(s) > largest {
			largest = int64(s)
		}
	}
	perLevel := largest*bytesPerCoefficient + int64(r.Bitplanes)*((largest+7)/8)
	r.LevelBufferBytes = int64(workers) * perLevel

	r.QueryCacheBytes = ParseMemoryLimit(c.Query.MemoryLimit)
	r.PeakRefactorBytes = r.FieldBytes + r.CoefficientBytes + r.LevelBufferBytes

	// -------------------------------------------------------------------------
	// Storage Requirements
	// -------------------------------------------------------------------------

	r.MetadataBytes = int64(metadataHeaderBytes + 4*len(dims))
	for _, s := range sizes {
		r.MetadataBytes += metadataLevelBytes + 8 + int64(r.Bitplanes)*metadataPlaneBytes
		stream := int64(r.Bitplanes) * ((int64(s) + 7) / 8)
		r.TotalStorageBytes += stream
		if stream > r.MaxStreamBytes {
			r.MaxStreamBytes = stream
		}
	}
	r.TotalStorageBytes += r.MetadataBytes

	return r, nil
}

// AdjustBitplanes applies the bitplane policy: non-positive counts become
// the minimum, odd counts round up, and counts above the element precision
// are clamped.
func AdjustBitplanes(requested int, element field.Kind) int {
	b := requested
	if b <= 0 {
		b = defaults.MinBitplanes
	}
	if b%2 != 0 {
		b++
	}
	limit := defaults.MaxBitplanesFloat64
	if element == field.KindFloat32 {
		limit = defaults.MaxBitplanesFloat32
	}
	if b > limit {
		b = limit
	}
	return b
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Shape:
  Elements:          %s
  Levels:            %d
  Bitplanes/level:   %d

Memory:
  Field:             %s
  Coefficients:      %s
  Level Buffers:     %s
  Query Cache:       %s
  Peak Refactor:     %s

Storage (uncompressed bound):
  Metadata:          %s
  Largest Stream:    %s
  Total Storage:     %s
`,
		formatNumber(r.Elements),
		r.Levels,
		r.Bitplanes,
		formatBytes(r.FieldBytes),
		formatBytes(r.CoefficientBytes),
		formatBytes(r.LevelBufferBytes),
		formatBytes(r.QueryCacheBytes),
		formatBytes(r.PeakRefactorBytes),
		formatBytes(r.MetadataBytes),
		formatBytes(r.MaxStreamBytes),
		formatBytes(r.TotalStorageBytes),
	)
}

// ParseMemoryLimit parses a memory limit string like "2GB" into bytes.
// It returns 0 for strings it cannot parse.
func ParseMemoryLimit(s string) int64 {
	if s == "" {
		return 0
	}

	var value int64
	var unit string
	for i, c := range s {
		if c < '0' || c > '9' {
			if _, err := fmt.Sscanf(s[:i], "%d", &value); err != nil {
				return 0
			}
			unit = s[i:]
			break
		}
	}
	if unit == "" {
		if _, err := fmt.Sscanf(s, "%d", &value); err != nil {
			return 0
		}
	}

	switch unit {
	case "B", "b", "":
		return value
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	case "TB", "tb", "T", "t":
		return value * 1024 * 1024 * 1024 * 1024
	default:
		return 0
	}
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	return fmt.Sprintf("%.1fB", float64(n)/1000000000)
}
