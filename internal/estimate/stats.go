package estimate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultSketchAccuracy is the relative accuracy of magnitude quantiles.
const DefaultSketchAccuracy = 0.01

// LevelSummary is a snapshot of LevelStats.
type LevelSummary struct {
	Level int
	Count int64
	Zeros int64
	Max   float64
	RMS   float64

	// Rejected counts magnitudes the sketch could not hold (Inf, NaN)
	Rejected int64

	// Percentiles of |c| (only set if sketching is enabled)
	P50 *float64
	P90 *float64
	P99 *float64
}

// LevelStats maintains running magnitude statistics for one level's
// coefficients. Quantiles use a DDSketch.
type LevelStats struct {
	mu sync.Mutex

	level int
	count int64
	zeros int64
	max   float64
	sumSq float64

	rejected int64

	// nil if disabled
	sketch *ddsketch.DDSketch
}

// NewLevelStats creates statistics for a level. accuracy <= 0 disables quantiles.
func NewLevelStats(level int, accuracy float64) *LevelStats {
	s := &LevelStats{level: level}
	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			s.sketch = sketch
		}
	}
	return s
}

// AddAll adds every coefficient of the level.
func (s *LevelStats) AddAll(coeffs []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range coeffs {
		s.add(math.Abs(c))
	}
}

func (s *LevelStats) add(v float64) {
	s.count++
	s.sumSq += v * v
	if v == 0 {
		s.zeros++
	}
	if v > s.max {
		s.max = v
	}
	if s.sketch != nil {
		if err := s.sketch.Add(v); err != nil {
			s.rejected++
		}
	}
}

// Merge folds another level's statistics into s. other is snapshotted under
// its own lock before s is locked.
func (s *LevelStats) Merge(other *LevelStats) {
	if other == nil || other == s {
		return
	}
	other.mu.Lock()
	count, zeros, sumSq, hi, rejected := other.count, other.zeros, other.sumSq, other.max, other.rejected
	var sketch *ddsketch.DDSketch
	if other.sketch != nil {
		sketch = other.sketch.Copy()
	}
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += count
	s.zeros += zeros
	s.sumSq += sumSq
	s.rejected += rejected
	if hi > s.max {
		s.max = hi
	}
	if s.sketch != nil && sketch != nil {
		if err := s.sketch.MergeWith(sketch); err != nil {
			s.rejected += int64(sketch.GetCount())
		}
	}
}

// Summary returns the current statistics.
func (s *LevelStats) Summary() LevelSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := LevelSummary{
		Level: s.level,
		Count: s.count,
		Zeros: s.zeros,
		Max:   s.max,

		Rejected: s.rejected,
	}
	if s.count > 0 {
		out.RMS = math.Sqrt(s.sumSq / float64(s.count))
	}
	if s.sketch != nil && s.count > 0 {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		out.P50, out.P90, out.P99 = &p50, &p90, &p99
	}
	return out
}
