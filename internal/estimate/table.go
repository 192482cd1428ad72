package estimate

import (
	"fmt"

	"github.com/xtxerr/mdr/internal/bitplane"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Table holds, for each level, the contribution with 0..B bitplanes decoded.
// Every row is non-increasing and ends at the full-precision contribution.
type Table [][]float64

// LevelRow builds one monotone row from measured prefix errors. A suffix
// maximum keeps every entry an upper bound of the measured contribution.
func (e Estimator) LevelRow(level, activeDims int, errs []bitplane.PrefixError) []float64 {
	row := make([]float64, len(errs))
	for k, pe := range errs {
		row[k] = e.Contribution(level, activeDims, pe)
	}
	for k := len(row) - 2; k >= 0; k-- {
		if row[k] < row[k+1] {
			row[k] = row[k+1]
		}
	}
	return row
}

// Estimate returns the contribution of level with k bitplanes decoded.
func (t Table) Estimate(level, k int) float64 {
	row := t[level]
	if k >= len(row) {
		return row[len(row)-1]
	}
	return row[k]
}

// Total sums the contributions of all levels at the given retrieved counts.
func (t Table) Total(retrieved []int) float64 {
	var sum float64
	for l := range t {
		sum += t.Estimate(l, retrieved[l])
	}
	return sum
}

// Floor is the smallest reachable total, with every bitplane decoded.
func (t Table) Floor() float64 {
	var sum float64
	for _, row := range t {
		sum += row[len(row)-1]
	}
	return sum
}

// Validate checks shape and monotonicity against the bitplane counts.
func (t Table) Validate(bitplanes []int) error {
	if len(t) != len(bitplanes) {
		return fmt.Errorf("table has %d levels, want %d: %w", len(t), len(bitplanes), mdrerrors.ErrMetadataCorruption)
	}
	for l, row := range t {
		if len(row) != bitplanes[l]+1 {
			return fmt.Errorf("level %d: %d entries for %d bitplanes: %w", l, len(row), bitplanes[l], mdrerrors.ErrMetadataCorruption)
		}
		for k := 1; k < len(row); k++ {
			if row[k] > row[k-1] {
				return fmt.Errorf("level %d: error increases at bitplane %d: %w", l, k, mdrerrors.ErrMetadataCorruption)
			}
		}
	}
	return nil
}
