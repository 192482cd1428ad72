// Package estimate turns measured per-level coefficient errors into additive
// contributions to a global error bound.
//
// The total estimated error of a retrieval state is the sum over levels of
// Table[level][retrieved[level]], interpreted through the norm's threshold
// and achieved transforms.
package estimate

import (
	"fmt"
	"math"

	"github.com/xtxerr/mdr/internal/bitplane"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Norm identifies an error norm in stored metadata.
type Norm uint8

const (
	// NormMax bounds the max-abs (L-infinity) error of the reconstruction.
	NormMax Norm = 1
	// NormSNorm bounds a level-weighted L2 error; with s = 0 it is the L2 error.
	NormSNorm Norm = 2
)

// String returns the norm name.
func (n Norm) String() string {
	switch n {
	case NormMax:
		return "max"
	case NormSNorm:
		return "snorm"
	default:
		return fmt.Sprintf("norm(%d)", uint8(n))
	}
}

// ParseNorm parses a norm name.
func ParseNorm(s string) (Norm, error) {
	switch s {
	case "max", "":
		return NormMax, nil
	case "snorm", "l2":
		return NormSNorm, nil
	default:
		return 0, fmt.Errorf("norm %q: %w", s, mdrerrors.ErrUnknownPolicy)
	}
}

// Estimator maps per-level prefix errors to additive contributions.
type Estimator struct {
	Norm Norm
	S    float64
}

// New returns an Estimator for norm with level exponent s.
func New(norm Norm, s float64) (Estimator, error) {
	switch norm {
	case NormMax, NormSNorm:
	default:
		return Estimator{}, fmt.Errorf("%s: %w", norm, mdrerrors.ErrUnknownPolicy)
	}
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return Estimator{}, mdrerrors.NewConfiguration("estimator.s", "must be finite")
	}
	return Estimator{Norm: norm, S: s}, nil
}

// String returns a short description, e.g. "snorm(s=0.5)".
func (e Estimator) String() string {
	if e.Norm == NormSNorm {
		return fmt.Sprintf("snorm(s=%g)", e.S)
	}
	return e.Norm.String()
}

// Contribution returns the error a level contributes to the global bound.
// activeDims is the number of dimensions longer than one.
func (e Estimator) Contribution(level, activeDims int, pe bitplane.PrefixError) float64 {
	switch e.Norm {
	case NormSNorm:
		return math.Exp2(2*e.S*float64(level)) * pe.SumSquares
	default:
		// Each orthonormal Haar synthesis step along one dimension scales a
		// coefficient's pointwise influence by at most sqrt(2).
		return math.Exp2(float64(activeDims)/2) * pe.MaxAbs
	}
}

// Threshold converts a tolerance into the value the summed contributions
// are compared against.
func (e Estimator) Threshold(tolerance float64) float64 {
	if e.Norm == NormSNorm {
		return tolerance * tolerance
	}
	return tolerance
}

// Achieved converts summed contributions back into the norm's unit.
func (e Estimator) Achieved(total float64) float64 {
	if e.Norm == NormSNorm {
		return math.Sqrt(total)
	}
	return total
}

// ValidateTolerance rejects tolerances the planner cannot compare against.
func ValidateTolerance(tolerance float64) error {
	if math.IsNaN(tolerance) || tolerance < 0 {
		return fmt.Errorf("tolerance %g: %w", tolerance, mdrerrors.ErrInvalidTolerance)
	}
	return nil
}
