package decompose

import (
	"fmt"
	"math"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Kind identifies a decomposer in stored metadata.
type Kind uint8

const (
	KindHaar Kind = 1
)

// String returns the policy name.
func (k Kind) String() string {
	switch k {
	case KindHaar:
		return "haar"
	default:
		return fmt.Sprintf("decomposer(%d)", uint8(k))
	}
}

// ParseKind parses a decomposer policy name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "haar", "":
		return KindHaar, nil
	default:
		return 0, fmt.Errorf("decomposer %q: %w", s, mdrerrors.ErrUnknownPolicy)
	}
}

// Decomposer transforms a field into level coefficients and back, in place.
type Decomposer interface {
	Kind() Kind
	Decompose(data []float64, h *Hierarchy)
	Recompose(data []float64, h *Hierarchy)
}

// ForKind returns the decomposer registered for kind.
func ForKind(kind Kind) (Decomposer, error) {
	switch kind {
	case KindHaar:
		return Haar{}, nil
	default:
		return nil, fmt.Errorf("%s: %w", kind, mdrerrors.ErrUnknownPolicy)
	}
}

// Haar is the separable orthonormal Haar transform. Odd-length lines carry
// their last sample into the approximation unchanged.
type Haar struct{}

var invSqrt2 = 1 / math.Sqrt2

// Kind implements Decomposer.
func (Haar) Kind() Kind { return KindHaar }

// Decompose implements Decomposer.
func (Haar) Decompose(data []float64, h *Hierarchy) {
	line := make([]float64, maxDim(h.dims))
	tmp := make([]float64, len(line))
	for l := h.Levels() - 1; l > 0; l-- {
		box := h.boxes[l]
		for d := range box {
			if box[d] > 1 {
				h.eachLine(box, d, data, line[:box[d]], tmp[:box[d]], forwardLine)
			}
		}
	}
}

// Recompose implements Decomposer.
func (Haar) Recompose(data []float64, h *Hierarchy) {
	line := make([]float64, maxDim(h.dims))
	tmp := make([]float64, len(line))
	for l := 1; l < h.Levels(); l++ {
		box := h.boxes[l]
		for d := len(box) - 1; d >= 0; d-- {
			if box[d] > 1 {
				h.eachLine(box, d, data, line[:box[d]], tmp[:box[d]], inverseLine)
			}
		}
	}
}

// eachLine applies fn to every line along dim d inside box.
func (h *Hierarchy) eachLine(box []int, d int, data, line, tmp []float64, fn func(x, tmp []float64)) {
	face := append([]int(nil), box...)
	face[d] = 1
	stride := h.strides[d]
	h.Walk(face, func(base int, _ []int) {
		for i := range line {
			line[i] = data[base+i*stride]
		}
		fn(line, tmp)
		for i := range line {
			data[base+i*stride] = line[i]
		}
	})
}

func forwardLine(x, tmp []float64) {
	n := len(x)
	half := (n + 1) / 2
	for i := 0; i < n/2; i++ {
		a, b := x[2*i], x[2*i+1]
		tmp[i] = (a + b) * invSqrt2
		tmp[half+i] = (a - b) * invSqrt2
	}
	if n%2 == 1 {
		tmp[half-1] = x[n-1]
	}
	copy(x, tmp)
}

func inverseLine(x, tmp []float64) {
	n := len(x)
	half := (n + 1) / 2
	for i := 0; i < n/2; i++ {
		s, d := x[i], x[half+i]
		tmp[2*i] = (s + d) * invSqrt2
		tmp[2*i+1] = (s - d) * invSqrt2
	}
	if n%2 == 1 {
		tmp[n-1] = x[half-1]
	}
	copy(x, tmp)
}

func maxDim(dims []int) int {
	m := 1
	for _, d := range dims {
		if d > m {
			m = d
		}
	}
	return m
}
