// Package decompose holds the multiresolution transform used by the codec.
//
// Coefficients stay in place: after decomposition the coarsest approximation
// occupies the leading corner box of the array and every finer level owns the
// shell between its box and the next coarser one. Level l therefore consists
// of the indices inside Box(l) that are not inside Box(l-1).
package decompose

import (
	"fmt"
	"math/bits"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
)

// Hierarchy describes the nested level boxes of a decomposed array.
type Hierarchy struct {
	dims    []int
	strides []int
	boxes   [][]int
	sizes   []int
}

// MaxLevel returns the largest target level dims support. Every dimension
// longer than one must still hold at least two samples at the coarsest level.
func MaxLevel(dims []int) int {
	maxLevel := -1
	for _, d := range dims {
		if d <= 1 {
			continue
		}
		l := bits.Len(uint(d)) - 1
		if maxLevel < 0 || l < maxLevel {
			maxLevel = l
		}
	}
	if maxLevel < 0 {
		return 0
	}
	return maxLevel
}

// NewHierarchy builds the level boxes for targetLevel decomposition steps.
// The hierarchy has targetLevel+1 levels.
func NewHierarchy(dims []int, targetLevel int) (*Hierarchy, error) {
	if _, err := field.Count(dims); err != nil {
		return nil, err
	}
	if targetLevel < 0 {
		return nil, fmt.Errorf("target level %d is negative: %w", targetLevel, mdrerrors.ErrInvalidLevel)
	}
	if limit := MaxLevel(dims); targetLevel > limit {
		return nil, fmt.Errorf("target level %d, dims %v allow %d: %w", targetLevel, dims, limit, mdrerrors.ErrInvalidLevel)
	}
	if targetLevel > 254 {
		return nil, fmt.Errorf("target level %d exceeds 254: %w", targetLevel, mdrerrors.ErrInvalidLevel)
	}

	levels := targetLevel + 1
	h := &Hierarchy{
		dims:    append([]int(nil), dims...),
		strides: make([]int, len(dims)),
		boxes:   make([][]int, levels),
		sizes:   make([]int, levels),
	}

	stride := 1
	for d := len(dims) - 1; d >= 0; d-- {
		h.strides[d] = stride
		stride *= dims[d]
	}

	h.boxes[levels-1] = append([]int(nil), dims...)
	for l := levels - 1; l > 0; l-- {
		coarse := make([]int, len(dims))
		for d, n := range h.boxes[l] {
			coarse[d] = (n + 1) / 2
		}
		h.boxes[l-1] = coarse
	}

	prev := 0
	for l, box := range h.boxes {
		n := product(box)
		h.sizes[l] = n - prev
		prev = n
	}

	return h, nil
}

// Levels returns the number of levels.
func (h *Hierarchy) Levels() int { return len(h.boxes) }

// Dims returns the array dimensions.
func (h *Hierarchy) Dims() []int { return append([]int(nil), h.dims...) }

// Len returns the total coefficient count.
func (h *Hierarchy) Len() int { return product(h.dims) }

// Box returns the extent of the level box.
func (h *Hierarchy) Box(level int) []int { return append([]int(nil), h.boxes[level]...) }

// LevelSize returns the number of coefficients owned by level.
func (h *Hierarchy) LevelSize(level int) int { return h.sizes[level] }

// LevelSizes returns the coefficient count of every level.
func (h *Hierarchy) LevelSizes() []int { return append([]int(nil), h.sizes...) }

// ActiveDims returns the number of dimensions longer than one.
func (h *Hierarchy) ActiveDims() int {
	n := 0
	for _, d := range h.dims {
		if d > 1 {
			n++
		}
	}
	return n
}

// LevelIndices returns the flat offsets owned by level in row-major order.
func (h *Hierarchy) LevelIndices(level int) []int {
	out := make([]int, 0, h.sizes[level])
	var inner []int
	if level > 0 {
		inner = h.boxes[level-1]
	}
	h.Walk(h.boxes[level], func(offset int, coord []int) {
		if inner != nil && inside(coord, inner) {
			return
		}
		out = append(out, offset)
	})
	return out
}

// Walk visits every coordinate of box in row-major order.
// coord is reused between calls.
func (h *Hierarchy) Walk(box []int, fn func(offset int, coord []int)) {
	if product(box) == 0 {
		return
	}
	coord := make([]int, len(box))
	for {
		offset := 0
		for d, c := range coord {
			offset += c * h.strides[d]
		}
		fn(offset, coord)

		d := len(box) - 1
		for ; d >= 0; d-- {
			coord[d]++
			if coord[d] < box[d] {
				break
			}
			coord[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func inside(coord, box []int) bool {
	for d, c := range coord {
		if c >= box[d] {
			return false
		}
	}
	return true
}

func product(xs []int) int {
	n := 1
	for _, x := range xs {
		n *= x
	}
	return n
}
