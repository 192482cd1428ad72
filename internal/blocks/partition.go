// Package blocks runs the codec over a field cut into independent slabs.
//
// A field is partitioned along its slowest (first) dimension into up to N
// slabs of ceil(n/N) rows. Every slab is refactored and reconstructed by its
// own engine; slabs share nothing but read-only configuration.
package blocks

import (
	"fmt"

	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/field"
)

// Slab is the row range [Start, End) of the first dimension held by a block.
type Slab struct {
	Index int
	Start int
	End   int
	Dims  []int
}

// Len returns the element count of the slab.
func (s Slab) Len() int {
	n := 1
	for _, d := range s.Dims {
		n *= d
	}
	return n
}

// Partition cuts dims into at most blocks slabs along the first dimension.
// Trailing slabs that would be empty are dropped, so indices stay contiguous.
func Partition(dims []int, blocks int) ([]Slab, error) {
	if _, err := field.Count(dims); err != nil {
		return nil, err
	}
	if blocks < 1 {
		return nil, mdrerrors.NewConfiguration("layout.blocks", fmt.Sprintf("%d blocks", blocks))
	}

	rows := (dims[0] + blocks - 1) / blocks
	var slabs []Slab
	for i := 0; i < blocks; i++ {
		start := i * rows
		end := min(start+rows, dims[0])
		if start >= end {
			break
		}
		local := append([]int(nil), dims...)
		local[0] = end - start
		slabs = append(slabs, Slab{Index: i, Start: start, End: end, Dims: local})
	}
	return slabs, nil
}

// CheckLevel verifies every slab can be decomposed targetLevel times.
func CheckLevel(slabs []Slab, targetLevel int) error {
	for _, s := range slabs {
		if limit := decompose.MaxLevel(s.Dims); targetLevel > limit {
			return fmt.Errorf("block %d dims %v allow target level %d, want %d: %w",
				s.Index, s.Dims, limit, targetLevel, mdrerrors.ErrInvalidLevel)
		}
	}
	return nil
}

// Split returns one field per slab, sharing f's backing array.
func Split[T field.Float](f *field.Field[T], slabs []Slab) ([]*field.Field[T], error) {
	dims := f.Dims()
	stride := f.Len() / dims[0]
	parts := make([]*field.Field[T], len(slabs))
	for i, s := range slabs {
		if s.End > dims[0] || s.Start < 0 || s.Start >= s.End {
			return nil, fmt.Errorf("slab %d rows [%d, %d) of %d: %w", s.Index, s.Start, s.End, dims[0], mdrerrors.ErrShapeMismatch)
		}
		part, err := field.FromSlice(f.Data()[s.Start*stride:s.End*stride], s.Dims...)
		if err != nil {
			return nil, err
		}
		parts[i] = part
	}
	return parts, nil
}

// Stitch concatenates block fields along the first dimension.
func Stitch[T field.Float](parts []*field.Field[T]) (*field.Field[T], error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no blocks: %w", mdrerrors.ErrInvalidDimensions)
	}
	dims := parts[0].Dims()
	rows := 0
	for i, p := range parts {
		pd := p.Dims()
		if len(pd) != len(dims) {
			return nil, fmt.Errorf("block %d has %d dims, block 0 has %d: %w", i, len(pd), len(dims), mdrerrors.ErrShapeMismatch)
		}
		for d := 1; d < len(dims); d++ {
			if pd[d] != dims[d] {
				return nil, fmt.Errorf("block %d dims %v do not stack on %v: %w", i, pd, dims, mdrerrors.ErrShapeMismatch)
			}
		}
		rows += pd[0]
	}
	dims[0] = rows

	out, err := field.New[T](dims...)
	if err != nil {
		return nil, err
	}
	off := 0
	for _, p := range parts {
		off += copy(out.Data()[off:], p.Data())
	}
	return out, nil
}
