// Package interleave orders a level's coefficients into the linear buffer
// handed to the bitplane codec, and scatters decoded buffers back.
//
// Every policy is a permutation of Hierarchy.LevelIndices, so Flatten and
// Unflatten compose to the identity for all of them. Policies only change the
// spatial locality of the encoded stream.
package interleave

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Kind identifies an interleaver in stored metadata.
type Kind uint8

const (
	KindDirect Kind = 1
	KindMorton Kind = 2
	KindBlock  Kind = 3
)

// String returns the policy name.
func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindMorton:
		return "morton"
	case KindBlock:
		return "block"
	default:
		return fmt.Sprintf("interleaver(%d)", uint8(k))
	}
}

// ParseKind parses an interleaver policy name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "direct", "":
		return KindDirect, nil
	case "morton":
		return KindMorton, nil
	case "block":
		return KindBlock, nil
	default:
		return 0, fmt.Errorf("interleaver %q: %w", s, mdrerrors.ErrUnknownPolicy)
	}
}

// Interleaver gathers and scatters one level of an in-place decomposition.
type Interleaver interface {
	Kind() Kind
	// BlockSize is the block edge for KindBlock and zero otherwise.
	BlockSize() int
	Flatten(h *decompose.Hierarchy, level int, coeffs []float64) []float64
	Unflatten(h *decompose.Hierarchy, level int, buf, coeffs []float64)
}

// New returns the interleaver for kind. blockSize is only used by KindBlock.
func New(kind Kind, blockSize int) (Interleaver, error) {
	switch kind {
	case KindDirect:
		return &orderer{kind: kind, order: directOrder}, nil
	case KindMorton:
		return &orderer{kind: kind, order: mortonOrder}, nil
	case KindBlock:
		if blockSize < 1 {
			return nil, fmt.Errorf("block interleaver edge %d: %w", blockSize, mdrerrors.ErrConfiguration)
		}
		return &orderer{kind: kind, block: blockSize, order: blockOrder(blockSize)}, nil
	default:
		return nil, fmt.Errorf("%s: %w", kind, mdrerrors.ErrUnknownPolicy)
	}
}

// orderer implements every policy as a cached index permutation.
type orderer struct {
	kind  Kind
	block int
	order func(h *decompose.Hierarchy, level int) []int

	mu    sync.Mutex
	cache map[orderKey][]int
}

type orderKey struct {
	h     *decompose.Hierarchy
	level int
}

func (o *orderer) Kind() Kind     { return o.kind }
func (o *orderer) BlockSize() int { return o.block }

func (o *orderer) indices(h *decompose.Hierarchy, level int) []int {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := orderKey{h: h, level: level}
	if idx, ok := o.cache[key]; ok {
		return idx
	}
	if o.cache == nil {
		o.cache = make(map[orderKey][]int)
	}
	idx := o.order(h, level)
	o.cache[key] = idx
	return idx
}

// Flatten implements Interleaver.
func (o *orderer) Flatten(h *decompose.Hierarchy, level int, coeffs []float64) []float64 {
	idx := o.indices(h, level)
	buf := make([]float64, len(idx))
	for i, off := range idx {
		buf[i] = coeffs[off]
	}
	return buf
}

// Unflatten implements Interleaver.
func (o *orderer) Unflatten(h *decompose.Hierarchy, level int, buf, coeffs []float64) {
	idx := o.indices(h, level)
	for i, off := range idx {
		coeffs[off] = buf[i]
	}
}

func directOrder(h *decompose.Hierarchy, level int) []int {
	return h.LevelIndices(level)
}

// mortonOrder sorts the level by the Z-order key of its coordinates.
func mortonOrder(h *decompose.Hierarchy, level int) []int {
	dims := h.Dims()
	idx := h.LevelIndices(level)
	keys := make([]uint64, len(idx))
	coord := make([]int, len(dims))
	for i, off := range idx {
		unravel(off, dims, coord)
		keys[i] = mortonKey(coord)
	}
	sort.Sort(&byKey{idx: idx, keys: keys})
	return idx
}

// blockOrder walks blocks of edge size in row-major order, then the
// coefficients inside each block in row-major order.
func blockOrder(size int) func(h *decompose.Hierarchy, level int) []int {
	return func(h *decompose.Hierarchy, level int) []int {
		dims := h.Dims()
		idx := h.LevelIndices(level)
		keys := make([]uint64, len(idx))
		coord := make([]int, len(dims))
		blocksPer := make([]int, len(dims))
		for d, n := range dims {
			blocksPer[d] = (n + size - 1) / size
		}
		for i, off := range idx {
			unravel(off, dims, coord)
			var block uint64
			for d, c := range coord {
				block = block*uint64(blocksPer[d]) + uint64(c/size)
			}
			keys[i] = block
		}
		// Stable sort keeps row-major order inside a block.
		sort.Stable(&byKey{idx: idx, keys: keys})
		return idx
	}
}

func unravel(off int, dims, coord []int) {
	for d := len(dims) - 1; d >= 0; d-- {
		coord[d] = off % dims[d]
		off /= dims[d]
	}
}

func mortonKey(coord []int) uint64 {
	var key uint64
	bit := 0
	for b := 0; b < 64 && bit < 64; b++ {
		for d := len(coord) - 1; d >= 0 && bit < 64; d-- {
			if coord[d]>>b&1 == 1 {
				key |= 1 << bit
			}
			bit++
		}
	}
	return key
}

type byKey struct {
	idx  []int
	keys []uint64
}

func (s *byKey) Len() int { return len(s.idx) }
func (s *byKey) Less(i, j int) bool {
	if s.keys[i] != s.keys[j] {
		return s.keys[i] < s.keys[j]
	}
	return s.idx[i] < s.idx[j]
}
func (s *byKey) Swap(i, j int) {
	s.idx[i], s.idx[j] = s.idx[j], s.idx[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}
