package decompose

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

func TestMaxLevel(t *testing.T) {
	assert.Equal(t, 0, MaxLevel([]int{1}))
	assert.Equal(t, 1, MaxLevel([]int{2}))
	assert.Equal(t, 3, MaxLevel([]int{9, 16}))
	assert.Equal(t, 2, MaxLevel([]int{1, 5, 100}))
}

func TestNewHierarchy_Boxes(t *testing.T) {
	h, err := NewHierarchy([]int{9, 16}, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, h.Levels())
	assert.Equal(t, []int{2, 2}, h.Box(0))
	assert.Equal(t, []int{3, 4}, h.Box(1))
	assert.Equal(t, []int{5, 8}, h.Box(2))
	assert.Equal(t, []int{9, 16}, h.Box(3))
	assert.Equal(t, []int{4, 8, 28, 104}, h.LevelSizes())

	total := 0
	for _, n := range h.LevelSizes() {
		total += n
	}
	assert.Equal(t, h.Len(), total)
}

func TestNewHierarchy_Invalid(t *testing.T) {
	_, err := NewHierarchy([]int{8, 8}, 4)
	require.ErrorIs(t, err, mdrerrors.ErrInvalidLevel)

	_, err = NewHierarchy([]int{8, 0}, 1)
	require.ErrorIs(t, err, mdrerrors.ErrInvalidDimensions)

	_, err = NewHierarchy([]int{8}, -1)
	require.ErrorIs(t, err, mdrerrors.ErrInvalidLevel)
}

func TestLevelIndices_Partition(t *testing.T) {
	h, err := NewHierarchy([]int{5, 7, 3}, 1)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for l := 0; l < h.Levels(); l++ {
		idx := h.LevelIndices(l)
		assert.Len(t, idx, h.LevelSize(l))
		for _, i := range idx {
			assert.False(t, seen[i], "offset %d owned twice", i)
			seen[i] = true
		}
	}
	assert.Len(t, seen, h.Len())
}

func TestHaar_Roundtrip(t *testing.T) {
	shapes := [][]int{{17}, {8, 8}, {9, 6, 5}, {1, 33}}
	rng := rand.New(rand.NewSource(7))

	for _, dims := range shapes {
		h, err := NewHierarchy(dims, MaxLevel(dims))
		require.NoError(t, err)

		data := make([]float64, h.Len())
		for i := range data {
			data[i] = rng.NormFloat64() * 10
		}
		orig := append([]float64(nil), data...)

		Haar{}.Decompose(data, h)
		assert.InDelta(t, energy(orig), energy(data), 1e-9*energy(orig), "orthonormal transform preserves energy")

		Haar{}.Recompose(data, h)
		for i := range data {
			require.InDelta(t, orig[i], data[i], 1e-10, "dims %v offset %d", dims, i)
		}
	}
}

func TestHaar_ConstantFieldConcentrates(t *testing.T) {
	h, err := NewHierarchy([]int{8, 8}, 3)
	require.NoError(t, err)

	data := make([]float64, h.Len())
	for i := range data {
		data[i] = 3
	}
	Haar{}.Decompose(data, h)

	for l := 1; l < h.Levels(); l++ {
		for _, i := range h.LevelIndices(l) {
			assert.InDelta(t, 0, data[i], 1e-12)
		}
	}
}

func energy(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x * x
	}
	return math.Max(s, 1e-300)
}
