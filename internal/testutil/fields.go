package testutil

import (
	"math"
	"math/rand"

	"github.com/xtxerr/mdr/internal/field"
)

// SmoothField returns a deterministic field of low-frequency waves plus a
// small seeded perturbation, the kind of data the codec is built for.
func SmoothField[T field.Float](seed int64, dims ...int) *field.Field[T] {
	f, err := field.New[T](dims...)
	if err != nil {
		panic(err)
	}
	rng := rand.New(rand.NewSource(seed))
	phase := make([]float64, len(dims))
	for d := range phase {
		phase[d] = rng.Float64() * 2 * math.Pi
	}

	coord := make([]int, len(dims))
	data := f.Data()
	for i := range data {
		v := 1.0
		for d, c := range coord {
			x := float64(c) / float64(dims[d])
			v += math.Sin(2*math.Pi*x+phase[d]) + 0.25*math.Cos(6*math.Pi*x)
		}
		data[i] = T(v + 1e-3*rng.NormFloat64())

		for d := len(coord) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < dims[d] {
				break
			}
			coord[d] = 0
		}
	}
	return f
}

// RandomField returns uniformly distributed values in [-scale, scale).
func RandomField[T field.Float](seed int64, scale float64, dims ...int) *field.Field[T] {
	f, err := field.New[T](dims...)
	if err != nil {
		panic(err)
	}
	rng := rand.New(rand.NewSource(seed))
	data := f.Data()
	for i := range data {
		data[i] = T((2*rng.Float64() - 1) * scale)
	}
	return f
}

// ConstantField returns a field with every element set to v.
func ConstantField[T field.Float](v T, dims ...int) *field.Field[T] {
	f, err := field.New[T](dims...)
	if err != nil {
		panic(err)
	}
	data := f.Data()
	for i := range data {
		data[i] = v
	}
	return f
}
