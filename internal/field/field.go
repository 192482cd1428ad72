// Package field defines the multidimensional arrays refactored by the codec.
package field

import (
	"fmt"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Float is the set of element types a Field can hold.
type Float interface {
	~float32 | ~float64
}

// Kind identifies the element type in stored metadata.
type Kind uint8

const (
	KindFloat32 Kind = 4
	KindFloat64 Kind = 8
)

// String returns the element type name.
func (k Kind) String() string {
	switch k {
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses an element type name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "float32", "f32":
		return KindFloat32, nil
	case "float64", "f64", "":
		return KindFloat64, nil
	default:
		return 0, mdrerrors.NewConfiguration("element", fmt.Sprintf("unknown element type %q", s))
	}
}

// KindOf returns the Kind of T.
func KindOf[T Float]() Kind {
	var zero T
	switch any(zero).(type) {
	case float32:
		return KindFloat32
	default:
		return KindFloat64
	}
}

// Field is a row-major array with the last dimension varying fastest.
type Field[T Float] struct {
	dims []int
	data []T
}

// New allocates a zero-valued field with the given dimensions.
func New[T Float](dims ...int) (*Field[T], error) {
	n, err := Count(dims)
	if err != nil {
		return nil, err
	}
	return &Field[T]{dims: append([]int(nil), dims...), data: make([]T, n)}, nil
}

// FromSlice wraps data without copying it.
func FromSlice[T Float](data []T, dims ...int) (*Field[T], error) {
	n, err := Count(dims)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%d elements for dims %v (want %d): %w", len(data), dims, n, mdrerrors.ErrShapeMismatch)
	}
	return &Field[T]{dims: append([]int(nil), dims...), data: data}, nil
}

// Count returns the element count implied by dims.
func Count(dims []int) (int, error) {
	if len(dims) == 0 {
		return 0, fmt.Errorf("no dimensions: %w", mdrerrors.ErrInvalidDimensions)
	}
	if len(dims) > 255 {
		return 0, fmt.Errorf("%d dimensions exceeds 255: %w", len(dims), mdrerrors.ErrInvalidDimensions)
	}
	n := 1
	for i, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("dimension %d is %d: %w", i, d, mdrerrors.ErrInvalidDimensions)
		}
		if uint64(d) > 1<<32-1 {
			return 0, fmt.Errorf("dimension %d is %d, exceeds uint32: %w", i, d, mdrerrors.ErrInvalidDimensions)
		}
		n *= d
	}
	return n, nil
}

// Dims returns a copy of the field's dimensions.
func (f *Field[T]) Dims() []int {
	return append([]int(nil), f.dims...)
}

// Data returns the backing slice.
func (f *Field[T]) Data() []T {
	return f.data
}

// Len returns the element count.
func (f *Field[T]) Len() int {
	return len(f.data)
}

// Clone returns a deep copy of the field.
func (f *Field[T]) Clone() *Field[T] {
	return &Field[T]{dims: f.Dims(), data: append([]T(nil), f.data...)}
}

// Float64s converts the field into a new float64 buffer.
func (f *Field[T]) Float64s() []float64 {
	out := make([]float64, len(f.data))
	for i, v := range f.data {
		out[i] = float64(v)
	}
	return out
}

// FromFloat64s builds a field of T from a float64 buffer.
func FromFloat64s[T Float](values []float64, dims []int) (*Field[T], error) {
	data := make([]T, len(values))
	for i, v := range values {
		data[i] = T(v)
	}
	return FromSlice(data, dims...)
}

// MaxAbsDiff returns max |a[i]-b[i]| over two equally shaped fields.
func MaxAbsDiff[T Float](a, b *Field[T]) float64 {
	var m float64
	for i := range a.data {
		d := float64(a.data[i]) - float64(b.data[i])
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}
