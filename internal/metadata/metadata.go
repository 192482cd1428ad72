// Package metadata describes a refactored field: its shape, the policies it
// was encoded with, and for every level the bitplane chunk layout and error
// table. Metadata is immutable once written.
package metadata

import (
	"fmt"
	"math"

	"github.com/xtxerr/mdr/internal/bitplane"
	"github.com/xtxerr/mdr/internal/compress"
	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/interleave"
)

// Policy holds the identifiers of the components a field was encoded with.
type Policy struct {
	Element         field.Kind
	Decomposer      decompose.Kind
	Interleaver     interleave.Kind
	InterleaveBlock uint32
	Codec           bitplane.Kind
	Compression     compress.Algorithm
	Norm            estimate.Norm
	S               float64
}

// Plane locates one bitplane chunk inside its level stream.
type Plane struct {
	Offset     uint64
	RawSize    uint32
	StoredSize uint32
	Raw        bool
}

// Level describes one level's encoding.
type Level struct {
	Coefficients uint64
	Exponent     int32
	Planes       []Plane
	// Errors[k] is the estimator contribution with k bitplanes decoded.
	Errors []float64
}

// Bitplanes returns the number of bitplanes of the level.
func (l Level) Bitplanes() int { return len(l.Planes) }

// StreamSize returns the byte length of the level stream.
func (l Level) StreamSize() int64 {
	if len(l.Planes) == 0 {
		return 0
	}
	last := l.Planes[len(l.Planes)-1]
	return int64(last.Offset) + int64(last.StoredSize)
}

// Range returns the byte range [off, off+n) holding bitplanes start..end-1.
func (l Level) Range(start, end int) (off, n int64) {
	if start >= end {
		return 0, 0
	}
	first := l.Planes[start]
	last := l.Planes[end-1]
	return int64(first.Offset), int64(last.Offset) + int64(last.StoredSize) - int64(first.Offset)
}

// Params returns the codec parameters of the level.
func (l Level) Params() bitplane.Params {
	return bitplane.Params{Exponent: int(l.Exponent), Bitplanes: len(l.Planes)}
}

// Metadata describes one refactored field (or one block of it).
type Metadata struct {
	Dims   []int
	Policy Policy
	Levels []Level
}

// TargetLevel returns the number of decomposition steps.
func (m *Metadata) TargetLevel() int { return len(m.Levels) - 1 }

// Hierarchy rebuilds the level layout the field was decomposed with.
func (m *Metadata) Hierarchy() (*decompose.Hierarchy, error) {
	return decompose.NewHierarchy(m.Dims, m.TargetLevel())
}

// AssignOffsets lays each level's planes out contiguously from offset 0.
func (m *Metadata) AssignOffsets() {
	for l := range m.Levels {
		var off uint64
		for b := range m.Levels[l].Planes {
			m.Levels[l].Planes[b].Offset = off
			off += uint64(m.Levels[l].Planes[b].StoredSize)
		}
	}
}

// ErrorTable returns the per-level error rows.
func (m *Metadata) ErrorTable() estimate.Table {
	t := make(estimate.Table, len(m.Levels))
	for l, lv := range m.Levels {
		t[l] = lv.Errors
	}
	return t
}

// Sizes returns the stored size of every bitplane chunk.
func (m *Metadata) Sizes() [][]int64 {
	out := make([][]int64, len(m.Levels))
	for l, lv := range m.Levels {
		out[l] = make([]int64, len(lv.Planes))
		for b, p := range lv.Planes {
			out[l][b] = int64(p.StoredSize)
		}
	}
	return out
}

// Bitplanes returns the bitplane count of every level.
func (m *Metadata) Bitplanes() []int {
	out := make([]int, len(m.Levels))
	for l, lv := range m.Levels {
		out[l] = len(lv.Planes)
	}
	return out
}

// TotalBytes returns the stored size of all level streams.
func (m *Metadata) TotalBytes() int64 {
	var n int64
	for _, lv := range m.Levels {
		n += lv.StreamSize()
	}
	return n
}

// Estimator returns the estimator the error tables were computed with.
func (m *Metadata) Estimator() estimate.Estimator {
	return estimate.Estimator{Norm: m.Policy.Norm, S: m.Policy.S}
}

// Validate checks internal consistency. All failures wrap ErrMetadataCorruption.
func (m *Metadata) Validate() error {
	if len(m.Dims) == 0 || len(m.Dims) > math.MaxUint8 {
		return mdrerrors.NewCorruption("%d dimensions", len(m.Dims))
	}
	if len(m.Levels) == 0 || len(m.Levels) > math.MaxUint8 {
		return mdrerrors.NewCorruption("%d levels", len(m.Levels))
	}
	if err := m.Policy.validate(); err != nil {
		return err
	}

	h, err := m.Hierarchy()
	if err != nil {
		return mdrerrors.NewCorruption("shape %v with %d levels: %v", m.Dims, len(m.Levels), err)
	}

	for l, lv := range m.Levels {
		if want := uint64(h.LevelSize(l)); lv.Coefficients != want {
			return mdrerrors.NewCorruption("level %d: %d coefficients, hierarchy has %d", l, lv.Coefficients, want)
		}
		if len(lv.Planes) > 64 {
			return mdrerrors.NewCorruption("level %d: %d bitplanes", l, len(lv.Planes))
		}
		if len(lv.Errors) != len(lv.Planes)+1 {
			return mdrerrors.NewCorruption("level %d: %d error entries for %d bitplanes", l, len(lv.Errors), len(lv.Planes))
		}
		var off uint64
		for b, p := range lv.Planes {
			if p.Offset != off {
				return mdrerrors.NewCorruption("level %d bitplane %d: offset %d, want %d", l, b, p.Offset, off)
			}
			if p.Raw && p.StoredSize != p.RawSize {
				return mdrerrors.NewCorruption("level %d bitplane %d: raw chunk stored as %d of %d bytes", l, b, p.StoredSize, p.RawSize)
			}
			off += uint64(p.StoredSize)
		}
		for k, e := range lv.Errors {
			if math.IsNaN(e) || math.IsInf(e, 0) || e < 0 {
				return mdrerrors.NewCorruption("level %d: error %d is %g", l, k, e)
			}
			if k > 0 && e > lv.Errors[k-1] {
				return mdrerrors.NewCorruption("level %d: error increases at bitplane %d", l, k)
			}
		}
	}
	return nil
}

func (p Policy) validate() error {
	switch p.Element {
	case field.KindFloat32, field.KindFloat64:
	default:
		return mdrerrors.NewCorruption("element kind %d", uint8(p.Element))
	}
	if _, err := decompose.ForKind(p.Decomposer); err != nil {
		return mdrerrors.NewCorruption("decomposer: %v", err)
	}
	if _, err := interleave.New(p.Interleaver, int(p.InterleaveBlock)); err != nil {
		return mdrerrors.NewCorruption("interleaver: %v", err)
	}
	if _, err := bitplane.ForKind(p.Codec); err != nil {
		return mdrerrors.NewCorruption("codec: %v", err)
	}
	switch p.Compression {
	case compress.AlgorithmNone, compress.AlgorithmZstd, compress.AlgorithmLZ4:
	default:
		return mdrerrors.NewCorruption("compression %d", uint8(p.Compression))
	}
	if _, err := estimate.New(p.Norm, p.S); err != nil {
		return mdrerrors.NewCorruption("estimator: %v", err)
	}
	return nil
}

// String returns a one-line summary.
func (m *Metadata) String() string {
	return fmt.Sprintf("dims=%v levels=%d element=%s codec=%s compression=%s norm=%s bytes=%d",
		m.Dims, len(m.Levels), m.Policy.Element, m.Policy.Codec, m.Policy.Compression,
		m.Estimator(), m.TotalBytes())
}
