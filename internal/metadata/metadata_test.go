package metadata

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mdr/internal/bitplane"
	"github.com/xtxerr/mdr/internal/compress"
	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/interleave"
)

func sampleMetadata() *Metadata {
	m := &Metadata{
		Dims: []int{4, 4},
		Policy: Policy{
			Element:         field.KindFloat32,
			Decomposer:      decompose.KindHaar,
			Interleaver:     interleave.KindBlock,
			InterleaveBlock: 2,
			Codec:           bitplane.KindNegabinary,
			Compression:     compress.AlgorithmZstd,
			Norm:            estimate.NormSNorm,
			S:               0.5,
		},
		Levels: []Level{
			{
				Coefficients: 4,
				Exponent:     3,
				Planes: []Plane{
					{RawSize: 1, StoredSize: 1, Raw: true},
					{RawSize: 1, StoredSize: 1, Raw: true},
				},
				Errors: []float64{10, 2, 0.5},
			},
			{
				Coefficients: 12,
				Exponent:     -2,
				Planes: []Plane{
					{RawSize: 2, StoredSize: 2, Raw: true},
					{RawSize: 200, StoredSize: 20},
				},
				Errors: []float64{1, 1, 0},
			},
		},
	}
	m.AssignOffsets()
	return m
}

func TestMarshal_RoundTrip(t *testing.T) {
	m := sampleMetadata()
	data, err := m.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestAssignOffsets(t *testing.T) {
	m := sampleMetadata()
	assert.Equal(t, uint64(0), m.Levels[1].Planes[0].Offset)
	assert.Equal(t, uint64(2), m.Levels[1].Planes[1].Offset)
	assert.Equal(t, int64(22), m.Levels[1].StreamSize())
	assert.Equal(t, int64(24), m.TotalBytes())

	off, n := m.Levels[1].Range(1, 2)
	assert.Equal(t, int64(2), off)
	assert.Equal(t, int64(20), n)

	off, n = m.Levels[0].Range(0, 2)
	assert.Equal(t, int64(0), off)
	assert.Equal(t, int64(2), n)
}

func TestMetadata_Accessors(t *testing.T) {
	m := sampleMetadata()
	assert.Equal(t, 1, m.TargetLevel())
	assert.Equal(t, []int{2, 2}, m.Bitplanes())
	assert.Equal(t, [][]int64{{1, 1}, {2, 20}}, m.Sizes())
	assert.Equal(t, estimate.Table{{10, 2, 0.5}, {1, 1, 0}}, m.ErrorTable())
	assert.Equal(t, estimate.Estimator{Norm: estimate.NormSNorm, S: 0.5}, m.Estimator())
	assert.Equal(t, bitplane.Params{Exponent: -2, Bitplanes: 2}, m.Levels[1].Params())

	h, err := m.Hierarchy()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 12}, h.LevelSizes())
}

func TestUnmarshal_ChecksumMismatch(t *testing.T) {
	data, err := sampleMetadata().Marshal()
	require.NoError(t, err)
	data[3] ^= 0xFF

	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, mdrerrors.ErrChecksumMismatch)
	assert.True(t, mdrerrors.IsCorruption(err))
}

func TestUnmarshal_Truncated(t *testing.T) {
	data, err := sampleMetadata().Marshal()
	require.NoError(t, err)

	for _, n := range []int{0, 3, 10, len(data) - 5} {
		body := append([]byte(nil), data[:n]...)
		if n >= 4 {
			// Re-seal so the truncation, not the checksum, is detected.
			body = reseal(body[:n-4])
		}
		_, err := Unmarshal(body)
		assert.ErrorIs(t, err, mdrerrors.ErrMetadataCorruption, "length %d", n)
	}
}

func reseal(body []byte) []byte {
	return binary.LittleEndian.AppendUint32(append([]byte(nil), body...), crc32.ChecksumIEEE(body))
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	data, err := sampleMetadata().Marshal()
	require.NoError(t, err)
	body := append(data[:len(data)-4:len(data)-4], 0)

	_, err = Unmarshal(reseal(body))
	assert.ErrorIs(t, err, mdrerrors.ErrMetadataCorruption)
}

func TestValidate_Corruption(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Metadata)
	}{
		{"no dims", func(m *Metadata) { m.Dims = nil }},
		{"no levels", func(m *Metadata) { m.Levels = nil }},
		{"too many levels", func(m *Metadata) {
			m.Levels = append(m.Levels, m.Levels[1], m.Levels[1])
		}},
		{"coefficient count", func(m *Metadata) { m.Levels[1].Coefficients = 11 }},
		{"error count", func(m *Metadata) { m.Levels[0].Errors = m.Levels[0].Errors[:2] }},
		{"gap in offsets", func(m *Metadata) { m.Levels[1].Planes[1].Offset = 5 }},
		{"raw size", func(m *Metadata) { m.Levels[0].Planes[0].StoredSize = 3 }},
		{"increasing error", func(m *Metadata) { m.Levels[0].Errors[2] = 3 }},
		{"nan error", func(m *Metadata) { m.Levels[0].Errors[1] = math.NaN() }},
		{"element", func(m *Metadata) { m.Policy.Element = 2 }},
		{"codec", func(m *Metadata) { m.Policy.Codec = 7 }},
		{"compression", func(m *Metadata) { m.Policy.Compression = 9 }},
		{"norm", func(m *Metadata) { m.Policy.Norm = 0 }},
		{"interleave block", func(m *Metadata) { m.Policy.InterleaveBlock = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sampleMetadata()
			tt.mutate(m)
			err := m.Validate()
			assert.ErrorIs(t, err, mdrerrors.ErrMetadataCorruption)

			_, err = m.Marshal()
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	s := sampleMetadata().String()
	assert.Contains(t, s, "dims=[4 4]")
	assert.Contains(t, s, "snorm(s=0.5)")
}
