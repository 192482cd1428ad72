package metadata

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/xtxerr/mdr/internal/bitplane"
	"github.com/xtxerr/mdr/internal/compress"
	"github.com/xtxerr/mdr/internal/decompose"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/field"
	"github.com/xtxerr/mdr/internal/interleave"
)

// Metadata encoding format (binary, little-endian):
// - ndims (1 byte) + dims (4 bytes each)
// - nlevels (1 byte)
// - element, decomposer, interleaver (1 byte each) + interleave block (4 bytes)
// - codec, compression, norm (1 byte each) + s (8 bytes, float64)
// - per level:
//     coefficients (8 bytes) + exponent (4 bytes, int32) + bitplanes (1 byte)
//     per bitplane: offset (8 bytes) + raw size (4 bytes) + stored size (4 bytes) + flags (1 byte)
//     errors (8 bytes each, bitplanes+1 entries)
// - CRC32 IEEE of everything above (4 bytes)

const (
	flagRaw = 1 << 0

	planeSize = 8 + 4 + 4 + 1
)

// Marshal encodes m. It validates m first.
func (m *Metadata) Marshal() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	size := 1 + 4*len(m.Dims) + 1 + 3 + 4 + 3 + 8 + 4
	for _, lv := range m.Levels {
		size += 8 + 4 + 1 + planeSize*len(lv.Planes) + 8*len(lv.Errors)
	}
	buf := make([]byte, 0, size)

	buf = append(buf, uint8(len(m.Dims)))
	for _, d := range m.Dims {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(d))
	}
	buf = append(buf, uint8(len(m.Levels)))

	p := m.Policy
	buf = append(buf, uint8(p.Element), uint8(p.Decomposer), uint8(p.Interleaver))
	buf = binary.LittleEndian.AppendUint32(buf, p.InterleaveBlock)
	buf = append(buf, uint8(p.Codec), uint8(p.Compression), uint8(p.Norm))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.S))

	for _, lv := range m.Levels {
		buf = binary.LittleEndian.AppendUint64(buf, lv.Coefficients)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(lv.Exponent))
		buf = append(buf, uint8(len(lv.Planes)))
		for _, pl := range lv.Planes {
			buf = binary.LittleEndian.AppendUint64(buf, pl.Offset)
			buf = binary.LittleEndian.AppendUint32(buf, pl.RawSize)
			buf = binary.LittleEndian.AppendUint32(buf, pl.StoredSize)
			var flags uint8
			if pl.Raw {
				flags |= flagRaw
			}
			buf = append(buf, flags)
		}
		for _, e := range lv.Errors {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e))
		}
	}

	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf)), nil
}

// Unmarshal decodes and validates metadata. Every failure wraps
// ErrMetadataCorruption.
func Unmarshal(data []byte) (*Metadata, error) {
	if len(data) < 4 {
		return nil, mdrerrors.NewCorruption("data too short for checksum: %d bytes", len(data))
	}
	body := data[:len(data)-4]
	expected := binary.LittleEndian.Uint32(data[len(data)-4:])
	if actual := crc32.ChecksumIEEE(body); actual != expected {
		return nil, fmt.Errorf("expected %08x, got %08x: %w: %w", expected, actual, mdrerrors.ErrChecksumMismatch, mdrerrors.ErrMetadataCorruption)
	}

	d := &decoder{data: body}
	m := &Metadata{}

	ndims := int(d.u8("ndims"))
	m.Dims = make([]int, ndims)
	for i := range m.Dims {
		m.Dims[i] = int(d.u32("dims"))
	}
	nlevels := int(d.u8("nlevels"))

	m.Policy.Element = field.Kind(d.u8("element"))
	m.Policy.Decomposer = decompose.Kind(d.u8("decomposer"))
	m.Policy.Interleaver = interleave.Kind(d.u8("interleaver"))
	m.Policy.InterleaveBlock = d.u32("interleave block")
	m.Policy.Codec = bitplane.Kind(d.u8("codec"))
	m.Policy.Compression = compress.Algorithm(d.u8("compression"))
	m.Policy.Norm = estimate.Norm(d.u8("norm"))
	m.Policy.S = d.f64("s")

	if d.err == nil {
		m.Levels = make([]Level, nlevels)
	}
	for l := range m.Levels {
		lv := &m.Levels[l]
		lv.Coefficients = d.u64("coefficients")
		lv.Exponent = int32(d.u32("exponent"))
		nplanes := int(d.u8("bitplanes"))
		if d.err != nil {
			break
		}
		lv.Planes = make([]Plane, nplanes)
		for b := range lv.Planes {
			lv.Planes[b] = Plane{
				Offset:     d.u64("offset"),
				RawSize:    d.u32("raw size"),
				StoredSize: d.u32("stored size"),
				Raw:        d.u8("flags")&flagRaw != 0,
			}
		}
		lv.Errors = make([]float64, nplanes+1)
		for k := range lv.Errors {
			lv.Errors[k] = d.f64("errors")
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(body) {
		return nil, mdrerrors.NewCorruption("%d trailing bytes", len(body)-d.off)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// decoder reads little-endian fields, remembering the first short read.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) take(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.data) {
		d.err = mdrerrors.NewCorruption("data too short for %s at byte %d", what, d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8(what string) uint8 {
	if b := d.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u32(what string) uint32 {
	if b := d.take(4, what); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64(what string) uint64 {
	if b := d.take(8, what); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) f64(what string) float64 {
	return math.Float64frombits(d.u64(what))
}
