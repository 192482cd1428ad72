// Package compress stores bitplane chunks compressed when that pays off.
//
// Every chunk gets exactly one compression attempt with the configured
// algorithm. The result is kept only when it shrinks the chunk by at least
// MinSavings; otherwise the chunk is stored raw and flagged as such.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/xtxerr/mdr/config"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Algorithm identifies a compression algorithm in stored metadata.
type Algorithm uint8

const (
	AlgorithmNone Algorithm = 0
	AlgorithmZstd Algorithm = 1
	AlgorithmLZ4  Algorithm = 2
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none":
		return AlgorithmNone, nil
	case "zstd", "":
		return AlgorithmZstd, nil
	case "lz4":
		return AlgorithmLZ4, nil
	default:
		return 0, fmt.Errorf("compression %q: %w", name, mdrerrors.ErrUnknownPolicy)
	}
}

var errIncompressible = errors.New("chunk is incompressible")

// Options configure an Adaptive compressor.
type Options struct {
	Algorithm  Algorithm
	Level      int     // zstd encoder level 1..4
	MinSavings float64 // fraction in [0, 1)
}

// DefaultOptions returns zstd with the default level and savings threshold.
func DefaultOptions() Options {
	return Options{
		Algorithm:  AlgorithmZstd,
		Level:      config.DefaultCompressionLevel,
		MinSavings: config.DefaultMinSavings,
	}
}

// Adaptive compresses and decompresses chunks. It is safe for concurrent use.
type Adaptive struct {
	opts Options
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// New creates an Adaptive compressor.
func New(opts Options) (*Adaptive, error) {
	if opts.MinSavings < 0 || opts.MinSavings >= 1 {
		return nil, mdrerrors.NewConfiguration("compression.min_savings", fmt.Sprintf("%g outside [0, 1)", opts.MinSavings))
	}

	a := &Adaptive{opts: opts}
	switch opts.Algorithm {
	case AlgorithmNone, AlgorithmLZ4:
	case AlgorithmZstd:
		level := zstd.EncoderLevel(opts.Level)
		if level < zstd.SpeedFastest || level > zstd.SpeedBestCompression {
			return nil, mdrerrors.NewConfiguration("compression.level", fmt.Sprintf("%d outside 1..4", opts.Level))
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		a.enc = enc
	default:
		return nil, fmt.Errorf("%s: %w", opts.Algorithm, mdrerrors.ErrUnknownPolicy)
	}

	// Decoding must handle any chunk regardless of the configured algorithm.
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	a.dec = dec
	return a, nil
}

// Algorithm returns the configured algorithm.
func (a *Adaptive) Algorithm() Algorithm { return a.opts.Algorithm }

// Close releases encoder and decoder resources.
func (a *Adaptive) Close() {
	if a.enc != nil {
		a.enc.Close()
	}
	if a.dec != nil {
		a.dec.Close()
	}
}

// Compress returns the stored form of chunk and whether it is raw.
func (a *Adaptive) Compress(chunk []byte) ([]byte, bool) {
	if len(chunk) == 0 || a.opts.Algorithm == AlgorithmNone {
		return chunk, true
	}

	var (
		out []byte
		err error
	)
	switch a.opts.Algorithm {
	case AlgorithmZstd:
		out = a.enc.EncodeAll(chunk, make([]byte, 0, len(chunk)))
	case AlgorithmLZ4:
		out, err = compressLZ4(chunk)
	}
	if err != nil || float64(len(out)) > float64(len(chunk))*(1-a.opts.MinSavings) {
		return chunk, true
	}
	return out, false
}

// Decompress restores a chunk of rawSize bytes. Raw chunks are returned as is.
func (a *Adaptive) Decompress(stored []byte, raw bool, rawSize int) ([]byte, error) {
	return a.decompress(a.opts.Algorithm, stored, raw, rawSize)
}

// DecompressWith restores a chunk written with the given algorithm.
func (a *Adaptive) DecompressWith(alg Algorithm, stored []byte, raw bool, rawSize int) ([]byte, error) {
	return a.decompress(alg, stored, raw, rawSize)
}

func (a *Adaptive) decompress(alg Algorithm, stored []byte, raw bool, rawSize int) ([]byte, error) {
	if raw || alg == AlgorithmNone {
		if len(stored) != rawSize {
			return nil, fmt.Errorf("raw chunk: %d bytes, want %d: %w", len(stored), rawSize, mdrerrors.ErrSizeMismatch)
		}
		return stored, nil
	}

	switch alg {
	case AlgorithmZstd:
		out, err := a.dec.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("zstd decompress: %d bytes, want %d: %w", len(out), rawSize, mdrerrors.ErrSizeMismatch)
		}
		return out, nil
	case AlgorithmLZ4:
		return decompressLZ4(stored, rawSize)
	default:
		return nil, fmt.Errorf("%s: %w", alg, mdrerrors.ErrUnknownPolicy)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if n == 0 {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(stored []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(stored, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != rawSize {
		return nil, fmt.Errorf("lz4 decompress: %d bytes, want %d: %w", n, rawSize, mdrerrors.ErrSizeMismatch)
	}
	return dst, nil
}
