// Package bitplane splits a level's coefficients into ordered precision
// increments and merges any prefix of them back into an approximation.
//
// Coefficients are quantized against the level exponent, the smallest e with
// max |c| < 2^e. Bitplane 0 carries the most significant digit of every
// coefficient. Decoding bitplanes 0..k-1 is deterministic, and merging
// bitplanes incrementally performs exactly the same floating point
// operations as decoding the whole prefix at once.
package bitplane

import (
	"fmt"
	"math"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// Kind identifies a codec in stored metadata.
type Kind uint8

const (
	KindNegabinary    Kind = 1
	KindSignMagnitude Kind = 2
)

// String returns the policy name.
func (k Kind) String() string {
	switch k {
	case KindNegabinary:
		return "negabinary"
	case KindSignMagnitude:
		return "signmag"
	default:
		return fmt.Sprintf("codec(%d)", uint8(k))
	}
}

// ParseKind parses a codec policy name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "negabinary", "":
		return KindNegabinary, nil
	case "signmag":
		return KindSignMagnitude, nil
	default:
		return 0, fmt.Errorf("codec %q: %w", s, mdrerrors.ErrUnknownPolicy)
	}
}

// Params are the per-level values a decoder needs besides the chunks.
type Params struct {
	Exponent  int
	Bitplanes int
}

// PrefixError is the measured coefficient error with a prefix of bitplanes.
type PrefixError struct {
	MaxAbs     float64
	SumSquares float64
}

// Encoding describes one encoded level.
type Encoding struct {
	Params
	// Errors[k] is the error with bitplanes 0..k-1 decoded; len is Bitplanes+1.
	Errors []PrefixError
}

// Codec encodes levels into bitplane chunks and decodes them incrementally.
type Codec interface {
	Kind() Kind
	Encode(coeffs []float64, numBitplanes int) ([][]byte, Encoding, error)
	// DecodeIncremental merges chunks, holding bitplanes start..start+len(chunks)-1,
	// into partial.
	DecodeIncremental(partial []float64, p Params, start int, chunks [][]byte) error
}

// ForKind returns the codec registered for kind.
func ForKind(kind Kind) (Codec, error) {
	switch kind {
	case KindNegabinary:
		return Negabinary{}, nil
	case KindSignMagnitude:
		return SignMagnitude{}, nil
	default:
		return nil, fmt.Errorf("%s: %w", kind, mdrerrors.ErrUnknownPolicy)
	}
}

// LevelExponent returns the smallest e with max |c| < 2^e, or 0 for an all-zero level.
func LevelExponent(coeffs []float64) int {
	var maxAbs float64
	for _, c := range coeffs {
		if a := math.Abs(c); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 || math.IsInf(maxAbs, 0) || math.IsNaN(maxAbs) {
		return 0
	}
	_, exp := math.Frexp(maxAbs)
	return exp
}

func checkRange(p Params, start, count int) error {
	if start < 0 || start+count > p.Bitplanes {
		return fmt.Errorf("bitplanes %d..%d outside 0..%d: %w", start, start+count-1, p.Bitplanes-1, mdrerrors.ErrSizeMismatch)
	}
	return nil
}

// measureErrors replays decoding one bitplane at a time and records the
// error against coeffs after every prefix.
func measureErrors(c Codec, coeffs []float64, p Params, chunks [][]byte) ([]PrefixError, error) {
	errs := make([]PrefixError, p.Bitplanes+1)
	partial := make([]float64, len(coeffs))
	errs[0] = measure(coeffs, partial)
	for i, chunk := range chunks {
		if err := c.DecodeIncremental(partial, p, i, [][]byte{chunk}); err != nil {
			return nil, err
		}
		errs[i+1] = measure(coeffs, partial)
	}
	return errs, nil
}

func measure(coeffs, approx []float64) PrefixError {
	var pe PrefixError
	for i, c := range coeffs {
		d := math.Abs(c - approx[i])
		if d > pe.MaxAbs {
			pe.MaxAbs = d
		}
		pe.SumSquares += d * d
	}
	return pe
}

func planeBytes(n int) int {
	return (n + 7) / 8
}
