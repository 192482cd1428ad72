package bitplane

import (
	"fmt"
	"math"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

// SignMagnitude encodes magnitude bits at unit 2^(exp-B). A coefficient's
// sign is appended to the bitplane where its first set bit appears, after the
// magnitude bits of that plane.
type SignMagnitude struct{}

// Kind implements Codec.
func (SignMagnitude) Kind() Kind { return KindSignMagnitude }

// Encode implements Codec.
func (s SignMagnitude) Encode(coeffs []float64, numBitplanes int) ([][]byte, Encoding, error) {
	if numBitplanes < 1 || numBitplanes > 63 {
		return nil, Encoding{}, fmt.Errorf("signmag bitplanes %d outside 1..63: %w", numBitplanes, mdrerrors.ErrConfiguration)
	}

	p := Params{Exponent: LevelExponent(coeffs), Bitplanes: numBitplanes}
	mags := make([]uint64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = uint64(math.Ldexp(math.Abs(c), numBitplanes-p.Exponent))
	}

	chunks := make([][]byte, numBitplanes)
	significant := make([]bool, len(coeffs))
	var fresh []int
	for b := 0; b < numBitplanes; b++ {
		shift := uint(numBitplanes - 1 - b)
		w := newBitWriter(len(coeffs))
		fresh = fresh[:0]
		for i, m := range mags {
			bit := m>>shift&1 == 1
			w.writeBit(bit)
			if bit && !significant[i] {
				significant[i] = true
				fresh = append(fresh, i)
			}
		}
		for _, i := range fresh {
			w.writeBit(math.Signbit(coeffs[i]))
		}
		chunks[b] = w.bytes()
	}

	errs, err := measureErrors(s, coeffs, p, chunks)
	if err != nil {
		return nil, Encoding{}, err
	}
	return chunks, Encoding{Params: p, Errors: errs}, nil
}

// DecodeIncremental implements Codec. A zero partial value marks a
// coefficient whose first set bit has not been seen yet.
func (SignMagnitude) DecodeIncremental(partial []float64, p Params, start int, chunks [][]byte) error {
	if err := checkRange(p, start, len(chunks)); err != nil {
		return err
	}
	var fresh []int
	for k, chunk := range chunks {
		b := start + k
		weight := math.Ldexp(1, p.Exponent-1-b)
		r := newBitReader(chunk)
		if err := r.need(len(partial)); err != nil {
			return fmt.Errorf("bitplane %d magnitudes: %w", b, err)
		}

		fresh = fresh[:0]
		for i := range partial {
			if !r.readBitFast() {
				continue
			}
			switch {
			case partial[i] > 0:
				partial[i] += weight
			case partial[i] < 0:
				partial[i] -= weight
			default:
				fresh = append(fresh, i)
			}
		}

		if err := r.need(len(fresh)); err != nil {
			return fmt.Errorf("bitplane %d signs: %w", b, err)
		}
		for _, i := range fresh {
			if r.readBitFast() {
				partial[i] = -weight
			} else {
				partial[i] = weight
			}
		}
	}
	return nil
}
