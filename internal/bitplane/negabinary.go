package bitplane

import (
	"fmt"
	"math"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

const negabinaryMask = 0xAAAAAAAAAAAAAAAA

// Negabinary encodes base -2 digits, so the sign is carried by the digit
// pattern and no sign bitplane exists. The digit count must be even; values
// are quantized at unit 2^(exp+2-B) which keeps |q| below 2^(B-2).
type Negabinary struct{}

// Kind implements Codec.
func (Negabinary) Kind() Kind { return KindNegabinary }

// Encode implements Codec.
func (n Negabinary) Encode(coeffs []float64, numBitplanes int) ([][]byte, Encoding, error) {
	if numBitplanes < 2 || numBitplanes > 64 || numBitplanes%2 != 0 {
		return nil, Encoding{}, fmt.Errorf("negabinary bitplanes %d must be even in 2..64: %w", numBitplanes, mdrerrors.ErrConfiguration)
	}

	p := Params{Exponent: LevelExponent(coeffs), Bitplanes: numBitplanes}
	unit := p.Exponent + 2 - numBitplanes

	digits := make([]uint64, len(coeffs))
	for i, c := range coeffs {
		q := int64(math.Ldexp(c, -unit))
		digits[i] = (uint64(q) + negabinaryMask) ^ negabinaryMask
	}

	chunks := make([][]byte, numBitplanes)
	for b := 0; b < numBitplanes; b++ {
		shift := uint(numBitplanes - 1 - b)
		plane := make([]byte, planeBytes(len(coeffs)))
		for i, d := range digits {
			if d>>shift&1 == 1 {
				plane[i>>3] |= 0x80 >> uint(i&7)
			}
		}
		chunks[b] = plane
	}

	errs, err := measureErrors(n, coeffs, p, chunks)
	if err != nil {
		return nil, Encoding{}, err
	}
	return chunks, Encoding{Params: p, Errors: errs}, nil
}

// DecodeIncremental implements Codec.
func (Negabinary) DecodeIncremental(partial []float64, p Params, start int, chunks [][]byte) error {
	if err := checkRange(p, start, len(chunks)); err != nil {
		return err
	}
	for k, chunk := range chunks {
		b := start + k
		if len(chunk) < planeBytes(len(partial)) {
			return fmt.Errorf("bitplane %d: %d bytes for %d coefficients: %w", b, len(chunk), len(partial), mdrerrors.ErrSizeMismatch)
		}
		w := negabinaryWeight(p, b)
		for i := range partial {
			if chunk[i>>3]>>(7-uint(i&7))&1 == 1 {
				partial[i] += w
			}
		}
	}
	return nil
}

// negabinaryWeight is (-2)^(B-1-b) scaled by the quantization unit.
func negabinaryWeight(p Params, b int) float64 {
	w := math.Ldexp(1, p.Exponent+1-b)
	if (p.Bitplanes-1-b)%2 == 1 {
		return -w
	}
	return w
}
