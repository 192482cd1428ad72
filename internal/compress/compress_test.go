package compress

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

func sparseChunk(n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i += 97 {
		b[i] = 0x80
	}
	return b
}

func noiseChunk(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(7)).Read(b)
	return b
}

func TestAdaptive_RoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmNone, AlgorithmZstd, AlgorithmLZ4} {
		t.Run(alg.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Algorithm = alg
			a, err := New(opts)
			require.NoError(t, err)
			defer a.Close()

			for _, chunk := range [][]byte{sparseChunk(4096), noiseChunk(1024), {}, {1}} {
				stored, raw := a.Compress(chunk)
				out, err := a.Decompress(stored, raw, len(chunk))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(chunk, out))
			}
		})
	}
}

func TestAdaptive_CompressibleStoredCompressed(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmZstd, AlgorithmLZ4} {
		a, err := New(Options{Algorithm: alg, Level: 1, MinSavings: 0.05})
		require.NoError(t, err)

		chunk := sparseChunk(8192)
		stored, raw := a.Compress(chunk)
		assert.False(t, raw, alg.String())
		assert.Less(t, len(stored), len(chunk))
		a.Close()
	}
}

func TestAdaptive_IncompressibleStoredRaw(t *testing.T) {
	a, err := New(DefaultOptions())
	require.NoError(t, err)
	defer a.Close()

	chunk := noiseChunk(2048)
	stored, raw := a.Compress(chunk)
	assert.True(t, raw)
	assert.Equal(t, chunk, stored)
}

func TestAdaptive_NoneAlwaysRaw(t *testing.T) {
	a, err := New(Options{Algorithm: AlgorithmNone})
	require.NoError(t, err)
	_, raw := a.Compress(sparseChunk(4096))
	assert.True(t, raw)
}

func TestAdaptive_SizeMismatch(t *testing.T) {
	a, err := New(DefaultOptions())
	require.NoError(t, err)
	defer a.Close()

	chunk := sparseChunk(4096)
	stored, raw := a.Compress(chunk)
	require.False(t, raw)

	_, err = a.Decompress(stored, raw, len(chunk)+1)
	assert.ErrorIs(t, err, mdrerrors.ErrSizeMismatch)

	_, err = a.Decompress([]byte{1, 2}, true, 3)
	assert.ErrorIs(t, err, mdrerrors.ErrSizeMismatch)
}

func TestAdaptive_DecompressWithOtherAlgorithm(t *testing.T) {
	lz, err := New(Options{Algorithm: AlgorithmLZ4, MinSavings: 0.05})
	require.NoError(t, err)
	zs, err := New(DefaultOptions())
	require.NoError(t, err)

	chunk := sparseChunk(4096)
	stored, raw := lz.Compress(chunk)
	require.False(t, raw)

	out, err := zs.DecompressWith(AlgorithmLZ4, stored, raw, len(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk, out)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{Algorithm: AlgorithmZstd, Level: 9})
	assert.ErrorIs(t, err, mdrerrors.ErrConfiguration)

	_, err = New(Options{Algorithm: AlgorithmZstd, Level: 2, MinSavings: 1})
	assert.ErrorIs(t, err, mdrerrors.ErrConfiguration)

	_, err = New(Options{Algorithm: Algorithm(7)})
	assert.ErrorIs(t, err, mdrerrors.ErrUnknownPolicy)

	_, err = ParseAlgorithm("brotli")
	assert.ErrorIs(t, err, mdrerrors.ErrUnknownPolicy)
}
