package estimate

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mdr/internal/bitplane"
	mdrerrors "github.com/xtxerr/mdr/internal/errors"
)

func TestEstimator_Contribution(t *testing.T) {
	pe := bitplane.PrefixError{MaxAbs: 0.5, SumSquares: 2}

	maxNorm, err := New(NormMax, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, maxNorm.Contribution(3, 2, pe), 1e-15) // 2^(2/2) * 0.5
	assert.InDelta(t, math.Sqrt2/2, maxNorm.Contribution(0, 1, pe), 1e-15)

	l2, err := New(NormSNorm, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, l2.Contribution(5, 3, pe))

	s1, err := New(NormSNorm, 1)
	require.NoError(t, err)
	assert.Equal(t, 32.0, s1.Contribution(2, 3, pe)) // 2^(2*1*2) * 2
}

func TestEstimator_ThresholdAchieved(t *testing.T) {
	maxNorm := Estimator{Norm: NormMax}
	assert.Equal(t, 0.3, maxNorm.Threshold(0.3))
	assert.Equal(t, 0.3, maxNorm.Achieved(0.3))

	l2 := Estimator{Norm: NormSNorm}
	assert.InDelta(t, 0.09, l2.Threshold(0.3), 1e-15)
	assert.InDelta(t, 0.3, l2.Achieved(0.09), 1e-15)
}

func TestLevelRow_Monotone(t *testing.T) {
	e := Estimator{Norm: NormMax}
	errs := []bitplane.PrefixError{
		{MaxAbs: 4}, {MaxAbs: 1}, {MaxAbs: 2}, {MaxAbs: 0.5}, {MaxAbs: 0},
	}
	row := e.LevelRow(0, 0, errs)
	assert.Equal(t, []float64{4, 2, 2, 0.5, 0}, row)

	for k, pe := range errs {
		assert.GreaterOrEqual(t, row[k], e.Contribution(0, 0, pe))
	}
}

func TestTable_EstimateTotalFloor(t *testing.T) {
	tab := Table{
		{8, 4, 2},
		{3, 1, 0.5},
	}
	assert.Equal(t, 11.0, tab.Total([]int{0, 0}))
	assert.Equal(t, 2.5, tab.Total([]int{2, 2}))
	assert.Equal(t, 2.5, tab.Floor())
	assert.Equal(t, 2.0, tab.Estimate(0, 9))

	require.NoError(t, tab.Validate([]int{2, 2}))
	assert.ErrorIs(t, tab.Validate([]int{2}), mdrerrors.ErrMetadataCorruption)
	assert.ErrorIs(t, tab.Validate([]int{2, 3}), mdrerrors.ErrMetadataCorruption)
	assert.ErrorIs(t, Table{{1, 2}}.Validate([]int{1}), mdrerrors.ErrMetadataCorruption)
}

func TestParseNorm(t *testing.T) {
	n, err := ParseNorm("snorm")
	require.NoError(t, err)
	assert.Equal(t, NormSNorm, n)

	_, err = ParseNorm("l1")
	assert.ErrorIs(t, err, mdrerrors.ErrUnknownPolicy)

	_, err = New(NormSNorm, math.Inf(1))
	assert.ErrorIs(t, err, mdrerrors.ErrConfiguration)
}

func TestValidateTolerance(t *testing.T) {
	assert.NoError(t, ValidateTolerance(0))
	assert.NoError(t, ValidateTolerance(math.Inf(1)))
	assert.ErrorIs(t, ValidateTolerance(-1), mdrerrors.ErrInvalidTolerance)
	assert.ErrorIs(t, ValidateTolerance(math.NaN()), mdrerrors.ErrInvalidTolerance)
}

func TestLevelStats(t *testing.T) {
	s := NewLevelStats(2, DefaultSketchAccuracy)
	s.AddAll([]float64{0, -3, 4})

	other := NewLevelStats(2, DefaultSketchAccuracy)
	other.AddAll([]float64{1})
	s.Merge(other)

	sum := s.Summary()
	assert.Equal(t, 2, sum.Level)
	assert.Equal(t, int64(4), sum.Count)
	assert.Equal(t, int64(1), sum.Zeros)
	assert.Equal(t, 4.0, sum.Max)
	assert.InDelta(t, math.Sqrt(26.0/4), sum.RMS, 1e-12)
	// Lower-rank quantile: rank 0.99*(n-1) of {0,1,3,4} falls on 3.
	require.NotNil(t, sum.P99)
	assert.InEpsilon(t, 3.0, *sum.P99, 2*DefaultSketchAccuracy)
	assert.Zero(t, sum.Rejected)
}

func TestLevelStats_LargeSampleQuantiles(t *testing.T) {
	s := NewLevelStats(0, DefaultSketchAccuracy)
	coeffs := make([]float64, 1000)
	for i := range coeffs {
		coeffs[i] = float64(i + 1)
	}
	s.AddAll(coeffs)

	sum := s.Summary()
	require.NotNil(t, sum.P50)
	assert.InEpsilon(t, 500.0, *sum.P50, 2*DefaultSketchAccuracy)
	assert.InEpsilon(t, 990.0, *sum.P99, 2*DefaultSketchAccuracy)
}

func TestLevelStats_RejectsInf(t *testing.T) {
	s := NewLevelStats(1, DefaultSketchAccuracy)
	s.AddAll([]float64{1, math.Inf(-1), 2})

	sum := s.Summary()
	assert.Equal(t, int64(3), sum.Count)
	assert.Equal(t, int64(1), sum.Rejected)
}

func TestLevelStats_ConcurrentCrossMerge(t *testing.T) {
	a := NewLevelStats(0, DefaultSketchAccuracy)
	b := NewLevelStats(0, DefaultSketchAccuracy)
	a.AddAll([]float64{1, 2})
	b.AddAll([]float64{3})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.Merge(b) }()
		go func() { defer wg.Done(); b.Merge(a) }()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("cross merge deadlocked")
	}
	assert.Greater(t, a.Summary().Count, int64(2))
}

func TestLevelStats_NoSketch(t *testing.T) {
	s := NewLevelStats(0, 0)
	s.AddAll([]float64{1, 2})
	sum := s.Summary()
	assert.Nil(t, sum.P50)
	assert.Equal(t, 2.0, sum.Max)
}
