package engine

import (
	"time"

	"github.com/xtxerr/mdr/internal/estimate"
	"github.com/xtxerr/mdr/internal/metadata"
)

// LevelReport summarizes how one level was encoded.
type LevelReport struct {
	Level        int
	Coefficients int
	Bitplanes    int
	Exponent     int
	RawBytes     int64
	StoredBytes  int64
	// RawPlanes counts chunks stored uncompressed.
	RawPlanes int
	// Floor is the level's contribution with every bitplane decoded.
	Floor   float64
	Summary estimate.LevelSummary
}

// RefactorReport is the outcome of one Refactor call.
type RefactorReport struct {
	Block    int
	Metadata *metadata.Metadata
	// Requested is the caller's bitplane count before adjustment.
	Requested   int
	Bitplanes   int
	Levels      []LevelReport
	RawBytes    int64
	StoredBytes int64
	Started     time.Time
	Duration    time.Duration
}

// Ratio returns the stored-to-raw byte ratio.
func (r *RefactorReport) Ratio() float64 {
	if r.RawBytes == 0 {
		return 1
	}
	return float64(r.StoredBytes) / float64(r.RawBytes)
}

// RetrieveReport is the outcome of one ProgressiveReconstruct call.
type RetrieveReport struct {
	Session   string
	Block     int
	Call      int
	Planner   string
	Tolerance float64
	Budget    int64

	Requests int
	// PlannedBytes is the plan size; Bytes excludes levels that failed.
	PlannedBytes int64
	Bytes        int64
	LevelBytes   []int64
	TotalBytes   int64
	Retrieved    []int
	Degraded     []int

	Achieved  float64
	Satisfied bool
	Started   time.Time
	Duration  time.Duration
}

// Observer receives engine reports. Implementations must be safe for
// concurrent use when engines of several blocks share them.
type Observer interface {
	ObserveRefactor(r *RefactorReport)
	ObserveRetrieve(r *RetrieveReport)
}

// Observers fans reports out to several observers.
type Observers []Observer

// ObserveRefactor implements Observer.
func (o Observers) ObserveRefactor(r *RefactorReport) {
	for _, obs := range o {
		obs.ObserveRefactor(r)
	}
}

// ObserveRetrieve implements Observer.
func (o Observers) ObserveRetrieve(r *RetrieveReport) {
	for _, obs := range o {
		obs.ObserveRetrieve(r)
	}
}

type nopObserver struct{}

func (nopObserver) ObserveRefactor(*RefactorReport) {}
func (nopObserver) ObserveRetrieve(*RetrieveReport) {}
