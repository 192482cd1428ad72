package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/mdr/internal/engine"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	o.ObserveRefactor(&engine.RefactorReport{RawBytes: 400, StoredBytes: 100, Duration: 5 * time.Millisecond})
	o.ObserveRefactor(&engine.RefactorReport{RawBytes: 600, StoredBytes: 300, Duration: 7 * time.Millisecond})

	o.ObserveRetrieve(&engine.RetrieveReport{Planner: "greedy", Block: 0, Bytes: 64, Achieved: 0.01, Satisfied: true})
	o.ObserveRetrieve(&engine.RetrieveReport{Planner: "greedy", Block: 0, Bytes: 32, Achieved: 0.001, Degraded: []int{1, 2}})
	o.ObserveRetrieve(&engine.RetrieveReport{Planner: "roundrobin", Block: 1, Bytes: 8, Achieved: 0.5, Satisfied: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(o.refactors))
	assert.Equal(t, 1000.0, testutil.ToFloat64(o.refactorRaw))
	assert.Equal(t, 400.0, testutil.ToFloat64(o.refactorStored))

	assert.Equal(t, 2.0, testutil.ToFloat64(o.retrievals.WithLabelValues("greedy")))
	assert.Equal(t, 96.0, testutil.ToFloat64(o.retrieveBytes.WithLabelValues("greedy")))
	assert.Equal(t, 8.0, testutil.ToFloat64(o.retrieveBytes.WithLabelValues("roundrobin")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.degraded))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.unsatisfied))
	assert.Equal(t, 0.001, testutil.ToFloat64(o.achieved.WithLabelValues("0")))
	assert.Equal(t, 0.5, testutil.ToFloat64(o.achieved.WithLabelValues("1")))

	n, err := testutil.GatherAndCount(reg, "mdr_retrieve_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestObserver_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
