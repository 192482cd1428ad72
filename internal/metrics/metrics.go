// Package metrics exports engine reports as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xtxerr/mdr/internal/engine"
)

// Observer is an engine.Observer that updates Prometheus collectors.
type Observer struct {
	refactors      prometheus.Counter
	refactorRaw    prometheus.Counter
	refactorStored prometheus.Counter
	refactorTime   prometheus.Histogram

	retrievals    *prometheus.CounterVec
	retrieveBytes *prometheus.CounterVec
	degraded      prometheus.Counter
	unsatisfied   prometheus.Counter
	retrieveTime  *prometheus.HistogramVec
	achieved      *prometheus.GaugeVec
}

var _ engine.Observer = (*Observer)(nil)

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Observer{
		refactors: f.NewCounter(prometheus.CounterOpts{
			Name: "mdr_refactor_total",
			Help: "Total refactored blocks",
		}),
		refactorRaw: f.NewCounter(prometheus.CounterOpts{
			Name: "mdr_refactor_raw_bytes_total",
			Help: "Bitplane bytes before compression",
		}),
		refactorStored: f.NewCounter(prometheus.CounterOpts{
			Name: "mdr_refactor_stored_bytes_total",
			Help: "Bitplane bytes written to storage",
		}),
		refactorTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdr_refactor_duration_seconds",
			Help:    "Refactor duration per block in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		retrievals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mdr_retrieve_total",
			Help: "Total progressive calls by planner",
		}, []string{"planner"}),
		retrieveBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mdr_retrieve_bytes_total",
			Help: "Bytes fetched by progressive calls by planner",
		}, []string{"planner"}),
		degraded: f.NewCounter(prometheus.CounterOpts{
			Name: "mdr_retrieve_degraded_levels_total",
			Help: "Levels dropped from a call after a fetch or decode failure",
		}),
		unsatisfied: f.NewCounter(prometheus.CounterOpts{
			Name: "mdr_retrieve_unsatisfied_total",
			Help: "Progressive calls that ended above their tolerance",
		}),
		retrieveTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mdr_retrieve_duration_seconds",
			Help:    "Progressive call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
		}, []string{"planner"}),
		achieved: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdr_retrieve_achieved_error",
			Help: "Error bound after the latest call of each block",
		}, []string{"block"}),
	}
}

// ObserveRefactor implements engine.Observer.
func (o *Observer) ObserveRefactor(r *engine.RefactorReport) {
	o.refactors.Inc()
	o.refactorRaw.Add(float64(r.RawBytes))
	o.refactorStored.Add(float64(r.StoredBytes))
	o.refactorTime.Observe(r.Duration.Seconds())
}

// ObserveRetrieve implements engine.Observer.
func (o *Observer) ObserveRetrieve(r *engine.RetrieveReport) {
	o.retrievals.WithLabelValues(r.Planner).Inc()
	o.retrieveBytes.WithLabelValues(r.Planner).Add(float64(r.Bytes))
	o.retrieveTime.WithLabelValues(r.Planner).Observe(r.Duration.Seconds())
	o.degraded.Add(float64(len(r.Degraded)))
	if !r.Satisfied {
		o.unsatisfied.Inc()
	}
	o.achieved.WithLabelValues(strconv.Itoa(r.Block)).Set(r.Achieved)
}
