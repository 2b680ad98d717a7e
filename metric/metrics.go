// Package metric defines the Prometheus instrumentation the engines emit.
// A nil *Metrics disables collection, so callers never need nil checks.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/featstore/featstore-go/errors"
)

type Metrics struct {
	RowsMaterialized    *prometheus.CounterVec
	MaterializeRuns     *prometheus.CounterVec
	MaterializeDuration *prometheus.HistogramVec
	RowsPushed          *prometheus.CounterVec
	PushBatches         *prometheus.CounterVec
	JoinDuration        prometheus.Histogram
	OnlineGetDuration   prometheus.Histogram
	ErrorsTotal         *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	return &Metrics{
		RowsMaterialized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "rows_total",
			Help:      "Rows written to the online store, per view.",
		}, []string{"view"}),
		MaterializeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "view_runs_total",
			Help:      "Per view materialization outcomes.",
		}, []string{"view", "status"}),
		MaterializeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "view_duration_seconds",
			Help:      "Time spent materializing one view.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
		RowsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "rows_total",
			Help:      "Rows accepted through the push gateway, per view and mode.",
		}, []string{"view", "mode"}),
		PushBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "batches_total",
			Help:      "Push batch outcomes, per view.",
		}, []string{"view", "status"}),
		JoinDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "historical_join_duration_seconds",
			Help:      "End to end time of historical retrievals.",
			Buckets:   prometheus.DefBuckets,
		}),
		OnlineGetDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "serving",
			Name:      "online_get_duration_seconds",
			Help:      "End to end time of online retrievals.",
			Buckets:   prometheus.DefBuckets,
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors returned to callers, per component.",
		}, []string{"component"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RowsMaterialized,
		m.MaterializeRuns,
		m.MaterializeDuration,
		m.RowsPushed,
		m.PushBatches,
		m.JoinDuration,
		m.OnlineGetDuration,
		m.ErrorsTotal,
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	var err error
	for _, c := range m.collectors() {
		err = errors.CombineErrors(err, reg.Register(c))
	}
	return err
}

func (m *Metrics) AddRowsMaterialized(view string, n int64) {
	if m == nil {
		return
	}
	m.RowsMaterialized.WithLabelValues(view).Add(float64(n))
}

func (m *Metrics) IncMaterializeRun(view, status string) {
	if m == nil {
		return
	}
	m.MaterializeRuns.WithLabelValues(view, status).Inc()
}

func (m *Metrics) ObserveMaterializeDuration(view string, d time.Duration) {
	if m == nil {
		return
	}
	m.MaterializeDuration.WithLabelValues(view).Observe(d.Seconds())
}

func (m *Metrics) AddRowsPushed(view, mode string, n int64) {
	if m == nil {
		return
	}
	m.RowsPushed.WithLabelValues(view, mode).Add(float64(n))
}

func (m *Metrics) IncPushBatch(view, status string) {
	if m == nil {
		return
	}
	m.PushBatches.WithLabelValues(view, status).Inc()
}

func (m *Metrics) ObserveJoinDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.JoinDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveOnlineGetDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.OnlineGetDuration.Observe(d.Seconds())
}

func (m *Metrics) IncError(component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component).Inc()
}
