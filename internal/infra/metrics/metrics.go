package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pulse"

// Label values for outcome labels.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultInvalid = "invalid"
	ResultSkipped = "skipped"
)

// Metrics holds the section pulse tracker's collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	collectionsRecorded *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	rowFailures         *prometheus.CounterVec
	violations          *prometheus.CounterVec
	tenantReconciles    *prometheus.CounterVec
	reconcileDuration   *prometheus.HistogramVec
	sweepsCompleted     prometheus.Counter
	lastSweepTimestamp  prometheus.Gauge
	feedNotifications   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		collectionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_recorded_total",
			Help:      "Collection events applied by the pulse writer, by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_transitions_total",
			Help:      "Rows changed by the reconciler, by pass.",
		}, []string{"pass"}),
		rowFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_row_failures_total",
			Help:      "Per-row reconciler updates that failed and were skipped until the next tick.",
		}, []string{"pass"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_quality_violations_total",
			Help:      "Rows found breaking a section pulse invariant, by kind.",
		}, []string{"kind"}),
		tenantReconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_reconciles_total",
			Help:      "Per-tenant reconcile runs started by the scheduler, by result.",
		}, []string{"result"}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tenant_reconcile_duration_seconds",
			Help:      "Duration of one tenant's reconcile.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"result"}),
		sweepsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_completed_total",
			Help:      "Scheduler sweeps that ran to completion.",
		}),
		lastSweepTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep's as-of instant.",
		}),
		feedNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_feed_notifications_total",
			Help:      "Collection feed notifications received, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.collectionsRecorded, m.transitions, m.rowFailures, m.violations,
			m.tenantReconciles, m.reconcileDuration, m.sweepsCompleted,
			m.lastSweepTimestamp, m.feedNotifications,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func resultOf(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}

// RecordCollection counts one writer call.
func (m *Metrics) RecordCollection(result string) {
	if m == nil {
		return
	}
	m.collectionsRecorded.WithLabelValues(result).Inc()
}

// RecordTransitions adds n reconciler changes made by pass.
func (m *Metrics) RecordTransitions(pass string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.transitions.WithLabelValues(pass).Add(float64(n))
}

func (m *Metrics) RecordRowFailure(pass string) {
	if m == nil {
		return
	}
	m.rowFailures.WithLabelValues(pass).Inc()
}

func (m *Metrics) RecordViolation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

// RecordTenantReconcile records one tenant run and how long it took.
func (m *Metrics) RecordTenantReconcile(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := resultOf(err)
	m.tenantReconciles.WithLabelValues(result).Inc()
	m.reconcileDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordTenantSkipped counts a tenant skipped because its previous run is still going.
func (m *Metrics) RecordTenantSkipped() {
	if m == nil {
		return
	}
	m.tenantReconciles.WithLabelValues(ResultSkipped).Inc()
}

func (m *Metrics) RecordSweep(asOf time.Time) {
	if m == nil {
		return
	}
	m.sweepsCompleted.Inc()
	m.lastSweepTimestamp.Set(float64(asOf.Unix()))
}

func (m *Metrics) RecordFeedNotification(result string) {
	if m == nil {
		return
	}
	m.feedNotifications.WithLabelValues(result).Inc()
}
