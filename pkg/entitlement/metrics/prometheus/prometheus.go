package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitlement.Metrics using Prometheus.
type Metrics struct {
	accessChecksTotal   *prometheus.CounterVec
	accessCheckDuration *prometheus.HistogramVec
	trackTotal          *prometheus.CounterVec
	storageOpsDuration  *prometheus.HistogramVec
	storageOpsErrors    *prometheus.CounterVec
	snapshotCacheHits   *prometheus.CounterVec
	snapshotCacheMisses *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		accessChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_checks_total",
			Help:      "Total number of access checks.",
		}, []string{"feature", "tier", "granted"}),

		accessCheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_check_duration_seconds",
			Help:      "Latency of access checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feature"}),

		trackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_tracks_total",
			Help:      "Total number of usage tracking attempts.",
		}, []string{"feature", "tier", "accepted"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		snapshotCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		}, []string{"type"}),

		snapshotCacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		}, []string{"type"}),
	}
}

func (m *Metrics) RecordAccessCheck(feature, tier string, granted bool, duration time.Duration) {
	m.accessChecksTotal.WithLabelValues(feature, tier, strconv.FormatBool(granted)).Inc()
	m.accessCheckDuration.WithLabelValues(feature).Observe(duration.Seconds())
}

func (m *Metrics) RecordTrack(feature, tier string, accepted bool) {
	m.trackTotal.WithLabelValues(feature, tier, strconv.FormatBool(accepted)).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCacheHit(cacheType string) {
	m.snapshotCacheHits.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.snapshotCacheMisses.WithLabelValues(cacheType).Inc()
}
