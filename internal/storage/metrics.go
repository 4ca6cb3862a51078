package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_cache_lookups_total",
			Help: "Document cache lookups by collection and result (hit, miss, expired, mismatch).",
		},
		[]string{"collection", "result"},
	)

	backendOps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstore_backend_op_seconds",
			Help:    "Latency of remote document database calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "status"},
	)

	activeListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_active_listeners",
			Help: "Open change feed subscriptions.",
		},
	)

	writeConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_write_conflicts_total",
			Help: "Read-modify-write attempts rejected by a version precondition.",
		},
		[]string{"collection"},
	)
)

func init() {
	prometheus.MustRegister(cacheLookups, backendOps, activeListeners, writeConflicts)
}

func observeBackend(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	backendOps.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
