package repricer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	variantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricesync_variants_total",
		Help: "Variants processed by status and reason",
	}, []string{"status", "reason"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricesync_runs_total",
		Help: "Bulk update runs by result (completed, incomplete, lease_lost, cancelled, aborted, invalid, busy)",
	}, []string{"result"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricesync_run_duration_seconds",
		Help:    "Duration of bulk update runs",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricesync_last_run_timestamp_seconds",
		Help: "Unix time at which the last run finished",
	})
)
