package runstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeaseTotal tracks lease acquisitions by result
	LeaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_run_lease_total",
			Help: "Total number of run lease acquisitions by result",
		},
		[]string{"result"}, // "acquired", "busy", "error"
	)

	// StoreErrors tracks redis operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricesync_runstore_errors_total",
			Help: "Total number of run store operation errors",
		},
		[]string{"operation"}, // "acquire", "refresh", "release", "save", "load"
	)
)
