// Package metrics defines the Prometheus collectors for the update
// pipeline and search path. Collectors are package-level so any
// component can record without plumbing a registry through
// constructors; the HTTP server registers them once at startup via
// Register.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var UpdateResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stela",
	Subsystem: "updates",
	Name:      "results",
}, []string{"type", "status"})

var UpdateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "stela",
	Subsystem: "updates",
	Name:      "duration_seconds",
	Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 60, 300},
}, []string{"type"})

var PendingUpdates = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "stela",
	Subsystem: "updates",
	Name:      "pending",
})

var Searches = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "stela",
	Subsystem: "search",
	Name:      "queries",
}, []string{"index"})

var SearchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "stela",
	Subsystem: "search",
	Name:      "duration_seconds",
	Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5},
}, []string{"index"})

// Register attaches every package-level collector to reg. Call once
// per registry; registering the same collector twice panics.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		UpdateResults,
		UpdateDuration,
		PendingUpdates,
		Searches,
		SearchDuration,
	)
}

// ForgetIndex drops the label series recorded for a deleted index so
// stale series do not linger in scrapes.
func ForgetIndex(uid string) {
	Searches.DeleteLabelValues(uid)
	SearchDuration.DeleteLabelValues(uid)
}
