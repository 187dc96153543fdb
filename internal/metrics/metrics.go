// Package metrics exposes Prometheus instrumentation for analysis runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons used as label values.
const (
	ReasonLoad   = "load"
	ReasonBounds = "bounds"
	ReasonShape  = "shape"
)

// Run outcomes used as label values.
const (
	OutcomeFinalized = "finalized"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var (
	RecordsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "millifluidic_records_processed_total",
		Help: "Total number of records folded into a change map",
	})

	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "millifluidic_records_skipped_total",
		Help: "Records skipped because they could not be loaded or did not match the reference",
	}, []string{"reason"})

	PreprocessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "millifluidic_preprocess_duration_seconds",
		Help:    "Time to load, crop and threshold one record",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	FoldDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "millifluidic_fold_duration_seconds",
		Help:    "Time to fold one record and measure its area",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "millifluidic_runs_total",
		Help: "Analysis runs by outcome",
	}, []string{"outcome"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "millifluidic_server_active_jobs",
		Help: "Analysis jobs currently running in the HTTP server",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "millifluidic_server_stream_clients",
		Help: "Open websocket progress streams",
	})
)
