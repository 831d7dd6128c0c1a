// SPDX-License-Identifier: MIT

// Package metrics registers and exposes the Prometheus instrumentation for
// the rtnavd pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReceiverRecordsTotal counts decoded receiver records by kind.
	ReceiverRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_receiver_records_total",
		Help: "Decoded receiver records by kind",
	}, []string{"kind"})

	// CorrectionRecordsTotal counts decoded correction records by station
	// and whether the synchronizer accepted them.
	CorrectionRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_correction_records_total",
		Help: "Decoded correction records by station and acceptance",
	}, []string{"station", "accepted"})

	// EpochsFinalizedTotal counts finalized epochs by disposition.
	EpochsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_epochs_finalized_total",
		Help: "Finalized epochs by disposition (ready, discarded_incomplete, expired)",
	}, []string{"disposition"})

	// LateArrivalsTotal counts records dropped because their epoch was
	// already finalized.
	LateArrivalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_late_arrivals_total",
		Help: "Records dropped after their epoch was finalized",
	}, []string{"source"})

	// OpenBuckets tracks the number of epoch buckets currently open.
	OpenBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtnav_open_buckets",
		Help: "Epoch buckets currently accumulating records",
	})

	// SolveDuration tracks solver invocation latency by outcome label.
	SolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtnav_solve_duration_seconds",
		Help:    "Solver invocation latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"outcome"})

	// OutcomesTotal counts per-epoch outcomes delivered to the sink.
	OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_outcomes_total",
		Help: "Per-epoch outcomes delivered to the result sink",
	}, []string{"outcome"})

	// SinkErrorsTotal counts failed sink publishes.
	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtnav_sink_errors_total",
		Help: "Failed result sink publishes by sink",
	}, []string{"sink"})
)

// IncReceiverRecord records one decoded receiver record.
func IncReceiverRecord(kind string) {
	ReceiverRecordsTotal.WithLabelValues(kind).Inc()
}

// IncCorrectionRecord records one decoded correction record.
func IncCorrectionRecord(station string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	CorrectionRecordsTotal.WithLabelValues(station, label).Inc()
}

// IncEpochFinalized records one finalized epoch.
func IncEpochFinalized(disposition string) {
	EpochsFinalizedTotal.WithLabelValues(disposition).Inc()
}

// IncLateArrival records one late record drop.
func IncLateArrival(source string) {
	LateArrivalsTotal.WithLabelValues(source).Inc()
}

// SetOpenBuckets updates the open-bucket gauge.
func SetOpenBuckets(n int) {
	OpenBuckets.Set(float64(n))
}

// ObserveSolve records one solver invocation.
func ObserveSolve(outcome string, d time.Duration) {
	SolveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncOutcome records one outcome delivered downstream.
func IncOutcome(outcome string) {
	OutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncSinkError records one failed sink publish.
func IncSinkError(sink string) {
	SinkErrorsTotal.WithLabelValues(sink).Inc()
}
