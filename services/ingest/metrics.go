package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeInserted  = "inserted"
	outcomeSkipped   = "skipped"
	outcomeDuplicate = "duplicate"
	outcomeMalformed = "malformed"
	outcomeFailed    = "failed"
)

var (
	candidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "ingest",
		Name:      "candidates_total",
		Help:      "Export candidates by outcome.",
	}, []string{"job", "outcome"})

	batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Subsystem: "ingest",
		Name:      "batches_total",
		Help:      "Batch writes by result.",
	}, []string{"job", "result"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Subsystem: "ingest",
		Name:      "batch_duration_seconds",
		Help:      "Time spent persisting one batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	checkpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "catalog",
		Subsystem: "ingest",
		Name:      "checkpoint_lines",
		Help:      "Last committed export offset per job.",
	}, []string{"job"})

	fanoutInflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "catalog",
		Subsystem: "ingest",
		Name:      "fanout_inflight_tasks",
		Help:      "Fan-out tasks currently running.",
	}, []string{"job"})
)
