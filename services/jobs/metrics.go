package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_job_executions_total",
		Help: "Job executions by final status.",
	}, []string{"job", "status"})

	scheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_job_scheduled_runs_total",
		Help: "Scheduled job triggers by result.",
	}, []string{"job", "result"})
)
