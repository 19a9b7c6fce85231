package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(backgroundRunsTotal) }

var backgroundRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_job_runs_total",
		Help: "Background job ticks by job and outcome.",
	},
	[]string{"job", "outcome"}, // outcome: ok|error|skipped_locked
)

func IncJobRun(job, outcome string) {
	backgroundRunsTotal.WithLabelValues(norm(job), norm(outcome)).Inc()
}
