package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobsStarted counts accepted recomputation jobs by entity kind.
var JobsStarted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argostats",
		Subsystem: "worker",
		Name:      "jobs_started_total",
		Help:      "Total number of statistics jobs started",
	},
	[]string{"entity_type"},
)

// JobsSucceeded counts completed jobs by entity kind.
var JobsSucceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argostats",
		Subsystem: "worker",
		Name:      "jobs_succeeded_total",
		Help:      "Total number of statistics jobs completed successfully",
	},
	[]string{"entity_type"},
)

// JobsFailed counts terminally failed jobs by entity kind.
var JobsFailed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argostats",
		Subsystem: "worker",
		Name:      "jobs_failed_total",
		Help:      "Total number of statistics jobs that failed after retries",
	},
	[]string{"entity_type"},
)

// JobsRejected counts jobs turned away at admission, either as duplicates of
// an in-flight job or because the queue was full.
var JobsRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argostats",
		Subsystem: "worker",
		Name:      "jobs_rejected_total",
		Help:      "Total number of statistics jobs rejected at admission",
	},
	[]string{"reason"}, // duplicate, queue_full, stopped
)

// FoldDuration observes end-to-end job execution time.
var FoldDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "argostats",
		Subsystem: "worker",
		Name:      "fold_duration_seconds",
		Help:      "End-to-end statistics job duration in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	},
	[]string{"entity_type"},
)

// QueueDepth tracks the number of jobs waiting in the bounded queue.
var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "argostats",
		Subsystem: "worker",
		Name:      "queue_depth",
		Help:      "Current number of queued statistics jobs",
	},
)
