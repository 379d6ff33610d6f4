package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StagesSucceededTotal tracks stages that completed successfully.
var StagesSucceededTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pydpiper_stages_succeeded_total",
		Help: "Total stages that completed successfully",
	},
	[]string{"pipeline"},
)

// StagesFailedTotal tracks failed stage attempts, including worker-loss
// failures.
var StagesFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pydpiper_stages_failed_total",
		Help: "Total failed stage attempts",
	},
	[]string{"pipeline"},
)

// StageRetriesTotal tracks stages requeued after a transient failure.
var StageRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pydpiper_stage_retries_total",
		Help: "Total stage requeues after transient failure",
	},
	[]string{"pipeline"},
)

// StagesPermanentlyFailedTotal tracks stages whose retry budget ran out.
var StagesPermanentlyFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pydpiper_stages_permanently_failed_total",
		Help: "Total stages marked permanently failed",
	},
	[]string{"pipeline"},
)

// StagesSkippedTotal tracks stages seeded from the completion ledger.
var StagesSkippedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pydpiper_stages_skipped_total",
		Help: "Total stages skipped via ledger resume",
	},
	[]string{"pipeline"},
)

// WorkersRegisteredTotal tracks worker registrations.
var WorkersRegisteredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pydpiper_workers_registered_total",
		Help: "Total workers registered",
	},
	[]string{"pipeline"},
)

// WorkersLostTotal tracks workers declared dead after missed heartbeats.
var WorkersLostTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pydpiper_workers_lost_total",
		Help: "Total workers declared dead by heartbeat supervision",
	},
	[]string{"pipeline"},
)

// ActiveWorkers tracks the current number of live workers.
var ActiveWorkers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pydpiper_active_workers",
		Help: "Current live workers",
	},
	[]string{"pipeline"},
)

// RunnableStages tracks the current size of the runnable set.
var RunnableStages = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pydpiper_runnable_stages",
		Help: "Current runnable stages awaiting assignment",
	},
	[]string{"pipeline"},
)

// StageDuration observes wall time per completed stage attempt.
var StageDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pydpiper_stage_duration_seconds",
		Help:    "Wall time per completed stage attempt",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	},
	[]string{"pipeline"},
)
