package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clientflow_runs_scheduled_total",
			Help: "Workflow runs persisted in scheduled state",
		},
		[]string{"immediate"},
	)
	runsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clientflow_runs_finished_total",
			Help: "Workflow runs that reached a terminal status",
		},
		[]string{"status"},
	)
	actionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clientflow_actions_total",
			Help: "Actions attempted, by type and outcome",
		},
		[]string{"type", "status"},
	)
	scheduleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientflow_schedule_errors_total",
			Help: "Matched workflows whose run could not be persisted",
		},
	)
	claimsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientflow_claims_lost_total",
			Help: "Runs skipped because another worker claimed them first",
		},
	)
	storeRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clientflow_run_store_retries_total",
			Help: "Retried writes of action results and terminal statuses",
		},
	)
	actionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clientflow_action_duration_seconds",
			Help:    "Action execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)
