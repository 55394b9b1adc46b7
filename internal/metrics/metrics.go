// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by terminal status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpilot_runs_total",
		Help: "Campaign runs by terminal status.",
	}, []string{"status"})

	// StepsTotal counts executed steps by engine and outcome.
	StepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpilot_steps_total",
		Help: "Executed steps by engine kind and outcome.",
	}, []string{"engine", "outcome"})

	// RunCostTotal accumulates spend across all runs.
	RunCostTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpilot_run_cost_total",
		Help: "Total cost accumulated by campaign runs.",
	})

	// SchedulerSkips counts firings dropped by single-flight.
	SchedulerSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpilot_scheduler_skips_total",
		Help: "Scheduled firings dropped because a run was in flight.",
	})

	// ActiveSchedules tracks the number of scheduled campaigns.
	ActiveSchedules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leadpilot_active_schedules",
		Help: "Campaigns currently registered in the cron scheduler.",
	})
)
