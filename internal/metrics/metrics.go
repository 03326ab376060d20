// Package metrics defines the orchestrator's Prometheus metrics. Imported
// for side effects by main; individual packages update the exported vars.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskpilot_runs_started_total",
			Help: "Total number of orchestrator runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_runs_completed_total",
			Help: "Total number of orchestrator runs completed",
		},
		[]string{"status"},
	)

	RunsPaused = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskpilot_runs_paused_total",
			Help: "Total number of pause episodes observed at step boundaries",
		},
	)

	// Step metrics
	StepsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskpilot_steps_started_total",
			Help: "Total number of steps started",
		},
	)

	StepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskpilot_step_failures_total",
			Help: "Total number of retryable step failures",
		},
	)

	StepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskpilot_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Role metrics
	PlannerInvocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskpilot_planner_invocations_total",
			Help: "Total number of planning role invocations",
		},
	)

	RoleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_role_failures_total",
			Help: "Total number of role invocation failures",
		},
		[]string{"role"},
	)

	ValidationRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskpilot_validation_rejections_total",
			Help: "Total number of negative verification judgments",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskpilot_breaker_state",
			Help: "Circuit breaker state per role (0=closed, 1=half-open, 2=open)",
		},
		[]string{"role"},
	)

	// Controller metrics
	ExplorationIntensity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskpilot_exploration_intensity",
			Help: "Current exploration intensity signal (e) in [0,1]",
		},
	)

	GoalGlide = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskpilot_goal_glide",
			Help: "Current goal glide signal (g) in [0,1]",
		},
	)
)
