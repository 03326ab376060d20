package orchestrator

import "math"

// RunState is the orchestrator-owned mutable state for one run. It is
// mutated exclusively by the orchestrator's sequential loop and its public
// control methods, never by the role collaborators.
type RunState struct {
	StepIndex                    int
	ConsecutiveFailures          int
	ConsecutiveValidatorFailures int
	CurrentPlannerInterval       int
	LastPlannerAdjustmentStep    int
	Paused                       bool
	Stopped                      bool
	PendingTasks                 []string
}

// CadenceResolution is the outcome of reconciling the configured planning
// interval against run-time state.
type CadenceResolution struct {
	Interval           int
	LastAdjustmentStep int
}

// ResolveCadence reconciles a configured planning interval against the run
// state. A finite positive value is rounded to the nearest integer (floor 1)
// and adopted, recording the step at which the change took effect; anything
// else (NaN, ±Inf, <= 0) is ignored. Re-submitting the current interval
// leaves the adjustment record untouched, so the resolver is idempotent.
func ResolveCadence(run RunState, configuredInterval float64) CadenceResolution {
	if math.IsNaN(configuredInterval) || math.IsInf(configuredInterval, 0) || configuredInterval <= 0 {
		return CadenceResolution{
			Interval:           run.CurrentPlannerInterval,
			LastAdjustmentStep: run.LastPlannerAdjustmentStep,
		}
	}

	rounded := int(math.Round(configuredInterval))
	if rounded < 1 {
		rounded = 1
	}
	if rounded == run.CurrentPlannerInterval {
		return CadenceResolution{
			Interval:           run.CurrentPlannerInterval,
			LastAdjustmentStep: run.LastPlannerAdjustmentStep,
		}
	}
	return CadenceResolution{
		Interval:           rounded,
		LastAdjustmentStep: run.StepIndex,
	}
}
