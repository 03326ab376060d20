package orchestrator

import (
	"math"
	"testing"
)

func TestResolveCadenceAdoptsNewInterval(t *testing.T) {
	run := RunState{StepIndex: 4, CurrentPlannerInterval: 3, LastPlannerAdjustmentStep: 1}
	got := ResolveCadence(run, 5)
	if got.Interval != 5 || got.LastAdjustmentStep != 4 {
		t.Fatalf("expected {5 4}, got %+v", got)
	}
}

func TestResolveCadenceRoundsToNearest(t *testing.T) {
	run := RunState{StepIndex: 0, CurrentPlannerInterval: 2, LastPlannerAdjustmentStep: -1}
	got := ResolveCadence(run, 2.6)
	if got.Interval != 3 || got.LastAdjustmentStep != 0 {
		t.Fatalf("expected {3 0}, got %+v", got)
	}
}

func TestResolveCadenceIgnoresInvalidInput(t *testing.T) {
	run := RunState{StepIndex: 6, CurrentPlannerInterval: 4, LastPlannerAdjustmentStep: 2}

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0, -3} {
		got := ResolveCadence(run, bad)
		if got.Interval != 4 || got.LastAdjustmentStep != 2 {
			t.Fatalf("configured=%v: expected unchanged {4 2}, got %+v", bad, got)
		}
	}
}

func TestResolveCadenceFloorsAtOne(t *testing.T) {
	run := RunState{StepIndex: 3, CurrentPlannerInterval: 4, LastPlannerAdjustmentStep: 0}
	got := ResolveCadence(run, 0.4)
	if got.Interval != 1 || got.LastAdjustmentStep != 3 {
		t.Fatalf("expected {1 3}, got %+v", got)
	}
}

func TestResolveCadenceIdempotent(t *testing.T) {
	run := RunState{StepIndex: 4, CurrentPlannerInterval: 3, LastPlannerAdjustmentStep: 1}
	first := ResolveCadence(run, 5)

	run.CurrentPlannerInterval = first.Interval
	run.LastPlannerAdjustmentStep = first.LastAdjustmentStep
	second := ResolveCadence(run, float64(first.Interval))

	if second != first {
		t.Fatalf("expected idempotent resolution, got %+v then %+v", first, second)
	}
}

func TestResolveCadenceNoRedundantAdjustment(t *testing.T) {
	run := RunState{StepIndex: 9, CurrentPlannerInterval: 5, LastPlannerAdjustmentStep: 2}
	got := ResolveCadence(run, 5.2) // rounds back to the current interval
	if got.Interval != 5 || got.LastAdjustmentStep != 2 {
		t.Fatalf("expected unchanged adjustment record, got %+v", got)
	}
}
