package control

import (
	"math"
	"testing"
)

func TestInitialState(t *testing.T) {
	s := Initial()
	if s.EMASuccess != 1 || s.EMATimeouts != 0 || s.EMALoop != 0 || s.Exploration != 0 || s.GoalGlide != 0 {
		t.Fatalf("unexpected initial state: %+v", s)
	}
}

func TestStepSuccessSnapReset(t *testing.T) {
	prev := State{
		EMASuccess:  0.2,
		EMATimeouts: 0.6,
		EMALoop:     0.8,
		Exploration: 0.7,
		GoalGlide:   0.5,
	}
	out := Step(prev, Telemetry{LastOutcomeSuccess: true, TimeoutHappened: true, LoopScore: 5})

	if out.EMASuccess != 1 {
		t.Fatalf("expected snapped EMASuccess=1, got %v", out.EMASuccess)
	}
	if out.Exploration != 0 || out.GoalGlide != 0 {
		t.Fatalf("expected e=0, g=0 after success, got e=%v g=%v", out.Exploration, out.GoalGlide)
	}
	if math.Abs(out.EMATimeouts-0.3) > 1e-12 {
		t.Fatalf("expected EMATimeouts halved to 0.3, got %v", out.EMATimeouts)
	}
	if math.Abs(out.EMALoop-0.4) > 1e-12 {
		t.Fatalf("expected EMALoop halved to 0.4, got %v", out.EMALoop)
	}
}

func TestStepFirstFailureFromBaseline(t *testing.T) {
	out := Step(Initial(), Telemetry{})

	if math.Abs(out.EMASuccess-0.65) > 1e-12 {
		t.Fatalf("expected EMASuccess 0.65, got %v", out.EMASuccess)
	}
	if out.EMATimeouts != 0 || out.EMALoop != 0 {
		t.Fatalf("expected zero timeout/loop EMAs, got %+v", out)
	}
	// eRaw = 0.7*0.35 = 0.245; e = 0.5*tanh(0.539)+0.5
	if math.Abs(out.Exploration-0.746114) > 1e-3 {
		t.Fatalf("expected e near 0.7461, got %v", out.Exploration)
	}
	if math.Abs(out.GoalGlide-0.590099) > 1e-3 {
		t.Fatalf("expected g near 0.5901, got %v", out.GoalGlide)
	}
}

func TestStepTimeoutAndLoopContribute(t *testing.T) {
	base := Step(Initial(), Telemetry{})
	hot := Step(Initial(), Telemetry{TimeoutHappened: true, LoopScore: 1})
	if hot.Exploration <= base.Exploration {
		t.Fatalf("expected timeout+loop to raise e: base=%v hot=%v", base.Exploration, hot.Exploration)
	}
	if math.Abs(hot.EMATimeouts-0.25) > 1e-12 {
		t.Fatalf("expected EMATimeouts 0.25, got %v", hot.EMATimeouts)
	}
	if math.Abs(hot.EMALoop-0.2) > 1e-12 {
		t.Fatalf("expected EMALoop 0.2, got %v", hot.EMALoop)
	}
}

func TestStepInvariantsOverFailureStreaks(t *testing.T) {
	telemetries := []Telemetry{
		{},
		{TimeoutHappened: true},
		{LoopScore: 1},
		{TimeoutHappened: true, LoopScore: 7}, // loop score well beyond 1
		{LoopScore: 0.5},
	}

	s := Initial()
	for i := 0; i < 40; i++ {
		s = Step(s, telemetries[i%len(telemetries)])

		for name, v := range map[string]float64{
			"EMASuccess":  s.EMASuccess,
			"EMATimeouts": s.EMATimeouts,
			"EMALoop":     s.EMALoop,
			"Exploration": s.Exploration,
			"GoalGlide":   s.GoalGlide,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("step %d: %s out of [0,1]: %v (state %+v)", i, name, v, s)
			}
		}
		if s.Exploration <= 0.55 && s.GoalGlide != 0 {
			t.Fatalf("step %d: g must be 0 when e<=0.55, got %+v", i, s)
		}
		if s.Exploration >= 0.9 && s.GoalGlide != 1 {
			t.Fatalf("step %d: g must be 1 when e>=0.9, got %+v", i, s)
		}
	}
}

func TestStepSuccessAfterStreakRestoresBaseline(t *testing.T) {
	s := Initial()
	for i := 0; i < 10; i++ {
		s = Step(s, Telemetry{TimeoutHappened: true, LoopScore: 1})
	}
	before := s
	s = Step(s, Telemetry{LastOutcomeSuccess: true})

	if s.Exploration != 0 || s.GoalGlide != 0 || s.EMASuccess != 1 {
		t.Fatalf("expected confident baseline after success, got %+v", s)
	}
	if s.EMATimeouts > before.EMATimeouts/2+1e-12 {
		t.Fatalf("expected EMATimeouts at most halved: before=%v after=%v", before.EMATimeouts, s.EMATimeouts)
	}
	if s.EMALoop > before.EMALoop/2+1e-12 {
		t.Fatalf("expected EMALoop at most halved: before=%v after=%v", before.EMALoop, s.EMALoop)
	}
}
