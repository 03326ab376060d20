// Package control implements the adaptive exploration controller: a pure
// closed-loop mapping from per-step outcome telemetry to two scalar control
// signals, exploration intensity (e) and goal glide (g). The orchestrator is
// the only owner of the controller's state; every function here is free of
// side effects and safe to call from any goroutine.
package control

import "math"

// EMA smoothing factors for the three outcome signals.
const (
	alphaSuccess = 0.35
	alphaTimeout = 0.25
	alphaLoop    = 0.2
)

// Emphasis coefficients composing the raw intensity signal.
// Intentionally not normalized to sum to 1.
const (
	weightFail    = 0.7
	weightTimeout = 0.2
	weightLoop    = 0.25
)

// Goal glide engages once exploration intensity clears glideLow and
// saturates at glideHigh.
const (
	glideLow  = 0.55
	glideHigh = 0.9
)

// State carries the controller's closed-loop signals. All five fields are
// invariantly in [0,1]. The state is replaced wholesale once per completed
// step; it is never partially mutated.
type State struct {
	EMASuccess  float64 `json:"ema_success"`
	EMATimeouts float64 `json:"ema_timeouts"`
	EMALoop     float64 `json:"ema_loop"`
	Exploration float64 `json:"exploration"` // e
	GoalGlide   float64 `json:"goal_glide"`  // g
}

// Initial returns the maximally confident baseline: full success EMA,
// no exploration, no glide.
func Initial() State {
	return State{EMASuccess: 1}
}

// Telemetry is the per-step outcome record fed into the controller.
// Produced by the orchestrator after each step and consumed once.
type Telemetry struct {
	LastOutcomeSuccess bool
	TimeoutHappened    bool
	LoopScore          float64 // repetition signal, >= 0
	InputTokens        int
	ContextWindow      int
}

// Step maps the previous control state and the latest telemetry to a new
// state. A success snap-resets to the confident baseline immediately (halving
// the timeout and loop EMAs) rather than letting the signals decay over
// several steps.
func Step(prev State, t Telemetry) State {
	if t.LastOutcomeSuccess {
		return State{
			EMASuccess:  1,
			EMATimeouts: math.Max(0, prev.EMATimeouts*0.5),
			EMALoop:     math.Max(0, prev.EMALoop*0.5),
		}
	}

	// Outcome is known non-success here, so the success sample is 0.
	emaSuccess := (1 - alphaSuccess) * prev.EMASuccess

	timeout := 0.0
	if t.TimeoutHappened {
		timeout = 1
	}
	emaTimeouts := alphaTimeout*timeout + (1-alphaTimeout)*prev.EMATimeouts

	// Loop score is clamped to [0,1] before smoothing so the EMA invariant
	// holds for arbitrary caller-supplied repetition signals.
	emaLoop := alphaLoop*Clamp(t.LoopScore, 0, 1) + (1-alphaLoop)*prev.EMALoop

	failSignal := 1 - emaSuccess
	eRaw := weightFail*failSignal + weightTimeout*emaTimeouts + weightLoop*emaLoop

	// Soft-clip through a tanh S-curve so stacked signals saturate smoothly.
	e := Clamp(0.5*math.Tanh(2.2*eRaw)+0.5, 0, 1)
	g := Smoothstep(glideLow, glideHigh, e)

	return State{
		EMASuccess:  emaSuccess,
		EMATimeouts: emaTimeouts,
		EMALoop:     emaLoop,
		Exploration: e,
		GoalGlide:   g,
	}
}
