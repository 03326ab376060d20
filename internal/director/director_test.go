package director

import (
	"math"
	"testing"
)

var testModelCtx = ModelContext{
	InputTokens:   2000,
	ContextWindow: 32000,
	SupportsTopK:  true,
}

func baseDefaults() Defaults {
	return Defaults{
		Temperature:      0.2,
		TopP:             0.85,
		TopK:             40,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
		MaxTokens:        1024,
	}
}

func TestDirectQuiescentKeepsDefaults(t *testing.T) {
	s := Direct(RolePlanning, 0, 0, baseDefaults(), testModelCtx)
	if s.Temperature != 0.2 {
		t.Fatalf("expected default temperature, got %v", s.Temperature)
	}
	if s.TopP != 0.85 {
		t.Fatalf("expected default top_p, got %v", s.TopP)
	}
	if s.TopK != 40 {
		t.Fatalf("expected default top_k, got %d", s.TopK)
	}
	if s.PresencePenalty != 0 || s.FrequencyPenalty != 0 {
		t.Fatalf("expected zero penalties, got %+v", s)
	}
	if s.MaxTokens != 1024 {
		t.Fatalf("expected default max_tokens, got %d", s.MaxTokens)
	}
}

func TestDirectTemperatureCeilings(t *testing.T) {
	d := baseDefaults()
	d.Temperature = 0.6

	plan := Direct(RolePlanning, 1, 1, d, testModelCtx)
	if math.Abs(plan.Temperature-1.1) > 1e-12 {
		t.Fatalf("planning temperature must cap at 1.1, got %v", plan.Temperature)
	}

	act := Direct(RoleActing, 1, 1, d, testModelCtx)
	if math.Abs(act.Temperature-0.8) > 1e-12 {
		t.Fatalf("acting temperature must cap at 0.8, got %v", act.Temperature)
	}
}

func TestDirectPlanningTopPOnlyRebounds(t *testing.T) {
	d := baseDefaults()
	d.TopP = 0.3
	s := Direct(RolePlanning, 1, 1, d, testModelCtx)
	if s.TopP != 0.6 {
		t.Fatalf("planning top_p must be floored at 0.6, got %v", s.TopP)
	}

	d.TopP = 1.5
	s = Direct(RolePlanning, 0, 0, d, testModelCtx)
	if s.TopP != 1 {
		t.Fatalf("planning top_p must cap at 1, got %v", s.TopP)
	}
}

func TestDirectActingTopPWidens(t *testing.T) {
	quiet := Direct(RoleActing, 0, 0, baseDefaults(), testModelCtx)
	if math.Abs(quiet.TopP-0.2) > 1e-12 {
		t.Fatalf("expected 0.2 at e=g=0, got %v", quiet.TopP)
	}

	hot := Direct(RoleActing, 1, 1, baseDefaults(), testModelCtx)
	if math.Abs(hot.TopP-0.9) > 1e-12 {
		t.Fatalf("expected 0.9 at e=g=1, got %v", hot.TopP)
	}
	if hot.TopP < 0.1 || hot.TopP > 0.99 {
		t.Fatalf("acting top_p out of bounds: %v", hot.TopP)
	}
}

func TestDirectTopK(t *testing.T) {
	d := baseDefaults()
	d.TopK = 0 // unset, falls back to 50

	s := Direct(RolePlanning, 1, 1, d, testModelCtx)
	if s.TopK != 220 {
		t.Fatalf("expected full headroom 220, got %d", s.TopK)
	}

	s = Direct(RolePlanning, 0, 0, d, testModelCtx)
	if s.TopK != 50 {
		t.Fatalf("expected fallback base 50, got %d", s.TopK)
	}

	noK := testModelCtx
	noK.SupportsTopK = false
	s = Direct(RolePlanning, 1, 1, d, noK)
	if s.TopK != 0 {
		t.Fatalf("expected no top_k when unsupported, got %d", s.TopK)
	}
}

func TestDirectTopKSharesPlanningEasing(t *testing.T) {
	// Both roles derive top-k from the planning easing value, so at the
	// same (e, g) their top-k must match even though their temperatures
	// differ.
	d := baseDefaults()
	d.TopK = 50
	plan := Direct(RolePlanning, 0.5, 0, d, testModelCtx)
	act := Direct(RoleActing, 0.5, 0, d, testModelCtx)

	want := 50 + int(math.Round(170*math.Pow(0.5, 0.85)))
	if plan.TopK != want {
		t.Fatalf("planning top_k: expected %d, got %d", want, plan.TopK)
	}
	if act.TopK != plan.TopK {
		t.Fatalf("acting top_k %d must equal planning top_k %d", act.TopK, plan.TopK)
	}
}

func TestDirectPenaltyCaps(t *testing.T) {
	s := Direct(RolePlanning, 1, 1, baseDefaults(), testModelCtx)
	if math.Abs(s.PresencePenalty-0.8) > 1e-12 {
		t.Fatalf("expected presence penalty 0.8 at full lift, got %v", s.PresencePenalty)
	}
	if math.Abs(s.FrequencyPenalty-0.6) > 1e-12 {
		t.Fatalf("expected frequency penalty 0.6 at full lift, got %v", s.FrequencyPenalty)
	}

	d := baseDefaults()
	d.PresencePenalty = 0.5
	d.FrequencyPenalty = 0.5
	s = Direct(RolePlanning, 1, 1, d, testModelCtx)
	if s.PresencePenalty != 0.9 {
		t.Fatalf("presence penalty must cap at 0.9, got %v", s.PresencePenalty)
	}
	if s.FrequencyPenalty != 0.8 {
		t.Fatalf("frequency penalty must cap at 0.8, got %v", s.FrequencyPenalty)
	}
}

func TestDirectMaxTokensBoost(t *testing.T) {
	d := baseDefaults()
	d.MaxTokens = 256
	mc := ModelContext{InputTokens: 1000, ContextWindow: 8192}

	s := Direct(RolePlanning, 1, 1, d, mc)
	if s.MaxTokens != 512 {
		t.Fatalf("expected 256+256 boost, got %d", s.MaxTokens)
	}
}

func TestDirectMaxTokensFloor(t *testing.T) {
	d := baseDefaults()
	d.MaxTokens = 16
	mc := ModelContext{InputTokens: 1000, ContextWindow: 8192}

	s := Direct(RolePlanning, 0, 0, d, mc)
	if s.MaxTokens != 128 {
		t.Fatalf("expected floor of 128, got %d", s.MaxTokens)
	}
}

func TestDirectMaxTokensHardCapWinsOverFloor(t *testing.T) {
	d := baseDefaults()
	d.MaxTokens = 512
	// Context nearly full: hard cap is max(64, 1000-900-64) = 64.
	mc := ModelContext{InputTokens: 900, ContextWindow: 1000}

	s := Direct(RolePlanning, 1, 1, d, mc)
	if s.MaxTokens != 64 {
		t.Fatalf("expected hard cap 64 to win over the 128 floor, got %d", s.MaxTokens)
	}
}

func TestDirectBoundsAcrossSignalGrid(t *testing.T) {
	for _, role := range []Role{RolePlanning, RoleActing} {
		for e := 0.0; e <= 1.0; e += 0.25 {
			for g := 0.0; g <= 1.0; g += 0.25 {
				s := Direct(role, e, g, baseDefaults(), testModelCtx)
				upper := 1.1
				if role == RoleActing {
					upper = 0.8
				}
				if s.Temperature < 0 || s.Temperature > upper {
					t.Fatalf("%s temperature out of bounds at e=%v g=%v: %v", role, e, g, s.Temperature)
				}
				if s.TopP < 0.1 || s.TopP > 1 {
					t.Fatalf("%s top_p out of bounds at e=%v g=%v: %v", role, e, g, s.TopP)
				}
				if s.TopK < 20 || s.TopK > 220 {
					t.Fatalf("%s top_k out of bounds at e=%v g=%v: %d", role, e, g, s.TopK)
				}
				if s.PresencePenalty < 0 || s.PresencePenalty > 0.9 {
					t.Fatalf("%s presence penalty out of bounds: %v", role, s.PresencePenalty)
				}
				if s.FrequencyPenalty < 0 || s.FrequencyPenalty > 0.8 {
					t.Fatalf("%s frequency penalty out of bounds: %v", role, s.FrequencyPenalty)
				}
				hardCap := testModelCtx.ContextWindow - testModelCtx.InputTokens - 64
				if s.MaxTokens > hardCap || s.MaxTokens < 128 {
					t.Fatalf("%s max_tokens out of bounds: %d", role, s.MaxTokens)
				}
			}
		}
	}
}
