// Package director maps the controller's (e, g) signals into concrete
// generation settings per role, and goal glide into behavioral constraint
// toggles. Pure functions over immutable value types; the outputs are handed
// to the role collaborators and not retained.
package director

import (
	"math"

	"github.com/taskpilot/orchestrator/internal/control"
)

// Role selects which parameter mapping to apply.
type Role int

const (
	RolePlanning Role = iota
	RoleActing
)

func (r Role) String() string {
	switch r {
	case RolePlanning:
		return "planning"
	case RoleActing:
		return "acting"
	default:
		return "unknown"
	}
}

// Defaults are the per-role baseline sampling settings, supplied as immutable
// configuration at orchestrator construction.
type Defaults struct {
	Temperature      float64 `yaml:"temperature" json:"temperature"`
	TopP             float64 `yaml:"top_p" json:"top_p"`
	TopK             int     `yaml:"top_k,omitempty" json:"top_k,omitempty"` // <=0 means unset
	FrequencyPenalty float64 `yaml:"frequency_penalty" json:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty" json:"presence_penalty"`
	MaxTokens        int     `yaml:"max_tokens" json:"max_tokens"`
}

// ModelContext carries the per-call model limits the director needs to bound
// its output budget.
type ModelContext struct {
	InputTokens   int
	ContextWindow int
	SupportsTopK  bool
}

// Settings is the director's output, consumed by role invocations.
type Settings struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	TopK             int     `json:"top_k,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	MaxTokens        int     `json:"max_tokens"`
}

const fallbackTopK = 50

// Direct maps (role, e, g) onto concrete generation settings around the
// role's defaults. Planning is allowed a hotter temperature ceiling than
// acting; acting additionally widens nucleus sampling as e or g rise.
func Direct(role Role, e, g float64, d Defaults, mc ModelContext) Settings {
	intensity := control.Ease(e, 0.85)
	actingIntensity := control.Ease(e, 0.9)
	glide := control.Ease(g, 0.9)

	var s Settings
	switch role {
	case RoleActing:
		s.Temperature = control.Clamp(d.Temperature+0.7*actingIntensity, 0, 0.8)
		s.TopP = control.Clamp(0.2+0.7*control.Ease(math.Max(e, g), 0.8), 0.1, 0.99)
	default:
		s.Temperature = control.Clamp(d.Temperature+0.7*intensity, 0, 1.1)
		s.TopP = control.Clamp(d.TopP, 0.6, 1)
	}

	if mc.SupportsTopK {
		base := d.TopK
		if base <= 0 {
			base = fallbackTopK
		}
		// Top-k deliberately uses the planning easing for both roles;
		// this matches the shipped controller behavior.
		headroom := float64(220 - base)
		k := float64(base) + math.Round(headroom*intensity)
		s.TopK = int(control.Clamp(k, 20, 220))
	}

	penaltyLift := 0.6*intensity + 0.4*glide
	s.PresencePenalty = control.Clamp(d.PresencePenalty+0.8*penaltyLift, 0, 0.9)
	s.FrequencyPenalty = control.Clamp(d.FrequencyPenalty+0.6*penaltyLift, 0, 0.8)

	hardCap := mc.ContextWindow - mc.InputTokens - 64
	if hardCap < 64 {
		hardCap = 64
	}
	boost := int(math.Round(256 * math.Max(intensity, glide)))
	budget := d.MaxTokens + boost
	if budget < 128 {
		budget = 128
	}
	// The hard cap wins over the 128 floor when the context is nearly full.
	if budget > hardCap {
		budget = hardCap
	}
	s.MaxTokens = budget

	return s
}
