package director

// ConstraintSet captures how strictly the planning role should interpret task
// completion. Toggles loosen progressively as goal glide rises.
type ConstraintSet struct {
	AllowCrossSite bool `json:"allow_cross_site"`
	AcceptPartial  bool `json:"accept_partial"`
	RelaxFormat    bool `json:"relax_format"`
	WidenSemantics bool `json:"widen_semantics"`
	LogDeviations  bool `json:"log_deviations"`
}

// Tune maps goal glide onto behavioral permission toggles. Pure threshold map.
func Tune(g float64) ConstraintSet {
	return ConstraintSet{
		AllowCrossSite: g > 0.35,
		AcceptPartial:  g > 0.45,
		RelaxFormat:    g > 0.6,
		WidenSemantics: g > 0.5,
		LogDeviations:  g > 0.3,
	}
}
