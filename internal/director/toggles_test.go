package director

import "testing"

func TestTuneThresholds(t *testing.T) {
	cases := []struct {
		g    float64
		want ConstraintSet
	}{
		{0, ConstraintSet{}},
		{0.3, ConstraintSet{}},
		{0.31, ConstraintSet{LogDeviations: true}},
		{0.4, ConstraintSet{AllowCrossSite: true, LogDeviations: true}},
		{0.5, ConstraintSet{AllowCrossSite: true, AcceptPartial: true, LogDeviations: true}},
		{0.55, ConstraintSet{AllowCrossSite: true, AcceptPartial: true, WidenSemantics: true, LogDeviations: true}},
		{1, ConstraintSet{AllowCrossSite: true, AcceptPartial: true, RelaxFormat: true, WidenSemantics: true, LogDeviations: true}},
	}

	for _, tc := range cases {
		if got := Tune(tc.g); got != tc.want {
			t.Fatalf("Tune(%v) = %+v, want %+v", tc.g, got, tc.want)
		}
	}
}
