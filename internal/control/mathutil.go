package control

import "math"

// Clamp bounds v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ease applies power easing x^gamma. Negative inputs ease to 0.
func Ease(x, gamma float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Pow(x, gamma)
}

// Smoothstep is the cubic Hermite interpolation of x between edge0 and edge1,
// returning 0 below edge0 and 1 above edge1.
func Smoothstep(edge0, edge1, x float64) float64 {
	t := Clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}
