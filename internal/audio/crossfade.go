package audio

import "math"

// EqualPower returns the left/right gains for a crossfader at position in
// [-1, 1] (-1 = hard left, 0 = centre, 1 = hard right). The quarter-wave
// cos/sin pair keeps perceived loudness constant across the fade: at the
// centre both sides sit at 1/sqrt(2).
func EqualPower(position float64) (left, right float64) {
	if position < -1 || math.IsNaN(position) {
		position = -1
	} else if position > 1 {
		position = 1
	}
	x := (position + 1) / 2
	return math.Cos(x * math.Pi / 2), math.Sin(x * math.Pi / 2)
}

// VolumeCurve maps a linear fader value in [0, 1] to output gain.
// Full scale is capped at 70% and squared to approximate loudness perception.
func VolumeCurve(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	scaled := math.Min(v*0.7, 1.0)
	return scaled * scaled
}
