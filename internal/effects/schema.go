package effects

import "math"

// Kind identifies a processing stage. Kinds are declared in chain order:
// the wired chain always follows this order regardless of activation order.
type Kind int

const (
	LowEQ Kind = iota
	MidEQ
	HighEQ
	Filter
	Delay
	Reverb
	Compressor

	numKinds
)

var kindNames = [numKinds]string{
	LowEQ:      "lowEQ",
	MidEQ:      "midEQ",
	HighEQ:     "highEQ",
	Filter:     "filter",
	Delay:      "delay",
	Reverb:     "reverb",
	Compressor: "compressor",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds returns every stage kind in declared order.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind looks a stage up by name.
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// ParamSpec describes one stage parameter. Smoothed parameters move with a
// short linear ramp instead of jumping.
type ParamSpec struct {
	Name     string
	Min      float64
	Max      float64
	Default  float64
	Smoothed bool
}

func (s ParamSpec) clamp(v float64) float64 {
	return math.Max(s.Min, math.Min(s.Max, v))
}

var gainSpec = ParamSpec{Name: "gain", Min: -40, Max: 40, Default: 0, Smoothed: true}

var schemas = [numKinds][]ParamSpec{
	LowEQ:  {gainSpec},
	MidEQ:  {gainSpec},
	HighEQ: {gainSpec},
	Filter: {
		{Name: "frequency", Min: 20, Max: 20000, Default: 20000, Smoothed: true},
		{Name: "Q", Min: 0.1, Max: 10, Default: 1},
		gainSpec,
	},
	Delay: {
		{Name: "time", Min: 0, Max: 1, Default: 0.3},
		{Name: "feedback", Min: 0, Max: 1, Default: 0.5},
		{Name: "mix", Min: 0, Max: 1, Default: 0.5},
	},
	Reverb: {
		{Name: "mix", Min: 0, Max: 1, Default: 0.5},
	},
	Compressor: {
		{Name: "threshold", Min: -60, Max: 0, Default: -24},
		{Name: "ratio", Min: 1, Max: 20, Default: 4},
		{Name: "attack", Min: 0, Max: 1, Default: 0.003},
		{Name: "release", Min: 0, Max: 1, Default: 0.25},
	},
}

// Schema returns the parameter schema of k.
func Schema(k Kind) []ParamSpec {
	if k < 0 || k >= numKinds {
		return nil
	}
	return append([]ParamSpec(nil), schemas[k]...)
}

// defaultEnabled is the fixed topology every deck starts with: EQ into filter.
var defaultEnabled = [numKinds]bool{LowEQ: true, MidEQ: true, HighEQ: true, Filter: true}

// FilterFrequency maps a 0..100 knob position to a lowpass cutoff on a
// logarithmic 20 Hz - 20 kHz scale.
func FilterFrequency(position float64) float64 {
	position = math.Max(0, math.Min(100, position))
	return 20 * math.Pow(1000, position/100)
}
