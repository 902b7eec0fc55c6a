package audio

import "math"

// Gain scales its input by an automatable linear factor.
// Ramps are interpolated per sample so level changes never click.
type Gain struct {
	*Node
	Gain *Param
}

// NewGain creates a gain node starting at value.
func (c *Context) NewGain(name string, value float64) *Gain {
	g := &Gain{Gain: c.NewParam(value, 0, math.MaxFloat64)}
	g.Node = c.NewNode(name, g)
	return g
}

// Process implements Processor.
func (g *Gain) Process(buf [][2]float64, t float64) {
	sr := float64(g.ctx.sampleRate)
	g0 := g.Gain.valueAt(t)
	g1 := g.Gain.valueAt(t + float64(len(buf))/sr)
	if g0 == g1 {
		if g0 == 1 {
			return
		}
		for i := range buf {
			buf[i][0] *= g0
			buf[i][1] *= g0
		}
		return
	}
	step := (g1 - g0) / float64(len(buf))
	for i := range buf {
		k := g0 + step*float64(i)
		buf[i][0] *= k
		buf[i][1] *= k
	}
}
