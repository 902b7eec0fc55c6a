package audio

import (
	"math"
	"time"
)

// Param is an automatable node parameter. Values set from control code take
// effect on the render thread either immediately or as a linear ramp
// measured against the context clock.
type Param struct {
	ctx      *Context
	min, max float64

	from, to float64 // ramp endpoints
	t0, t1   float64 // ramp start/end, context seconds
}

// NewParam creates a parameter clamped to [min, max].
func (c *Context) NewParam(value, min, max float64) *Param {
	p := &Param{ctx: c, min: min, max: max}
	v := p.clamp(value)
	p.from, p.to = v, v
	return p
}

// Value returns the parameter value at the current context time.
func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(p.ctx.now())
}

// Target returns the value the parameter is settling towards.
func (p *Param) Target() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.to
}

// SetValue jumps to v, cancelling any ramp in flight.
func (p *Param) SetValue(v float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.setValue(v)
}

// LinearRampTo moves from the current value to v over d.
func (p *Param) LinearRampTo(v float64, d time.Duration) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.linearRampTo(v, d)
}

func (p *Param) setValue(v float64) {
	v = p.clamp(v)
	now := p.ctx.now()
	p.from, p.to = v, v
	p.t0, p.t1 = now, now
}

func (p *Param) linearRampTo(v float64, d time.Duration) {
	if d <= 0 {
		p.setValue(v)
		return
	}
	now := p.ctx.now()
	p.from = p.valueAt(now)
	p.to = p.clamp(v)
	p.t0 = now
	p.t1 = now + d.Seconds()
}

func (p *Param) valueAt(t float64) float64 {
	if t >= p.t1 || p.t1 <= p.t0 {
		return p.to
	}
	if t <= p.t0 {
		return p.from
	}
	frac := (t - p.t0) / (p.t1 - p.t0)
	return p.from + (p.to-p.from)*frac
}

// At returns the value at context time t without locking. Only call it from
// a Processor, which already runs under the render lock.
func (p *Param) At(t float64) float64 {
	return p.valueAt(t)
}

func (p *Param) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return p.min
	}
	return math.Max(p.min, math.Min(p.max, v))
}

// Target pairs a Param with the value it should move to.
type Target struct {
	Param *Param
	Value float64
}

// RampTogether moves every target over d inside one render-lock section so
// they all start changing in the same quantum. d <= 0 jumps.
func (c *Context) RampTogether(d time.Duration, targets ...Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range targets {
		if t.Param.ctx != c {
			panic("audio: param belongs to a different context")
		}
		t.Param.linearRampTo(t.Value, d)
	}
}
