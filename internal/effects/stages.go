package effects

import (
	"math"

	dspfx "github.com/cwbudde/algo-dsp/dsp/effects"
	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"

	"github.com/satindergrewal/deckmix/internal/audio"
)

// Fixed EQ band placement.
const (
	lowShelfHz  = 320
	midPeakHz   = 1000
	midPeakQ    = 0.5
	highShelfHz = 3200
	shelfQ      = 1 / math.Sqrt2
)

// newProcessor builds the DSP behind a stage. Every processor samples its
// params once per render quantum and only touches the algo-dsp state when a
// value actually changed.
func newProcessor(k Kind, params map[string]*audio.Param, sampleRate float64) audio.Processor {
	switch k {
	case LowEQ:
		return newBiquad(sampleRate, func(t float64) [3]float64 {
			return [3]float64{lowShelfHz, params["gain"].At(t), shelfQ}
		}, design.LowShelf)
	case MidEQ:
		return newBiquad(sampleRate, func(t float64) [3]float64 {
			return [3]float64{midPeakHz, params["gain"].At(t), midPeakQ}
		}, peak)
	case HighEQ:
		return newBiquad(sampleRate, func(t float64) [3]float64 {
			return [3]float64{highShelfHz, params["gain"].At(t), shelfQ}
		}, design.HighShelf)
	case Filter:
		// A lowpass has no gain term; the gain param is kept for parity
		// with the other biquad stages and has no audible effect.
		return newBiquad(sampleRate, func(t float64) [3]float64 {
			return [3]float64{params["frequency"].At(t), params["gain"].At(t), params["Q"].At(t)}
		}, lowpass)
	case Delay:
		return newDelay(sampleRate, params)
	case Reverb:
		return newReverb(params)
	case Compressor:
		return newCompressor(sampleRate, params)
	}
	return nil
}

func peak(freq, gainDB, q, sampleRate float64) biquad.Coefficients {
	return design.Peak(freq, gainDB, q, sampleRate)
}

func lowpass(freq, _, q, sampleRate float64) biquad.Coefficients {
	return design.Lowpass(freq, q, sampleRate)
}

type biquadProc struct {
	sampleRate float64
	values     func(t float64) [3]float64 // freq, gain dB, Q
	design     func(freq, gainDB, q, sampleRate float64) biquad.Coefficients

	last   [3]float64
	primed bool
	l, r   biquad.Section
}

func newBiquad(sr float64, values func(float64) [3]float64, d func(float64, float64, float64, float64) biquad.Coefficients) *biquadProc {
	return &biquadProc{sampleRate: sr, values: values, design: d}
}

func (b *biquadProc) Process(buf [][2]float64, t float64) {
	v := b.values(t)
	// Designs return silence at or above Nyquist.
	v[0] = math.Min(v[0], 0.49*b.sampleRate)
	if !b.primed || v != b.last {
		c := b.design(v[0], v[1], v[2], b.sampleRate)
		b.l.Coefficients = c
		b.r.Coefficients = c
		b.last, b.primed = v, true
	}
	for i := range buf {
		buf[i][0] = b.l.ProcessSample(buf[i][0])
		buf[i][1] = b.r.ProcessSample(buf[i][1])
	}
}

type delayProc struct {
	params map[string]*audio.Param
	last   [3]float64
	primed bool
	l, r   *dspfx.Delay
}

func newDelay(sr float64, params map[string]*audio.Param) *delayProc {
	// Only fails on a non-positive rate, which the context never has.
	l, _ := dspfx.NewDelay(sr)
	r, _ := dspfx.NewDelay(sr)
	return &delayProc{params: params, l: l, r: r}
}

func (d *delayProc) Process(buf [][2]float64, t float64) {
	v := [3]float64{d.params["time"].At(t), d.params["feedback"].At(t), d.params["mix"].At(t)}
	if !d.primed || v != d.last {
		seconds := math.Max(v[0], 0.001)
		feedback := math.Min(v[1], 0.99)
		for _, ch := range []*dspfx.Delay{d.l, d.r} {
			_ = ch.SetTime(seconds)
			_ = ch.SetFeedback(feedback)
			_ = ch.SetMix(v[2])
		}
		d.last, d.primed = v, true
	}
	for i := range buf {
		buf[i][0] = d.l.ProcessSample(buf[i][0])
		buf[i][1] = d.r.ProcessSample(buf[i][1])
	}
}

type reverbProc struct {
	mix  *audio.Param
	last float64
	l, r *dspfx.Reverb
}

func newReverb(params map[string]*audio.Param) *reverbProc {
	return &reverbProc{mix: params["mix"], last: -1, l: dspfx.NewReverb(), r: dspfx.NewReverb()}
}

func (rv *reverbProc) Process(buf [][2]float64, t float64) {
	if m := rv.mix.At(t); m != rv.last {
		for _, ch := range []*dspfx.Reverb{rv.l, rv.r} {
			ch.SetWet(m)
			ch.SetDry(1 - m)
		}
		rv.last = m
	}
	for i := range buf {
		buf[i][0] = rv.l.ProcessSample(buf[i][0])
		buf[i][1] = rv.r.ProcessSample(buf[i][1])
	}
}

type compressorProc struct {
	params map[string]*audio.Param
	last   [4]float64
	primed bool
	l, r   *dynamics.Compressor
}

func newCompressor(sr float64, params map[string]*audio.Param) *compressorProc {
	l, _ := dynamics.NewCompressor(sr)
	r, _ := dynamics.NewCompressor(sr)
	return &compressorProc{params: params, l: l, r: r}
}

func (c *compressorProc) Process(buf [][2]float64, t float64) {
	p := c.params
	v := [4]float64{p["threshold"].At(t), p["ratio"].At(t), p["attack"].At(t), p["release"].At(t)}
	if !c.primed || v != c.last {
		// attack and release are seconds; the compressor takes ms.
		attack := math.Max(v[2]*1000, 0.1)
		release := math.Max(v[3]*1000, 1)
		for _, ch := range []*dynamics.Compressor{c.l, c.r} {
			_ = ch.SetThreshold(v[0])
			_ = ch.SetRatio(v[1])
			_ = ch.SetAttack(attack)
			_ = ch.SetRelease(release)
		}
		c.last, c.primed = v, true
	}
	for i := range buf {
		buf[i][0] = c.l.ProcessSample(buf[i][0])
		buf[i][1] = c.r.ProcessSample(buf[i][1])
	}
}
