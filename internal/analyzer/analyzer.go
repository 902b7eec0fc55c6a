// Package analyzer taps a deck's signal and turns it into the byte spectrum
// and bass-weighted VU level the deck UI draws every frame.
package analyzer

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/window"

	"github.com/satindergrewal/deckmix/internal/audio"
)

const (
	FFTSize  = 2048
	BinCount = FFTSize / 2
	VUBins   = 32

	MinDecibels = -100.0
	MaxDecibels = -30.0

	// Smoothing time constants: reactive while playing, calmer when idle.
	SmoothingPlaying = 0.4
	SmoothingIdle    = 0.8
)

// Analyzer is a pass-through graph node that keeps the most recent FFTSize
// mono samples and derives a smoothed spectrum from them on demand. Reads
// between renders return the same frame.
type Analyzer struct {
	*audio.Node

	mu        sync.Mutex
	ring      []float64
	write     int
	smoothing float64
	// captured counts frames seen by capture; analyzed is its value at the
	// last analysis.
	captured, analyzed uint64

	window   []float64
	plan     *algofft.Plan[complex128]
	in, out  []complex128
	smoothed []float64
	bytes    []uint8
}

// New creates an analyser node in ctx.
func New(ctx *audio.Context, name string) (*Analyzer, error) {
	plan, err := algofft.NewPlan64(FFTSize)
	if err != nil {
		return nil, fmt.Errorf("analyzer fft plan: %w", err)
	}
	a := &Analyzer{
		ring:      make([]float64, FFTSize),
		smoothing: SmoothingIdle,
		window:    window.Generate(window.TypeBlackman, FFTSize, window.WithPeriodic()),
		plan:      plan,
		in:        make([]complex128, FFTSize),
		out:       make([]complex128, FFTSize),
		smoothed:  make([]float64, BinCount),
		bytes:     make([]uint8, BinCount),
	}
	a.Node = ctx.NewNode(name, audio.ProcessorFunc(a.capture))
	return a, nil
}

// capture records the mono downmix. The audio itself passes through untouched.
func (a *Analyzer) capture(buf [][2]float64, _ float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range buf {
		a.ring[a.write] = (f[0] + f[1]) / 2
		a.write++
		if a.write == FFTSize {
			a.write = 0
		}
	}
	a.captured += uint64(len(buf))
}

// SetPlaying switches the smoothing time constant for the play state.
func (a *Analyzer) SetPlaying(playing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if playing {
		a.smoothing = SmoothingPlaying
	} else {
		a.smoothing = SmoothingIdle
	}
}

// Smoothing returns the current time constant.
func (a *Analyzer) Smoothing() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.smoothing
}

// SampleFrequencySpectrum returns all BinCount bins, 0-255.
func (a *Analyzer) SampleFrequencySpectrum() []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.analyze()
	return append([]uint8(nil), a.bytes...)
}

// SampleVUMeter returns the bass-weighted level of the lowest VUBins bins.
func (a *Analyzer) SampleVUMeter() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.analyze()
	return VULevel(a.bytes[:VUBins])
}

// analyze runs one windowed FFT over the ring, oldest sample first, blends
// the magnitudes into the smoothed spectrum and maps them to bytes over
// [MinDecibels, MaxDecibels]. Without new audio since the last call the
// cached bytes stand.
func (a *Analyzer) analyze() {
	if a.captured == a.analyzed {
		return
	}
	a.analyzed = a.captured
	read := a.write
	for i := range a.in {
		a.in[i] = complex(a.ring[read]*a.window[i], 0)
		read++
		if read == FFTSize {
			read = 0
		}
	}
	if err := a.plan.Forward(a.out, a.in); err != nil {
		return
	}

	k := a.smoothing
	scale := 255 / (MaxDecibels - MinDecibels)
	for i := range a.smoothed {
		mag := cmplx.Abs(a.out[i]) / FFTSize
		a.smoothed[i] = k*a.smoothed[i] + (1-k)*mag

		db := MinDecibels
		if a.smoothed[i] > 0 {
			db = 20 * math.Log10(a.smoothed[i])
		}
		v := math.Floor(scale * (db - MinDecibels))
		a.bytes[i] = uint8(math.Max(0, math.Min(255, v)))
	}
}

// VULevel is the weighted mean of the lowest 40% of bins, bin i weighted
// 1 - i/bassRange. Equal bins yield their common value.
func VULevel(bins []uint8) float64 {
	bassRange := int(math.Floor(float64(len(bins)) * 0.4))
	if bassRange == 0 {
		return 0
	}
	var total, weights float64
	for i := 0; i < bassRange; i++ {
		w := 1 - float64(i)/float64(bassRange)
		total += float64(bins[i]) * w
		weights += w
	}
	return total / weights
}
