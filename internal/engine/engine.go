// Package engine plays one decoded track through a deck's signal chain.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/deckmix/internal/audio"
	"github.com/satindergrewal/deckmix/internal/transport"
)

// VolumeRamp is the smoothing applied to volume changes.
const VolumeRamp = 100 * time.Millisecond

// Fetcher retrieves encoded track bytes.
type Fetcher interface {
	TrackFile(ctx context.Context, id int64) ([]byte, error)
}

// Engine owns the loaded buffer and the single active source of a deck.
// A new Source is created for every playback segment; the previous one is
// always stopped and disconnected first, so two never overlap.
type Engine struct {
	ctx     *audio.Context
	decoder *audio.Decoder
	fetcher Fetcher
	gain    *audio.Gain

	transport *transport.Transport

	mu     sync.Mutex
	buffer *audio.Buffer
	source *audio.Source
	volume float64
	seq    int
}

// New creates an engine whose output is the volume gain node.
func New(ctx *audio.Context, decoder *audio.Decoder, fetcher Fetcher, name string) *Engine {
	e := &Engine{
		ctx:       ctx,
		decoder:   decoder,
		fetcher:   fetcher,
		gain:      ctx.NewGain(name+"/volume", audio.VolumeCurve(1)),
		transport: transport.New(ctx),
		volume:    1,
	}
	return e
}

// Output is the node feeding the effects chain.
func (e *Engine) Output() *audio.Node {
	return e.gain.Node
}

// Prepare fetches and decodes a track without touching playback, so a failed
// load leaves the previous buffer and play state alone.
func (e *Engine) Prepare(ctx context.Context, id int64) (*audio.Buffer, error) {
	data, err := e.fetcher.TrackFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load track %d: %w", id, err)
	}
	b, err := e.decoder.Decode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("load track %d: %w", id, err)
	}
	return b, nil
}

// LoadBuffer replaces the current buffer, discarding any active source and
// rewinding to zero.
func (e *Engine) LoadBuffer(b *audio.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSource()
	e.buffer = b
	e.transport.Stop()
}

// Unload drops the buffer entirely.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSource()
	e.buffer = nil
	e.transport.Stop()
}

// Play starts a fresh source at the paused offset. No-op without a buffer or
// when already playing.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil || e.transport.IsPlaying() {
		return
	}
	offset := e.transport.Position()
	e.startSource(offset)
	e.transport.Play(offset)
}

// Pause stops the source and freezes the position.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.transport.IsPlaying() {
		return
	}
	e.stopSource()
	e.transport.Pause()
}

// Stop halts playback and rewinds to zero.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSource()
	e.transport.Stop()
}

// SeekTo moves to t seconds, clamped to the track. A playing engine restarts
// its source at t; a paused one only moves the offset.
func (e *Engine) SeekTo(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil || math.IsNaN(t) {
		return
	}
	t = math.Max(0, math.Min(t, e.buffer.Duration()))
	if e.transport.IsPlaying() {
		e.stopSource()
		e.startSource(t)
	}
	e.transport.Seek(t)
}

// SetVolume applies the perceptual volume curve to v in [0, 1] with a short ramp.
func (e *Engine) SetVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	v = math.Max(0, math.Min(1, v))
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	e.gain.Gain.LinearRampTo(audio.VolumeCurve(v), VolumeRamp)
}

// Volume returns the fader value last set.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Gain returns the output gain the volume currently settles at.
func (e *Engine) Gain() float64 {
	return e.gain.Gain.Target()
}

// SetPlaybackRate changes tempo in place. rate must be positive.
func (e *Engine) SetPlaybackRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.transport.SetRate(rate); err != nil {
		return err
	}
	if e.source != nil {
		e.source.SetRate(rate)
	}
	return nil
}

// PlaybackRate returns the current rate.
func (e *Engine) PlaybackRate() float64 {
	return e.transport.Rate()
}

// Position returns the playback position in seconds.
func (e *Engine) Position() float64 {
	return e.transport.Position()
}

// Duration returns the loaded track length, or 0.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return 0
	}
	return e.buffer.Duration()
}

// IsPlaying reports whether a segment is running.
func (e *Engine) IsPlaying() bool {
	return e.transport.IsPlaying()
}

// Loaded reports whether a buffer is present.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer != nil
}

// Buffer returns the loaded buffer, or nil.
func (e *Engine) Buffer() *audio.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer
}

// HasSource reports whether a source is currently connected.
func (e *Engine) HasSource() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source != nil
}

// Close stops playback and detaches the volume node.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSource()
	e.transport.Stop()
	e.ctx.Edit(func(p *audio.Patch) { p.Detach(e.gain.Node) })
}

func (e *Engine) startSource(offset float64) {
	e.seq++
	src := e.ctx.NewSource(fmt.Sprintf("%s/source-%d", e.gain.Name(), e.seq), e.buffer)
	src.SetRate(e.transport.Rate())
	src.Connect(e.gain.Node)
	// A fresh source cannot already be started.
	_ = src.Start(offset)
	e.source = src
}

func (e *Engine) stopSource() {
	if e.source == nil {
		return
	}
	e.source.Stop()
	e.source.Disconnect()
	e.source = nil
}
