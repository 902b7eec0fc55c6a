// Package deck composes the playback engine, effects chain and analyser of
// one logical deck behind a small state machine.
package deck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/satindergrewal/deckmix/internal/analyzer"
	"github.com/satindergrewal/deckmix/internal/audio"
	"github.com/satindergrewal/deckmix/internal/effects"
	"github.com/satindergrewal/deckmix/internal/engine"
)

var (
	// ErrNoTrack is the precondition failure for track-dependent reads.
	// Control methods treat it as a silent no-op.
	ErrNoTrack        = errors.New("deck: no track loaded")
	ErrLoadInProgress = errors.New("deck: load already in progress")
	ErrClosed         = errors.New("deck: closed")
)

// State is the deck's position in Empty -> Loaded -> Playing <-> Paused.
type State int

const (
	Empty State = iota
	Loaded
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// Descriptor identifies the track to load.
type Descriptor struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Artist   string   `json:"artist"`
	BPM      *float64 `json:"bpm"`
	Key      string   `json:"key,omitempty"`
	Duration float64  `json:"duration"`
}

// Library is the remote track service as seen by a deck.
type Library interface {
	engine.Fetcher
	AnalyzeBPM(ctx context.Context, id int64) (float64, error)
}

// Callbacks push state to UI collaborators. Any may be nil. They run without
// deck locks held; a panicking callback is logged and ignored.
type Callbacks struct {
	OnPlay       func()
	OnPause      func()
	OnTimeUpdate func(current, duration float64)
	OnVUMeter    func(level float64)
	OnLoad       func(Descriptor)
	OnError      func(error)
}

// Options tune the ticking task.
type Options struct {
	FrameRate int // time/VU callbacks per second while playing
	MeterRate int // VU refreshes per second for Status
}

// Deck is one independently addressable deck.
type Deck struct {
	id       string
	ctx      *audio.Context
	engine   *engine.Engine
	effects  *effects.Graph
	analyzer *analyzer.Analyzer
	xfade    *audio.Gain
	lib      Library
	cb       Callbacks
	opts     Options

	mu       sync.Mutex
	state    State
	track    *Descriptor
	waveform []float64
	loading  bool
	cue      float64
	cueHeld  bool
	vu       float64
	closed   bool

	tickCancel context.CancelFunc
	tickDone   chan struct{}
}

// New builds a deck on the shared context:
// source -> volume -> effects -> analyser -> crossfade gain -> Output.
func New(ctx *audio.Context, id string, decoder *audio.Decoder, lib Library, cb Callbacks, opts Options) (*Deck, error) {
	if opts.FrameRate <= 0 {
		opts.FrameRate = 60
	}
	if opts.MeterRate <= 0 {
		opts.MeterRate = 20
	}
	an, err := analyzer.New(ctx, id+"/analyser")
	if err != nil {
		return nil, fmt.Errorf("deck %s: %w", id, err)
	}
	eng := engine.New(ctx, decoder, lib, id)
	d := &Deck{
		id:       id,
		ctx:      ctx,
		engine:   eng,
		effects:  effects.New(ctx, eng.Output(), an.Node),
		analyzer: an,
		xfade:    ctx.NewGain(id+"/crossfade", 1),
		lib:      lib,
		cb:       cb,
		opts:     opts,
	}
	an.Connect(d.xfade.Node)
	return d, nil
}

// ID returns the deck identifier (A..D).
func (d *Deck) ID() string { return d.id }

// Output is the deck's final node; connect it to the master bus.
func (d *Deck) Output() *audio.Node { return d.xfade.Node }

// CrossfadeGain is the gain the mixer drives from the crossfader.
func (d *Deck) CrossfadeGain() *audio.Param { return d.xfade.Gain }

// Effects exposes the deck's stage graph.
func (d *Deck) Effects() *effects.Graph { return d.effects }

// State returns the current state.
func (d *Deck) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Track returns the loaded descriptor, or false.
func (d *Deck) Track() (Descriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track == nil {
		return Descriptor{}, false
	}
	return *d.track, true
}

// Load fetches, decodes and analyzes desc, then swaps it in, stopping any
// prior playback. A failed load leaves the deck exactly as it was.
func (d *Deck) Load(ctx context.Context, desc Descriptor) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.loading {
		d.mu.Unlock()
		return ErrLoadInProgress
	}
	d.loading = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.loading = false
		d.mu.Unlock()
	}()

	log.Printf("Deck %s: loading track %d (%s)", d.id, desc.ID, desc.Title)
	buf, err := d.engine.Prepare(ctx, desc.ID)
	if err != nil {
		log.Printf("Deck %s: load failed: %v", d.id, err)
		d.emit(func() {
			if d.cb.OnError != nil {
				d.cb.OnError(err)
			}
		})
		return err
	}

	if desc.BPM == nil && d.lib != nil {
		if bpm, err := d.lib.AnalyzeBPM(ctx, desc.ID); err != nil {
			log.Printf("Deck %s: BPM analysis failed for track %d: %v", d.id, desc.ID, err)
		} else {
			desc.BPM = &bpm
		}
	}
	desc.Duration = buf.Duration()
	wave := audio.Overview(buf, audio.OverviewPoints)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	wasPlaying := d.state == Playing
	d.engine.LoadBuffer(buf)
	d.idle(Loaded)
	d.track = &desc
	d.waveform = wave
	d.cue, d.cueHeld = 0, false
	d.mu.Unlock()

	log.Printf("Deck %s: loaded %q (%.1fs)", d.id, desc.Title, desc.Duration)
	if wasPlaying {
		d.emit(d.cb.OnPause)
	}
	d.emit(func() {
		if d.cb.OnLoad != nil {
			d.cb.OnLoad(desc)
		}
	})
	return nil
}

// Play starts playback from Loaded or Paused. Anything else is a no-op,
// including a press while a load is in flight.
func (d *Deck) Play() {
	d.mu.Lock()
	if !d.canControl("play") || (d.state != Loaded && d.state != Paused) {
		d.mu.Unlock()
		return
	}
	d.play()
	d.mu.Unlock()
	log.Printf("Deck %s: play at %.2fs", d.id, d.engine.Position())
	d.emit(d.cb.OnPlay)
}

// Pause freezes playback. No-op unless playing.
func (d *Deck) Pause() {
	d.mu.Lock()
	if d.state != Playing {
		d.mu.Unlock()
		return
	}
	d.pause()
	d.mu.Unlock()
	log.Printf("Deck %s: pause at %.2fs", d.id, d.engine.Position())
	d.emit(d.cb.OnPause)
}

// TogglePlay plays a paused deck and pauses a playing one.
func (d *Deck) TogglePlay() {
	if d.State() == Playing {
		d.Pause()
	} else {
		d.Play()
	}
}

// Stop rewinds to zero and returns to Loaded.
func (d *Deck) Stop() {
	d.mu.Lock()
	if d.state == Empty {
		d.mu.Unlock()
		return
	}
	wasPlaying := d.state == Playing
	d.engine.Stop()
	d.idle(Loaded)
	dur := d.engine.Duration()
	d.mu.Unlock()

	if wasPlaying {
		d.emit(d.cb.OnPause)
	}
	d.emitTime(0, dur)
}

// Eject stops playback and unloads the track.
func (d *Deck) Eject() {
	d.mu.Lock()
	if d.state == Empty {
		d.mu.Unlock()
		return
	}
	wasPlaying := d.state == Playing
	d.engine.Unload()
	d.idle(Empty)
	d.track = nil
	d.waveform = nil
	d.cue, d.cueHeld = 0, false
	d.vu = 0
	d.mu.Unlock()

	log.Printf("Deck %s: ejected", d.id)
	if wasPlaying {
		d.emit(d.cb.OnPause)
	}
}

// Seek moves to t seconds without changing Playing/Paused.
func (d *Deck) Seek(t float64) {
	d.mu.Lock()
	if !d.canControl("seek") || d.state == Empty {
		d.mu.Unlock()
		return
	}
	d.engine.SeekTo(t)
	pos, dur := d.engine.Position(), d.engine.Duration()
	d.mu.Unlock()
	d.emitTime(pos, dur)
}

// PressCue previews from the cue point. Pressing while playing first moves
// the cue point to the current position.
func (d *Deck) PressCue() {
	d.mu.Lock()
	if !d.canControl("cue") || d.state == Empty {
		d.mu.Unlock()
		return
	}
	if d.state == Playing {
		d.cue = d.engine.Position()
		d.engine.Pause()
	}
	d.engine.SeekTo(d.cue)
	d.cueHeld = true
	d.play()
	d.mu.Unlock()
	d.emit(d.cb.OnPlay)
}

// ReleaseCue ends a cue preview and jumps back to the cue point.
func (d *Deck) ReleaseCue() {
	d.mu.Lock()
	if !d.cueHeld || d.state != Playing {
		d.cueHeld = false
		d.mu.Unlock()
		return
	}
	d.cueHeld = false
	d.pause()
	d.engine.SeekTo(d.cue)
	d.mu.Unlock()
	d.emit(d.cb.OnPause)
}

// SetCue stores the current position as the cue point.
func (d *Deck) SetCue() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Empty {
		d.cue = d.engine.Position()
	}
}

// SetVolume sets the channel fader in [0, 1].
func (d *Deck) SetVolume(v float64) {
	d.engine.SetVolume(v)
}

// SetPlaybackRate changes tempo without moving the position.
func (d *Deck) SetPlaybackRate(rate float64) error {
	return d.engine.SetPlaybackRate(rate)
}

// PlaybackRate returns the current tempo ratio.
func (d *Deck) PlaybackRate() float64 {
	return d.engine.PlaybackRate()
}

// SetEQ sets the gain in dB of band "low", "mid" or "high".
func (d *Deck) SetEQ(band string, db float64) error {
	return d.effects.SetParameter(band+"EQ", "gain", db)
}

// SetFilter sets the lowpass knob in [0, 100].
func (d *Deck) SetFilter(v float64) error {
	if math.IsNaN(v) {
		return &effects.InvalidParameterError{Stage: "filter", Param: "frequency", Value: v, Reason: "not a finite number"}
	}
	return d.effects.SetParameter("filter", "frequency", effects.FilterFrequency(v))
}

// Position returns the playback position in seconds.
func (d *Deck) Position() float64 {
	return d.engine.Position()
}

// Duration returns the loaded track length.
func (d *Deck) Duration() float64 {
	return d.engine.Duration()
}

// HasSource reports whether a player source is connected.
func (d *Deck) HasSource() bool {
	return d.engine.HasSource()
}

// Waveform returns the normalized overview of the loaded track.
func (d *Deck) Waveform() ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.track == nil {
		return nil, ErrNoTrack
	}
	return append([]float64(nil), d.waveform...), nil
}

// Spectrum returns the current byte spectrum.
func (d *Deck) Spectrum() []uint8 {
	return d.analyzer.SampleFrequencySpectrum()
}

// VULevel returns the bass-weighted level sampled now.
func (d *Deck) VULevel() float64 {
	return d.analyzer.SampleVUMeter()
}

// Close stops the ticking task and detaches the deck from the graph.
// The deck is unusable afterwards.
func (d *Deck) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	done := d.tickDone
	d.stopTicker()
	d.state = Empty
	d.track = nil
	d.mu.Unlock()

	if done != nil {
		<-done
	}
	d.engine.Close()
	d.effects.Close()
	d.ctx.Edit(func(p *audio.Patch) {
		p.Detach(d.analyzer.Node)
		p.Detach(d.xfade.Node)
	})
	log.Printf("Deck %s: closed", d.id)
}

// canControl rejects transport commands while a load is in flight.
// Callers hold d.mu.
func (d *Deck) canControl(op string) bool {
	if d.closed {
		return false
	}
	if d.loading {
		log.Printf("Deck %s: ignoring %s during load", d.id, op)
		return false
	}
	return true
}

// play and pause run with d.mu held.
func (d *Deck) play() {
	d.engine.Play()
	d.state = Playing
	d.analyzer.SetPlaying(true)
	d.startTicker()
}

func (d *Deck) pause() {
	d.engine.Pause()
	d.idle(Paused)
}

func (d *Deck) idle(s State) {
	d.state = s
	d.analyzer.SetPlaying(false)
	d.stopTicker()
}

func (d *Deck) emitTime(pos, dur float64) {
	if d.cb.OnTimeUpdate == nil {
		return
	}
	d.emit(func() { d.cb.OnTimeUpdate(pos, dur) })
}

// emit runs a callback, recovering and logging a panic.
func (d *Deck) emit(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Deck %s: callback panic: %v", d.id, r)
		}
	}()
	fn()
}
