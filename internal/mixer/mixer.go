// Package mixer owns the decks, the crossfader and the master bus.
package mixer

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/deckmix/internal/audio"
	"github.com/satindergrewal/deckmix/internal/deck"
)

// CrossfadeRamp smooths crossfader and master volume moves.
const CrossfadeRamp = 20 * time.Millisecond

var (
	ErrUnknownDeck   = errors.New("mixer: unknown deck")
	ErrInvalidLayout = errors.New("mixer: layout must be 2 or 4 decks")
	ErrUnknownBPM    = errors.New("mixer: tempo unknown")
)

// DeckIDs lists every deck slot in layout order.
var DeckIDs = []string{"A", "B", "C", "D"}

// Options configure the decks the mixer creates.
type Options struct {
	Decks int // 2 or 4
	Deck  deck.Options
	// Callbacks, if set, returns the callbacks for a newly created deck.
	Callbacks func(id string) deck.Callbacks
}

// Mixer routes every deck through its crossfade gain into the master gain.
type Mixer struct {
	ctx     *audio.Context
	decoder *audio.Decoder
	lib     deck.Library
	opts    Options
	master  *audio.Gain

	mu         sync.Mutex
	decks      map[string]*deck.Deck
	layout     int
	crossfader float64
	volume     float64
}

// New creates the master bus and the initial decks.
func New(ctx *audio.Context, decoder *audio.Decoder, lib deck.Library, opts Options) (*Mixer, error) {
	if opts.Decks == 0 {
		opts.Decks = 2
	}
	m := &Mixer{
		ctx:     ctx,
		decoder: decoder,
		lib:     lib,
		opts:    opts,
		master:  ctx.NewGain("master", 1),
		decks:   make(map[string]*deck.Deck),
		volume:  1,
	}
	m.master.Connect(ctx.Destination())
	if err := m.SetLayout(opts.Decks); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Output is the master bus node.
func (m *Mixer) Output() *audio.Node { return m.master.Node }

// Deck returns the deck with id.
func (m *Mixer) Deck(id string) (*deck.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeck, id)
	}
	return d, nil
}

// Decks returns the active decks in layout order.
func (m *Mixer) Decks() []*deck.Deck {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ordered()
}

func (m *Mixer) ordered() []*deck.Deck {
	out := make([]*deck.Deck, 0, len(m.decks))
	for _, id := range DeckIDs {
		if d, ok := m.decks[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Layout returns the number of active decks.
func (m *Mixer) Layout() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layout
}

// SetLayout switches between two decks (A, B) and four (A..D). Decks C and
// D are created or destroyed as needed; A and B are never touched.
func (m *Mixer) SetLayout(n int) error {
	if n != 2 && n != 4 {
		return fmt.Errorf("%w: %d", ErrInvalidLayout, n)
	}

	m.mu.Lock()
	if n == m.layout {
		m.mu.Unlock()
		return nil
	}
	var removed []*deck.Deck
	for i, id := range DeckIDs {
		_, exists := m.decks[id]
		switch {
		case i < n && !exists:
			d, err := m.newDeck(id)
			if err != nil {
				m.mu.Unlock()
				return err
			}
			m.decks[id] = d
		case i >= n && exists:
			removed = append(removed, m.decks[id])
			delete(m.decks, id)
		}
	}
	m.layout = n
	m.applyCrossfader(0)
	m.mu.Unlock()

	for _, d := range removed {
		d.Close()
	}
	log.Printf("Mixer: layout set to %d decks", n)
	return nil
}

func (m *Mixer) newDeck(id string) (*deck.Deck, error) {
	var cb deck.Callbacks
	if m.opts.Callbacks != nil {
		cb = m.opts.Callbacks(id)
	}
	d, err := deck.New(m.ctx, id, m.decoder, m.lib, cb, m.opts.Deck)
	if err != nil {
		return nil, fmt.Errorf("create deck %s: %w", id, err)
	}
	d.Output().Connect(m.master.Node)
	return d, nil
}

// Left reports whether deck id sits on the left of the crossfader.
func Left(id string) bool {
	return id == "A" || id == "C"
}

// SetCrossfader moves the crossfader in [-1, 1] and ramps both sides
// together. Out-of-range values clamp.
func (m *Mixer) SetCrossfader(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("mixer: invalid crossfader value %v", v)
	}
	v = math.Max(-1, math.Min(1, v))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.crossfader = v
	m.applyCrossfader(CrossfadeRamp)
	return nil
}

// Crossfader returns the current crossfader position.
func (m *Mixer) Crossfader() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crossfader
}

// applyCrossfader runs with m.mu held.
func (m *Mixer) applyCrossfader(d time.Duration) {
	left, right := audio.EqualPower(m.crossfader)
	targets := make([]audio.Target, 0, len(m.decks))
	for id, dk := range m.decks {
		g := right
		if Left(id) {
			g = left
		}
		targets = append(targets, audio.Target{Param: dk.CrossfadeGain(), Value: g})
	}
	m.ctx.RampTogether(d, targets...)
}

// SetMasterVolume sets the master gain in [0, 1].
func (m *Mixer) SetMasterVolume(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("mixer: invalid master volume %v", v)
	}
	v = math.Max(0, math.Min(1, v))

	m.mu.Lock()
	m.volume = v
	m.mu.Unlock()
	m.master.Gain.LinearRampTo(v, CrossfadeRamp)
	return nil
}

// MasterVolume returns the master fader value.
func (m *Mixer) MasterVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// SyncTempo matches slave's playback rate to master's tempo and returns the
// new rate. Both tracks need a known BPM.
func (m *Mixer) SyncTempo(master, slave string) (float64, error) {
	md, err := m.Deck(master)
	if err != nil {
		return 0, err
	}
	sd, err := m.Deck(slave)
	if err != nil {
		return 0, err
	}
	mbpm, err := bpmOf(md)
	if err != nil {
		return 0, err
	}
	sbpm, err := bpmOf(sd)
	if err != nil {
		return 0, err
	}

	rate := mbpm / sbpm
	if err := sd.SetPlaybackRate(rate); err != nil {
		return 0, fmt.Errorf("sync %s to %s: %w", slave, master, err)
	}
	log.Printf("Mixer: synced deck %s to %s (%.1f -> %.1f BPM, rate %.3f)", slave, master, sbpm, mbpm, rate)
	return rate, nil
}

func bpmOf(d *deck.Deck) (float64, error) {
	t, ok := d.Track()
	if !ok {
		return 0, fmt.Errorf("deck %s: %w", d.ID(), deck.ErrNoTrack)
	}
	if t.BPM == nil || *t.BPM <= 0 {
		return 0, fmt.Errorf("deck %s: %w", d.ID(), ErrUnknownBPM)
	}
	return *t.BPM, nil
}

// Status is the mixer snapshot served to the control surface.
type Status struct {
	Layout       int           `json:"layout"`
	Crossfader   float64       `json:"crossfader"`
	MasterVolume float64       `json:"master_volume"`
	Time         float64       `json:"time"`
	Decks        []deck.Status `json:"decks"`
}

// Status reports every deck and the mixer controls.
func (m *Mixer) Status() Status {
	m.mu.Lock()
	s := Status{
		Layout:       m.layout,
		Crossfader:   m.crossfader,
		MasterVolume: m.volume,
	}
	decks := m.ordered()
	m.mu.Unlock()

	s.Time = m.ctx.CurrentTime()
	s.Decks = make([]deck.Status, 0, len(decks))
	for _, d := range decks {
		s.Decks = append(s.Decks, d.Status())
	}
	return s
}

// Close destroys every deck and detaches the master bus.
func (m *Mixer) Close() {
	m.mu.Lock()
	decks := m.ordered()
	m.decks = make(map[string]*deck.Deck)
	m.layout = 0
	m.mu.Unlock()

	for _, d := range decks {
		d.Close()
	}
	m.ctx.Edit(func(p *audio.Patch) {
		p.Detach(m.master.Node)
	})
}
