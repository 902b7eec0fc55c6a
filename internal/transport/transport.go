// Package transport tracks a deck's playback position across play, pause,
// seek and tempo changes without accumulating rate history.
package transport

import (
	"errors"
	"math"
	"sync"
)

// ErrInvalidRate is returned for playback rates that are not finite and positive.
var ErrInvalidRate = errors.New("transport: playback rate must be > 0")

// Clock reports a monotonic time in seconds.
type Clock interface {
	Now() float64
}

// Transport is the per-deck play state. While playing the position is
// (now - origin) * rate; otherwise it is the paused offset. origin is
// re-derived on every play, seek and rate change so the formula holds.
type Transport struct {
	clock Clock

	mu      sync.Mutex
	origin  float64
	paused  float64
	rate    float64
	playing bool
}

// New creates a stopped transport at position zero and rate 1.
func New(clock Clock) *Transport {
	return &Transport{clock: clock, rate: 1}
}

// Play starts the clock at offset seconds.
func (t *Transport) Play(offset float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.origin = t.clock.Now() - offset/t.rate
	t.paused = offset
	t.playing = true
}

// Pause freezes the position. No-op when not playing.
func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return
	}
	t.paused = t.position()
	t.playing = false
}

// Stop halts playback and rewinds to zero.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	t.paused = 0
}

// Seek moves to pos, keeping the play/pause state. pos is not clamped.
func (t *Transport) Seek(pos float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = pos
	if t.playing {
		t.origin = t.clock.Now() - pos/t.rate
	}
}

// SetRate changes the tempo without moving the current position.
func (t *Transport) SetRate(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrInvalidRate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.playing {
		pos := t.position()
		t.origin = t.clock.Now() - pos/rate
	}
	t.rate = rate
	return nil
}

// Rate returns the playback rate.
func (t *Transport) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// Position returns the current playback position in seconds.
func (t *Transport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position()
}

// IsPlaying reports whether the clock is running.
func (t *Transport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *Transport) position() float64 {
	if !t.playing {
		return t.paused
	}
	return (t.clock.Now() - t.origin) * t.rate
}
