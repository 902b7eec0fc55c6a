package audio

import (
	"errors"
	"math"
)

// ErrSourceStarted is returned when a one-shot source is started twice.
var ErrSourceStarted = errors.New("audio: source already started")

// Source plays a Buffer once from a start offset at an adjustable rate.
// It cannot be restarted; create a new Source for every playback segment.
type Source struct {
	*Node
	buffer *Buffer

	rate    float64
	pos     float64 // read head, buffer frames
	started bool
	stopped bool
	ended   bool
}

// NewSource creates an idle source bound to b.
func (c *Context) NewSource(name string, b *Buffer) *Source {
	s := &Source{buffer: b, rate: 1}
	s.Node = c.NewNode(name, s)
	return s
}

// Start begins playback offset seconds into the buffer.
func (s *Source) Start(offset float64) error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if s.started {
		return ErrSourceStarted
	}
	if offset < 0 || math.IsNaN(offset) {
		offset = 0
	}
	s.started = true
	s.pos = offset * float64(s.buffer.sampleRate)
	return nil
}

// Stop silences the source permanently.
func (s *Source) Stop() {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.stopped = true
}

// SetRate changes the playback rate in place without moving the read head.
func (s *Source) SetRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return
	}
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.rate = rate
}

// Rate returns the current playback rate.
func (s *Source) Rate() float64 {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.rate
}

// Position returns the read head in seconds.
func (s *Source) Position() float64 {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.pos / float64(s.buffer.sampleRate)
}

// Active reports whether the source has been started and not stopped.
func (s *Source) Active() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.started && !s.stopped && !s.ended
}

// Ended reports whether the read head ran past the end of the buffer.
func (s *Source) Ended() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.ended
}

// Process implements Processor.
func (s *Source) Process(buf [][2]float64, _ float64) {
	if !s.started || s.stopped || s.ended {
		clear(buf)
		return
	}
	step := s.rate * float64(s.buffer.sampleRate) / float64(s.ctx.sampleRate)
	n := s.buffer.Len()
	for i := range buf {
		idx := int(s.pos)
		if idx >= n {
			s.ended = true
			clear(buf[i:])
			return
		}
		frac := s.pos - float64(idx)
		a := s.buffer.samples[idx]
		b := s.buffer.At(idx + 1)
		buf[i][0] = a[0] + (b[0]-a[0])*frac
		buf[i][1] = a[1] + (b[1]-a[1])*frac
		s.pos += step
	}
}
