package deck

import (
	"context"
	"log"
	"time"
)

// startTicker launches the per-deck ticking task if it is not running.
// Callers hold d.mu.
func (d *Deck) startTicker() {
	if d.tickCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.tickCancel = cancel
	d.tickDone = done
	go d.tick(ctx, done)
}

// stopTicker cancels the ticking task without waiting for it, since the task
// itself may be blocked on d.mu. Callers hold d.mu.
func (d *Deck) stopTicker() {
	if d.tickCancel == nil {
		return
	}
	d.tickCancel()
	d.tickCancel = nil
	d.tickDone = nil
}

// tick pushes position and VU to the callbacks at the frame rate and
// refreshes the cached meter at the meter rate until cancelled.
func (d *Deck) tick(ctx context.Context, done chan struct{}) {
	defer close(done)

	frame := time.NewTicker(time.Second / time.Duration(d.opts.FrameRate))
	defer frame.Stop()
	meter := time.NewTicker(time.Second / time.Duration(d.opts.MeterRate))
	defer meter.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-meter.C:
			level := d.analyzer.SampleVUMeter()
			d.mu.Lock()
			if ctx.Err() == nil {
				d.vu = level
			}
			d.mu.Unlock()
		case <-frame.C:
			pos, dur := d.engine.Position(), d.engine.Duration()
			if dur > 0 && pos >= dur {
				d.endOfTrack(ctx)
				return
			}
			if ctx.Err() != nil {
				return
			}
			d.emitTime(pos, dur)
			if d.cb.OnVUMeter != nil {
				level := d.analyzer.SampleVUMeter()
				d.emit(func() { d.cb.OnVUMeter(level) })
			}
		}
	}
}

// endOfTrack parks a deck that played past the end at the end.
func (d *Deck) endOfTrack(ctx context.Context) {
	d.mu.Lock()
	if ctx.Err() != nil || d.state != Playing {
		d.mu.Unlock()
		return
	}
	dur := d.engine.Duration()
	d.engine.Pause()
	d.engine.SeekTo(dur)
	d.cueHeld = false
	d.idle(Paused)
	d.mu.Unlock()

	log.Printf("Deck %s: reached end of track", d.id)
	d.emitTime(dur, dur)
	d.emit(d.cb.OnPause)
}
