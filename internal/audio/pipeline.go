package audio

import (
	"context"
	"time"
)

// Pipeline drives a Context in real time without a sound card: every 20ms it
// renders one frame of the master mix and publishes it as interleaved int16.
type Pipeline struct {
	ctx     *Context
	frameCh chan []int16
}

// NewPipeline creates a real-time driver for c.
func NewPipeline(c *Context) *Pipeline {
	return &Pipeline{
		ctx:     c,
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Run renders until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	buf := make([][2]float64, FrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.ctx.Render(buf)
		frame := make([]int16, FrameSamples)
		for i, f := range buf {
			frame[i*2] = toInt16(f[0])
			frame[i*2+1] = toInt16(f[1])
		}

		select {
		case p.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func toInt16(x float64) int16 {
	v := x * 32767
	if v > 32767 {
		return 32767
	} else if v < -32768 {
		return -32768
	}
	return int16(v)
}
