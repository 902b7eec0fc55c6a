package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Context is the process-wide audio graph shared by every deck.
// Create one at start-up with NewContext and release it with Close on shutdown.
// Rendering, topology edits and processor parameter changes are serialized
// on a single mutex, so the render thread never sees a half-built chain.
type Context struct {
	mu         sync.Mutex
	sampleRate int
	frames     uint64 // frames rendered since creation
	renderID   uint64
	closed     bool

	destination *Node
	pcm         [][2]float64
}

// NewContext creates an audio context running at sampleRate.
func NewContext(sampleRate int) *Context {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	c := &Context{sampleRate: sampleRate}
	c.destination = c.NewNode("destination", nil)
	return c
}

// SampleRate returns the render rate in Hz.
func (c *Context) SampleRate() int {
	return c.sampleRate
}

// Destination is the graph sink. Whatever is connected to it is rendered.
func (c *Context) Destination() *Node {
	return c.destination
}

// CurrentTime returns the context clock in seconds, derived from rendered frames.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Now implements transport.Clock.
func (c *Context) Now() float64 {
	return c.CurrentTime()
}

func (c *Context) now() float64 {
	return float64(c.frames) / float64(c.sampleRate)
}

// Do runs fn while holding the render lock. Use it for processor state that
// the render thread reads, and for changes that must land in the same quantum.
func (c *Context) Do(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Edit applies a batch of connect/disconnect operations atomically.
func (c *Context) Edit(fn func(p *Patch)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&Patch{})
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the context down. Subsequent renders produce silence.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	p := &Patch{}
	for _, in := range append([]*Node(nil), c.destination.inputs...) {
		p.Disconnect(in)
	}
}

// Render fills dst with the next len(dst) frames of the destination mix.
func (c *Context) Render(dst [][2]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render(dst)
}

func (c *Context) render(dst [][2]float64) {
	for off := 0; off < len(dst); off += RenderQuantum {
		n := len(dst) - off
		if n > RenderQuantum {
			n = RenderQuantum
		}
		chunk := dst[off : off+n]
		if c.closed {
			clear(chunk)
		} else {
			c.renderID++
			out := c.destination.pull(c.renderID, n, c.now())
			for i := range chunk {
				chunk[i][0] = clip(out[i][0])
				chunk[i][1] = clip(out[i][1])
			}
		}
		c.frames += uint64(n)
	}
}

// Read renders interleaved float32 little-endian stereo into p, so the
// context can be handed to a sound-card player as an io.Reader.
func (c *Context) Read(p []byte) (int, error) {
	frames := len(p) / 8
	c.mu.Lock()
	if cap(c.pcm) < frames {
		c.pcm = make([][2]float64, frames)
	}
	buf := c.pcm[:frames]
	c.render(buf)
	c.mu.Unlock()

	for i, f := range buf {
		binary.LittleEndian.PutUint32(p[i*8:], math.Float32bits(float32(f[0])))
		binary.LittleEndian.PutUint32(p[i*8+4:], math.Float32bits(float32(f[1])))
	}
	// Pad a trailing partial frame with silence.
	clear(p[frames*8:])
	return len(p), nil
}

func clip(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	if x != x { // NaN
		return 0
	}
	return x
}
