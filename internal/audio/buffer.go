package audio

// Buffer is decoded, immutable stereo PCM. Mono sources are duplicated to
// both sides; Channels reports the channel count of the original data.
type Buffer struct {
	samples    [][2]float64
	sampleRate int
	channels   int
}

// NewBuffer wraps samples. The slice must not be modified afterwards.
func NewBuffer(samples [][2]float64, sampleRate, channels int) *Buffer {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	if channels <= 0 {
		channels = Channels
	}
	return &Buffer{samples: samples, sampleRate: sampleRate, channels: channels}
}

// Len returns the length in frames.
func (b *Buffer) Len() int { return len(b.samples) }

// SampleRate returns the buffer rate in Hz.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Channels returns the source channel count.
func (b *Buffer) Channels() int { return b.channels }

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	return float64(len(b.samples)) / float64(b.sampleRate)
}

// At returns frame i, or silence outside the buffer.
func (b *Buffer) At(i int) [2]float64 {
	if i < 0 || i >= len(b.samples) {
		return [2]float64{}
	}
	return b.samples[i]
}
