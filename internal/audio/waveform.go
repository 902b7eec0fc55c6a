package audio

import "math"

// OverviewPoints is the resolution of the static waveform shown per deck.
const OverviewPoints = 200

// Overview reduces b to points mean-absolute amplitudes of the left channel
// normalized so the loudest block is 1. Short buffers yield fewer points.
func Overview(b *Buffer, points int) []float64 {
	if b == nil || b.Len() == 0 || points <= 0 {
		return nil
	}
	block := b.Len() / points
	if block == 0 {
		block = 1
		points = b.Len()
	}

	out := make([]float64, points)
	peak := 0.0
	for i := range out {
		sum := 0.0
		for j := 0; j < block; j++ {
			sum += math.Abs(b.samples[i*block+j][0])
		}
		out[i] = sum / float64(block)
		peak = math.Max(peak, out[i])
	}
	if peak > 0 {
		for i := range out {
			out[i] /= peak
		}
	}
	return out
}
