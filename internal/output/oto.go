// Package output plays the master mix on the local sound card.
package output

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/satindergrewal/deckmix/internal/audio"
)

// DeviceBuffer is the sound-card buffer. Smaller means lower latency and a
// higher risk of underruns.
const DeviceBuffer = 40 * time.Millisecond

// Device pulls float32 stereo PCM from a source and plays it.
type Device struct {
	ctx    *oto.Context
	player *oto.Player

	mu      sync.Mutex
	started bool
}

// OpenDevice opens the default output at sampleRate and binds it to src,
// typically an *audio.Context. Playback starts with Start.
func OpenDevice(src io.Reader, sampleRate int) (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   DeviceBuffer,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	d := &Device{ctx: ctx, player: ctx.NewPlayer(src)}
	log.Printf("Output: sound card open at %d Hz", sampleRate)
	return d, nil
}

// Start begins playback. Calling it again is a no-op.
func (d *Device) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started && d.player != nil {
		d.player.Play()
		d.started = true
	}
}

// Err reports an asynchronous player error, if any.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	return d.player.Err()
}

// Close stops playback and releases the player.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	d.started = false
	return err
}
