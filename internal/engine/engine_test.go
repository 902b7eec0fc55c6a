package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/satindergrewal/deckmix/internal/audio"
	"github.com/satindergrewal/deckmix/internal/transport"
)

type fakeFetcher struct {
	files map[int64][]byte
	err   error
}

func (f *fakeFetcher) TrackFile(_ context.Context, id int64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.files[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

// wavTrack encodes seconds of a constant level as 16-bit stereo WAV.
func wavTrack(seconds float64, level int16) []byte {
	frames := int(seconds * audio.SampleRate)
	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = level
	}
	data := audio.SamplesToBytes(samples)

	buf := make([]byte, 44+len(data))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(data)))
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 2)
	binary.LittleEndian.PutUint32(buf[24:], audio.SampleRate)
	binary.LittleEndian.PutUint32(buf[28:], audio.SampleRate*4)
	binary.LittleEndian.PutUint16(buf[32:], 4)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(data)))
	copy(buf[44:], data)
	return buf
}

const (
	trackShort int64 = iota + 1
	trackLong
	trackBad
)

func newTestEngine(t *testing.T) (*audio.Context, *Engine, *fakeFetcher) {
	t.Helper()
	ctx := audio.NewContext(audio.SampleRate)
	f := &fakeFetcher{files: map[int64][]byte{
		trackShort: wavTrack(1, 8192),
		trackLong:  wavTrack(4, 8192),
		trackBad:   []byte("RIFF\x00\x00\x00\x00WAVEjunk"),
	}}
	e := New(ctx, audio.NewDecoder(audio.SampleRate, false), f, "A")
	e.Output().Connect(ctx.Destination())
	return ctx, e, f
}

// load follows the deck's path: decode first, then swap the buffer in.
func load(e *Engine, id int64) error {
	b, err := e.Prepare(context.Background(), id)
	if err != nil {
		return err
	}
	e.LoadBuffer(b)
	return nil
}

func render(ctx *audio.Context, seconds float64) [][2]float64 {
	out := make([][2]float64, int(seconds*float64(ctx.SampleRate())))
	ctx.Render(out)
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestPlayWithoutTrackIsNoop(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	e.Play()
	render(ctx, 0.1)
	if e.IsPlaying() || e.HasSource() {
		t.Error("Play without a buffer started playback")
	}
}

func TestLoadAndPlay(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	if err := load(e, trackLong); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !near(e.Duration(), 4) {
		t.Errorf("Duration = %v, want 4", e.Duration())
	}
	e.Play()
	out := render(ctx, 0.5)
	if !near(e.Position(), 0.5) {
		t.Errorf("Position = %v, want 0.5", e.Position())
	}
	// 8192/32768 = 0.25 through a 0.49 volume gain.
	if got := out[len(out)-1][0]; math.Abs(got-0.25*0.49) > 1e-3 {
		t.Errorf("output = %v, want %v", got, 0.25*0.49)
	}
}

func TestPauseResume(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	load(e, trackLong)
	e.Play()
	render(ctx, 0.5)
	e.Pause()
	if e.HasSource() {
		t.Error("Pause left a source connected")
	}
	paused := e.Position()
	render(ctx, 0.5)
	if e.Position() != paused {
		t.Errorf("position moved while paused: %v -> %v", paused, e.Position())
	}
	e.Play()
	render(ctx, 0.25)
	if !near(e.Position(), paused+0.25) {
		t.Errorf("Position = %v, want %v", e.Position(), paused+0.25)
	}
}

func TestSeek(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	load(e, trackLong)

	e.SeekTo(2)
	if !near(e.Position(), 2) || e.IsPlaying() {
		t.Errorf("paused seek: pos=%v playing=%v", e.Position(), e.IsPlaying())
	}

	e.Play()
	render(ctx, 0.1)
	e.SeekTo(1)
	if !near(e.Position(), 1) || !e.IsPlaying() {
		t.Errorf("playing seek: pos=%v playing=%v", e.Position(), e.IsPlaying())
	}
	render(ctx, 0.5)
	if !near(e.Position(), 1.5) {
		t.Errorf("Position after seek = %v, want 1.5", e.Position())
	}

	e.SeekTo(99)
	if !near(e.Position(), 4) {
		t.Errorf("seek past end = %v, want clamped to 4", e.Position())
	}
}

func TestSeekReplacesSource(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	load(e, trackLong)
	e.Play()
	render(ctx, 0.1)
	e.SeekTo(3)
	if n := len(e.Output().Inputs()); n != 1 {
		t.Errorf("volume node has %d sources, want exactly 1", n)
	}
}

func TestPlaybackRate(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	load(e, trackLong)
	e.Play()
	render(ctx, 0.5)
	if err := e.SetPlaybackRate(2); err != nil {
		t.Fatal(err)
	}
	if !near(e.Position(), 0.5) {
		t.Errorf("rate change moved position to %v", e.Position())
	}
	render(ctx, 0.5)
	if !near(e.Position(), 1.5) {
		t.Errorf("Position at 2x = %v, want 1.5", e.Position())
	}
	if err := e.SetPlaybackRate(0); !errors.Is(err, transport.ErrInvalidRate) {
		t.Errorf("SetPlaybackRate(0) err = %v", err)
	}
	if e.PlaybackRate() != 2 {
		t.Errorf("rate = %v after rejected change", e.PlaybackRate())
	}
}

func TestVolumeCurveApplied(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	tests := []struct{ in, want float64 }{
		{1, 0.49},
		{0.5, 0.1225},
		{0, 0},
		{3, 0.49},
	}
	for _, tt := range tests {
		e.SetVolume(tt.in)
		if !near(e.Gain(), tt.want) {
			t.Errorf("SetVolume(%v) gain = %v, want %v", tt.in, e.Gain(), tt.want)
		}
	}
	e.SetVolume(0.5)
	render(ctx, 0.2)
	if e.Volume() != 0.5 {
		t.Errorf("Volume = %v, want 0.5", e.Volume())
	}
}

func TestStopRewinds(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	load(e, trackLong)
	e.Play()
	render(ctx, 0.3)
	e.Stop()
	if e.IsPlaying() || e.Position() != 0 || e.HasSource() {
		t.Errorf("after Stop: playing=%v pos=%v source=%v", e.IsPlaying(), e.Position(), e.HasSource())
	}
}

func TestLoadFailureKeepsState(t *testing.T) {
	ctx, e, f := newTestEngine(t)
	load(e, trackShort)
	e.Play()
	render(ctx, 0.2)

	var de *audio.DecodeError
	if err := load(e, trackBad); !errors.As(err, &de) {
		t.Fatalf("load(bad) err = %v, want DecodeError", err)
	}
	if !e.IsPlaying() || !near(e.Duration(), 1) {
		t.Errorf("decode failure changed state: playing=%v duration=%v", e.IsPlaying(), e.Duration())
	}

	fetchErr := errors.New("connection refused")
	f.err = fetchErr
	if err := load(e, trackLong); !errors.Is(err, fetchErr) {
		t.Fatalf("load err = %v, want fetch error", err)
	}
	if !e.IsPlaying() || !near(e.Duration(), 1) {
		t.Error("fetch failure changed state")
	}
}

func TestLoadStopsPriorPlayback(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	load(e, trackShort)
	e.Play()
	render(ctx, 0.2)
	if err := load(e, trackLong); err != nil {
		t.Fatal(err)
	}
	if e.IsPlaying() || e.HasSource() || e.Position() != 0 {
		t.Errorf("after reload: playing=%v source=%v pos=%v", e.IsPlaying(), e.HasSource(), e.Position())
	}
}

func TestUnload(t *testing.T) {
	ctx, e, _ := newTestEngine(t)
	load(e, trackShort)
	e.Play()
	render(ctx, 0.1)
	e.Unload()
	if e.Loaded() || e.HasSource() || e.Position() != 0 {
		t.Error("Unload left state behind")
	}
	e.Play()
	if e.IsPlaying() {
		t.Error("Play after Unload started playback")
	}
}
