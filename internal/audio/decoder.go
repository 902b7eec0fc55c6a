package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// resampleSlack is how many frames the resampler may come up short of the
// scaled header length.
const resampleSlack = 64

// ErrUnsupportedFormat is wrapped by DecodeError when no decoder recognizes the data.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DecodeError reports corrupt, truncated or unsupported audio data.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns encoded track bytes into a Buffer at the context rate.
type Decoder struct {
	SampleRate int
	// FFmpeg enables the ffmpeg subprocess for containers beep cannot read (m4a, aac, ...).
	FFmpeg bool
}

// NewDecoder creates a decoder producing buffers at sampleRate.
func NewDecoder(sampleRate int, ffmpeg bool) *Decoder {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &Decoder{SampleRate: sampleRate, FFmpeg: ffmpeg}
}

// Decode decodes data, sniffing the container from its magic bytes.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*Buffer, error) {
	format := Sniff(data)
	if format == "" {
		if d.FFmpeg {
			return d.decodeFFmpeg(ctx, data)
		}
		return nil, &DecodeError{Format: "unknown", Err: ErrUnsupportedFormat}
	}

	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch format {
	case "wav":
		s, f, err = wav.Decode(bytes.NewReader(data))
	case "flac":
		s, f, err = flac.Decode(bytes.NewReader(data))
	case "ogg":
		s, f, err = vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	case "mp3":
		s, f, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	}
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	defer s.Close()

	var streamer beep.Streamer = s
	expect, slack := s.Len(), 0
	if int(f.SampleRate) != d.SampleRate {
		streamer = beep.Resample(4, f.SampleRate, beep.SampleRate(d.SampleRate), s)
		expect = int(float64(expect) * float64(d.SampleRate) / float64(f.SampleRate))
		slack = resampleSlack
	}

	samples, err := drain(streamer, expect)
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	if len(samples) == 0 {
		return nil, &DecodeError{Format: format, Err: io.ErrUnexpectedEOF}
	}
	// wav and flac headers declare the length; a body cut short is truncated.
	if (format == "wav" || format == "flac") && expect > 0 && len(samples) < expect-slack {
		return nil, &DecodeError{Format: format, Err: io.ErrUnexpectedEOF}
	}
	return NewBuffer(samples, d.SampleRate, f.NumChannels), nil
}

// Sniff returns the container name for data ("wav", "flac", "ogg", "mp3"), or "".
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return "flac"
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return "ogg"
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

func drain(s beep.Streamer, expect int) ([][2]float64, error) {
	if expect < 0 {
		expect = 0
	}
	out := make([][2]float64, 0, expect)
	chunk := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(chunk)
		out = append(out, chunk[:n]...)
		if !ok || n == 0 {
			break
		}
	}
	return out, s.Err()
}

// decodeFFmpeg pipes data through FFmpeg to raw PCM int16 stereo at the decoder rate.
func (d *Decoder) decodeFFmpeg(ctx context.Context, data []byte) (*Buffer, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(d.SampleRate),
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, &DecodeError{Format: "ffmpeg", Err: err}
	}

	frames := len(out) / 4
	if frames == 0 {
		return nil, &DecodeError{Format: "ffmpeg", Err: io.ErrUnexpectedEOF}
	}
	samples := make([][2]float64, frames)
	for i := range samples {
		l := int16(binary.LittleEndian.Uint16(out[i*4:]))
		r := int16(binary.LittleEndian.Uint16(out[i*4+2:]))
		samples[i] = [2]float64{float64(l) / 32768, float64(r) / 32768}
	}
	return NewBuffer(samples, d.SampleRate, Channels), nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
