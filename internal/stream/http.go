package stream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"

	"github.com/satindergrewal/deckmix/internal/audio"
)

// DefaultMP3Bitrate is the monitor stream bitrate in kbit/s.
const DefaultMP3Bitrate = 192

// HTTPHandler serves the master mix as a chunked MP3 stream. Each
// connection gets its own FFmpeg encoder fed from the broadcaster.
type HTTPHandler struct {
	broadcaster *Broadcaster
	name        string
	bitrate     int
}

// NewHTTPHandler creates an MP3 monitor handler. name is sent as ICY-Name.
func NewHTTPHandler(b *Broadcaster, name string, bitrateKbps int) *HTTPHandler {
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultMP3Bitrate
	}
	return &HTTPHandler{broadcaster: b, name: name, bitrate: bitrateKbps}
}

// mp3EncoderArgs returns the ffmpeg arguments for raw s16le PCM in, MP3 out.
func mp3EncoderArgs(bitrateKbps int) []string {
	return []string{
		"-f", "s16le",
		"-ar", fmt.Sprint(audio.SampleRate),
		"-ac", fmt.Sprint(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", mp3EncoderArgs(h.bitrate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Printf("Monitor: stdin pipe error: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("Monitor: stdout pipe error: %v", err)
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Monitor: ffmpeg start error: %v", err)
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if h.name != "" {
		w.Header().Set("ICY-Name", h.name)
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)
	log.Printf("Monitor: MP3 listener connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Printf("Monitor: MP3 listener disconnected")

	go func() {
		defer stdin.Close()
		writeFrames(ctx, stdin, listener)
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("Monitor: ffmpeg read error: %v", err)
			}
			break
		}
	}
	cancel()
	cmd.Wait()
}

// writeFrames copies listener frames to w as little-endian PCM until ctx
// ends, the listener is unsubscribed or a write fails.
func writeFrames(ctx context.Context, w io.Writer, l *Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case frame, ok := <-l.C:
			if !ok {
				return nil
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return err
			}
		}
	}
}
