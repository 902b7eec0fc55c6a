package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/deckmix/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// DefaultOpusBitrate is the monitor bitrate in bit/s.
const DefaultOpusBitrate = 128000

// WebRTCHandler negotiates low-latency Opus monitor sessions.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	streamID    string
	bitrate     int

	mu    sync.Mutex
	peers []*peer
}

type peer struct {
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc
}

// NewWebRTCHandler creates a WebRTC monitor handler.
func NewWebRTCHandler(b *Broadcaster, streamID string, bitrate int) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = DefaultOpusBitrate
	}
	return &WebRTCHandler{broadcaster: b, streamID: streamID, bitrate: bitrate}
}

// PeerCount returns the number of connected monitors.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	answer, err := h.answer(offer)
	if err != nil {
		log.Printf("Monitor: WebRTC negotiation failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}

// answer builds a peer connection for offer and starts streaming to it once
// ICE gathering has finished.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		h.streamID,
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered

	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{pc: pc, cancel: cancel}
	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()
	log.Printf("Monitor: WebRTC peer connected (total: %d)", h.PeerCount())

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.removePeer(p) {
				cancel()
				pc.Close()
				log.Printf("Monitor: WebRTC peer disconnected (remaining: %d)", h.PeerCount())
			}
		}
	})

	go h.streamToPeer(ctx, track)
	return pc.LocalDescription(), nil
}

func (h *WebRTCHandler) streamToPeer(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("Monitor: opus encoder error: %v", err)
		return
	}
	enc.SetBitrate(h.bitrate)

	packet := make([]byte, 4000)
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.done:
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("Monitor: opus encode error: %v", err)
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     packet[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(target *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == target {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = nil
	h.mu.Unlock()
	for _, p := range peers {
		p.cancel()
		p.pc.Close()
	}
}
