package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/satindergrewal/deckmix/internal/audio"
	"github.com/satindergrewal/deckmix/internal/deck"
	"github.com/satindergrewal/deckmix/internal/effects"
	"github.com/satindergrewal/deckmix/internal/library"
	"github.com/satindergrewal/deckmix/internal/mixer"
	"github.com/satindergrewal/deckmix/internal/stream"
)

// server is the HTTP control surface over the mixer and the track library.
type server struct {
	mixer  *mixer.Mixer
	lib    *library.Client
	events *eventHub

	// Optional monitors, reported in /api/status.
	broadcaster *stream.Broadcaster
	webrtc      *stream.WebRTCHandler
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.Handle("GET /api/events", s.events)

	mux.HandleFunc("POST /api/decks/{id}/load", s.handleLoad)
	mux.HandleFunc("POST /api/decks/{id}/play", s.deckAction(func(d *deck.Deck) { d.Play() }))
	mux.HandleFunc("POST /api/decks/{id}/pause", s.deckAction(func(d *deck.Deck) { d.Pause() }))
	mux.HandleFunc("POST /api/decks/{id}/toggle", s.deckAction(func(d *deck.Deck) { d.TogglePlay() }))
	mux.HandleFunc("POST /api/decks/{id}/stop", s.deckAction(func(d *deck.Deck) { d.Stop() }))
	mux.HandleFunc("POST /api/decks/{id}/eject", s.deckAction(func(d *deck.Deck) { d.Eject() }))
	mux.HandleFunc("POST /api/decks/{id}/seek", s.handleSeek)
	mux.HandleFunc("POST /api/decks/{id}/volume", s.handleVolume)
	mux.HandleFunc("POST /api/decks/{id}/rate", s.handleRate)
	mux.HandleFunc("POST /api/decks/{id}/eq", s.handleEQ)
	mux.HandleFunc("POST /api/decks/{id}/filter", s.handleFilter)
	mux.HandleFunc("POST /api/decks/{id}/effects/{name}", s.handleEffectToggle)
	mux.HandleFunc("POST /api/decks/{id}/effects/{name}/params", s.handleEffectParam)
	mux.HandleFunc("POST /api/decks/{id}/effects/reset", s.deckAction(func(d *deck.Deck) { d.Effects().Reset() }))
	mux.HandleFunc("POST /api/decks/{id}/cue", s.handleCue)
	mux.HandleFunc("GET /api/decks/{id}", s.handleDeckStatus)
	mux.HandleFunc("GET /api/decks/{id}/spectrum", s.handleSpectrum)
	mux.HandleFunc("GET /api/decks/{id}/waveform", s.handleWaveform)

	mux.HandleFunc("POST /api/crossfader", s.handleCrossfader)
	mux.HandleFunc("POST /api/layout", s.handleLayout)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/master", s.handleMaster)

	mux.HandleFunc("GET /api/library/tracks", s.handleTracks)
	mux.HandleFunc("POST /api/library/tracks", s.handleUpload)
	mux.HandleFunc("GET /api/library/playlists", s.handlePlaylists)
	mux.HandleFunc("POST /api/library/playlists", s.handleCreatePlaylist)
	mux.HandleFunc("GET /api/library/playlists/{id}/tracks", s.handlePlaylistTracks)
	mux.HandleFunc("POST /api/library/scan", s.handleScan)

	if s.broadcaster != nil {
		mux.Handle("/stream", stream.NewHTTPHandler(s.broadcaster, "deckmix master", stream.DefaultMP3Bitrate))
	}
	if s.webrtc != nil {
		mux.Handle("/offer", s.webrtc)
	}
	return mux
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"mixer": s.mixer.Status()}
	if s.broadcaster != nil {
		resp["monitor"] = s.broadcaster.Stats()
	}
	if s.webrtc != nil {
		resp["webrtc_listeners"] = s.webrtc.PeerCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

// deck resolves the {id} path value, writing a 404 when it is unknown.
func (s *server) deck(w http.ResponseWriter, r *http.Request) (*deck.Deck, bool) {
	d, err := s.mixer.Deck(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return d, true
}

func (s *server) deckAction(fn func(*deck.Deck)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.deck(w, r)
		if !ok {
			return
		}
		fn(d)
		writeJSON(w, http.StatusOK, d.Status())
	}
}

func (s *server) handleDeckStatus(w http.ResponseWriter, r *http.Request) {
	if d, ok := s.deck(w, r); ok {
		writeJSON(w, http.StatusOK, d.Status())
	}
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req struct {
		TrackID int64 `json:"track_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	t, err := s.lib.Track(r.Context(), req.TrackID)
	if err != nil {
		writeError(w, err)
		return
	}
	desc := deck.Descriptor{ID: t.ID, Title: t.Title, Artist: t.Artist, BPM: t.BPM, Key: t.Key, Duration: t.Duration}
	// The load outlives a dropped request; only its result is tied to it.
	if err := d.Load(context.WithoutCancel(r.Context()), desc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

func (s *server) handleSeek(w http.ResponseWriter, r *http.Request) {
	s.withValue(w, r, "seconds", func(d *deck.Deck, v float64) error {
		d.Seek(v)
		return nil
	})
}

func (s *server) handleVolume(w http.ResponseWriter, r *http.Request) {
	s.withValue(w, r, "value", func(d *deck.Deck, v float64) error {
		d.SetVolume(v)
		return nil
	})
}

func (s *server) handleRate(w http.ResponseWriter, r *http.Request) {
	s.withValue(w, r, "rate", func(d *deck.Deck, v float64) error {
		return d.SetPlaybackRate(v)
	})
}

func (s *server) handleFilter(w http.ResponseWriter, r *http.Request) {
	s.withValue(w, r, "value", func(d *deck.Deck, v float64) error {
		return d.SetFilter(v)
	})
}

// withValue decodes {"<field>": number} and applies fn to the addressed deck.
func (s *server) withValue(w http.ResponseWriter, r *http.Request, field string, fn func(*deck.Deck, float64) error) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req map[string]float64
	if !decode(w, r, &req) {
		return
	}
	v, ok := req[field]
	if !ok {
		http.Error(w, fmt.Sprintf("missing %q", field), http.StatusBadRequest)
		return
	}
	if err := fn(d, v); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

func (s *server) handleEQ(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req struct {
		Band string  `json:"band"`
		DB   float64 `json:"db"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := d.SetEQ(req.Band, req.DB); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

func (s *server) handleEffectToggle(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	name := r.PathValue("name")
	var err error
	if req.Enabled {
		err = d.Effects().Enable(name)
	} else {
		err = d.Effects().Disable(name)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chain": chainNames(d.Effects().Chain())})
}

func (s *server) handleEffectParam(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req struct {
		Param string  `json:"param"`
		Value float64 `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	name := r.PathValue("name")
	if err := d.Effects().SetParameter(name, req.Param, req.Value); err != nil {
		writeError(w, err)
		return
	}
	v, _ := d.Effects().Parameter(name, req.Param)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "stage": name, "param": req.Param, "value": v})
}

func chainNames(chain []effects.Kind) []string {
	out := make([]string, len(chain))
	for i, k := range chain {
		out[i] = k.String()
	}
	return out
}

func (s *server) handleCue(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if !decode(w, r, &req) {
		return
	}
	switch req.Action {
	case "press":
		d.PressCue()
	case "release":
		d.ReleaseCue()
	case "set":
		d.SetCue()
	default:
		http.Error(w, "action must be press, release or set", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

func (s *server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	// []uint8 would marshal as base64.
	bins := d.Spectrum()
	out := make([]int, len(bins))
	for i, b := range bins {
		out[i] = int(b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"bins": out, "vu": d.VULevel()})
}

func (s *server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	points, err := d.Waveform()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points, "duration": d.Duration()})
}

func (s *server) handleCrossfader(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value float64 `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.mixer.SetCrossfader(req.Value); err != nil {
		writeError(w, err)
		return
	}
	left, right := audio.EqualPower(s.mixer.Crossfader())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "value": s.mixer.Crossfader(), "left": left, "right": right})
}

func (s *server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decks int `json:"decks"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.mixer.SetLayout(req.Decks); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mixer.Status())
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Master string `json:"master"`
		Slave  string `json:"slave"`
	}
	if !decode(w, r, &req) {
		return
	}
	rate, err := s.mixer.SyncTempo(req.Master, req.Slave)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rate": rate})
}

func (s *server) handleMaster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value float64 `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.mixer.SetMasterVolume(req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "value": s.mixer.MasterVolume()})
}

func (s *server) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.lib.Tracks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field \"file\" required", http.StatusBadRequest)
		return
	}
	defer f.Close()
	t, err := s.lib.UploadTrack(r.Context(), hdr.Filename, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *server) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.lib.Playlists(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (s *server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req library.NewPlaylist
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	p, err := s.lib.CreatePlaylist(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handlePlaylistTracks(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid playlist id", http.StatusBadRequest)
		return
	}
	tracks, err := s.lib.PlaylistTracks(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.ScanMusic(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: encode response: %v", err)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		fe *library.FetchError
		de *audio.DecodeError
		pe *effects.InvalidParameterError
	)
	switch {
	case errors.Is(err, mixer.ErrUnknownDeck):
		return http.StatusNotFound
	case errors.Is(err, deck.ErrNoTrack), errors.Is(err, mixer.ErrUnknownBPM),
		errors.Is(err, deck.ErrLoadInProgress):
		return http.StatusConflict
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fe):
		if fe.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.As(err, &pe), errors.Is(err, mixer.ErrInvalidLayout):
		return http.StatusBadRequest
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Printf("API: %v", err)
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}
