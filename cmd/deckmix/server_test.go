package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/satindergrewal/deckmix/internal/audio"
	"github.com/satindergrewal/deckmix/internal/deck"
	"github.com/satindergrewal/deckmix/internal/library"
	"github.com/satindergrewal/deckmix/internal/mixer"
)

func wavTrack(seconds float64) []byte {
	frames := int(seconds * audio.SampleRate)
	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = 4096
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

// fakeTrackService imitates the remote library API.
func fakeTrackService(t *testing.T) *httptest.Server {
	t.Helper()
	wav := wavTrack(2)
	mux := http.NewServeMux()
	tracks := map[string]string{
		"1": `{"id":1,"title":"One","artist":"A","bpm":128,"duration":2}`,
		"2": `{"id":2,"title":"Two","artist":"B","bpm":null,"duration":2}`,
	}
	mux.HandleFunc("GET /api/tracks", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "["+tracks["1"]+","+tracks["2"]+"]")
	})
	mux.HandleFunc("POST /api/tracks", func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("upload without file field: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":3,"title":"Uploaded"}`)
	})
	mux.HandleFunc("GET /api/tracks/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, ok := tracks[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"Track not found"}`)
			return
		}
		io.WriteString(w, body)
	})
	mux.HandleFunc("GET /api/tracks/{id}/file", func(w http.ResponseWriter, r *http.Request) {
		w.Write(wav)
	})
	mux.HandleFunc("POST /api/tracks/{id}/analyze-bpm", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"bpm":120}`)
	})
	mux.HandleFunc("GET /api/playlists", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"id":7,"name":"Warmup","trackCount":2}]`)
	})
	mux.HandleFunc("POST /api/playlists", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":8,"name":"Peak","trackCount":0}`)
	})
	mux.HandleFunc("GET /api/playlists/{id}/tracks", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "["+tracks["2"]+"]")
	})
	mux.HandleFunc("GET /api/scan-music", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) (*server, http.Handler) {
	t.Helper()
	svc := fakeTrackService(t)
	lib := library.NewClient(svc.URL, "", 5*time.Second)

	actx := audio.NewContext(audio.SampleRate)
	events := newEventHub()
	mix, err := mixer.New(actx, audio.NewDecoder(audio.SampleRate, false), lib, mixer.Options{
		Decks:     2,
		Deck:      deck.Options{FrameRate: 100, MeterRate: 50},
		Callbacks: events.callbacks,
	})
	if err != nil {
		t.Fatalf("mixer.New: %v", err)
	}
	t.Cleanup(mix.Close)

	s := &server{mixer: mix, lib: lib, events: events}
	return s, s.routes()
}

func call(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			// Some endpoints return arrays; callers that need them decode themselves.
			out = map[string]any{"raw": rec.Body.String()}
		}
	}
	return rec.Code, out
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)
	code, out := call(t, h, http.MethodGet, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	m := out["mixer"].(map[string]any)
	if m["layout"].(float64) != 2 || len(m["decks"].([]any)) != 2 {
		t.Errorf("mixer = %v", m)
	}
}

func TestDeckTransport(t *testing.T) {
	_, h := newTestServer(t)

	code, out := call(t, h, http.MethodPost, "/api/decks/A/load", `{"track_id":1}`)
	if code != http.StatusOK {
		t.Fatalf("load = %d %v", code, out)
	}
	if out["state"] != "loaded" || out["track"].(map[string]any)["title"] != "One" {
		t.Errorf("after load = %v", out)
	}

	steps := []struct {
		path, body string
		state      string
	}{
		{"/api/decks/A/play", "", "playing"},
		{"/api/decks/A/seek", `{"seconds":1}`, "playing"},
		{"/api/decks/A/pause", "", "paused"},
		{"/api/decks/A/toggle", "", "playing"},
		{"/api/decks/A/stop", "", "loaded"},
		{"/api/decks/A/eject", "", "empty"},
	}
	for _, s := range steps {
		code, out := call(t, h, http.MethodPost, s.path, s.body)
		if code != http.StatusOK || out["state"] != s.state {
			t.Errorf("%s: %d state=%v, want %s", s.path, code, out["state"], s.state)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	_, h := newTestServer(t)
	tests := []struct {
		path, body string
		want       int
	}{
		{"/api/decks/Z/load", `{"track_id":1}`, http.StatusNotFound},
		{"/api/decks/A/load", `{"track_id":99}`, http.StatusNotFound},
		{"/api/decks/A/load", `not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code, _ := call(t, h, http.MethodPost, tt.path, tt.body); code != tt.want {
			t.Errorf("%s %s: %d, want %d", tt.path, tt.body, code, tt.want)
		}
	}
}

func TestDeckControls(t *testing.T) {
	s, h := newTestServer(t)
	call(t, h, http.MethodPost, "/api/decks/B/load", `{"track_id":2}`)

	tests := []struct {
		path, body string
		want       int
	}{
		{"/api/decks/B/volume", `{"value":0.5}`, http.StatusOK},
		{"/api/decks/B/seek", `{}`, http.StatusBadRequest},
		{"/api/decks/B/rate", `{"rate":1.1}`, http.StatusOK},
		{"/api/decks/B/rate", `{"rate":0}`, http.StatusBadRequest},
		{"/api/decks/B/eq", `{"band":"high","db":-12}`, http.StatusOK},
		{"/api/decks/B/eq", `{"band":"sub","db":3}`, http.StatusBadRequest},
		{"/api/decks/B/filter", `{"value":50}`, http.StatusOK},
		{"/api/decks/B/effects/delay", `{"enabled":true}`, http.StatusOK},
		{"/api/decks/B/effects/flanger", `{"enabled":true}`, http.StatusBadRequest},
		{"/api/decks/B/effects/delay/params", `{"param":"time","value":0.5}`, http.StatusOK},
		{"/api/decks/B/effects/delay/params", `{"param":"depth","value":1}`, http.StatusBadRequest},
		{"/api/decks/B/cue", `{"action":"set"}`, http.StatusOK},
		{"/api/decks/B/cue", `{"action":"hold"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code, out := call(t, h, http.MethodPost, tt.path, tt.body); code != tt.want {
			t.Errorf("%s %s: %d %v, want %d", tt.path, tt.body, code, out, tt.want)
		}
	}

	d, _ := s.mixer.Deck("B")
	if v, _ := d.Effects().Parameter("highEQ", "gain"); v != -12 {
		t.Errorf("highEQ gain = %v", v)
	}
	if !d.Effects().Enabled("delay") {
		t.Error("delay not enabled")
	}
	if d.PlaybackRate() != 1.1 {
		t.Errorf("rate = %v", d.PlaybackRate())
	}
	if tr, _ := d.Track(); tr.BPM == nil || *tr.BPM != 120 {
		t.Errorf("analyzed BPM = %v", tr.BPM)
	}
}

func TestWaveformAndSpectrum(t *testing.T) {
	_, h := newTestServer(t)
	if code, _ := call(t, h, http.MethodGet, "/api/decks/A/waveform", ""); code != http.StatusConflict {
		t.Errorf("empty waveform = %d, want 409", code)
	}
	call(t, h, http.MethodPost, "/api/decks/A/load", `{"track_id":1}`)

	code, out := call(t, h, http.MethodGet, "/api/decks/A/waveform", "")
	if code != http.StatusOK || len(out["points"].([]any)) != audio.OverviewPoints {
		t.Errorf("waveform = %d, %d points", code, len(out["points"].([]any)))
	}
	code, out = call(t, h, http.MethodGet, "/api/decks/A/spectrum", "")
	if code != http.StatusOK || len(out["bins"].([]any)) != 1024 {
		t.Errorf("spectrum = %d", code)
	}
}

func TestMixerEndpoints(t *testing.T) {
	_, h := newTestServer(t)

	code, out := call(t, h, http.MethodPost, "/api/crossfader", `{"value":0}`)
	if code != http.StatusOK || math.Abs(out["left"].(float64)-math.Sqrt2/2) > 1e-9 {
		t.Errorf("crossfader = %d %v", code, out)
	}

	if code, _ := call(t, h, http.MethodPost, "/api/layout", `{"decks":3}`); code != http.StatusBadRequest {
		t.Errorf("layout 3 = %d", code)
	}
	code, out = call(t, h, http.MethodPost, "/api/layout", `{"decks":4}`)
	if code != http.StatusOK || len(out["decks"].([]any)) != 4 {
		t.Errorf("layout 4 = %d %v", code, out)
	}

	if code, _ := call(t, h, http.MethodPost, "/api/sync", `{"master":"A","slave":"B"}`); code != http.StatusConflict {
		t.Errorf("sync empty decks = %d, want 409", code)
	}
	call(t, h, http.MethodPost, "/api/decks/A/load", `{"track_id":1}`)
	call(t, h, http.MethodPost, "/api/decks/B/load", `{"track_id":2}`)
	code, out = call(t, h, http.MethodPost, "/api/sync", `{"master":"A","slave":"B"}`)
	if code != http.StatusOK || math.Abs(out["rate"].(float64)-128.0/120.0) > 1e-9 {
		t.Errorf("sync = %d %v", code, out)
	}

	code, out = call(t, h, http.MethodPost, "/api/master", `{"value":2}`)
	if code != http.StatusOK || out["value"].(float64) != 1 {
		t.Errorf("master = %d %v", code, out)
	}
}

func TestLibraryProxy(t *testing.T) {
	_, h := newTestServer(t)

	for _, path := range []string{"/api/library/tracks", "/api/library/playlists", "/api/library/playlists/7/tracks"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var items []map[string]any
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &items) != nil || len(items) == 0 {
			t.Errorf("%s: %d %s", path, rec.Code, rec.Body.String())
		}
	}
	if code, _ := call(t, h, http.MethodGet, "/api/library/playlists/x/tracks", ""); code != http.StatusBadRequest {
		t.Errorf("bad playlist id = %d", code)
	}
	if code, _ := call(t, h, http.MethodPost, "/api/library/scan", ""); code != http.StatusOK {
		t.Errorf("scan = %d", code)
	}
	if code, out := call(t, h, http.MethodPost, "/api/library/playlists", `{"name":"Peak"}`); code != http.StatusCreated || out["name"] != "Peak" {
		t.Errorf("create playlist = %d %v", code, out)
	}
	if code, _ := call(t, h, http.MethodPost, "/api/library/playlists", `{}`); code != http.StatusBadRequest {
		t.Errorf("create playlist without name = %d", code)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "new.wav")
	fw.Write(wavTrack(0.1))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/library/tracks", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), "Uploaded") {
		t.Errorf("upload = %d %s", rec.Code, rec.Body.String())
	}
}

func TestEventStream(t *testing.T) {
	s, h := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	d, _ := s.mixer.Deck("A")
	if err := d.Load(context.Background(), deck.Descriptor{ID: 1}); err != nil {
		t.Fatal(err)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("event stream closed")
			}
			if line == "event: load" {
				return
			}
		case <-timeout:
			t.Fatal("Timeout waiting for load event")
		}
	}
}
