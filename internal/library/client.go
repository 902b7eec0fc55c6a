// Package library talks to the remote track and playlist service.
package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client communicates with the track service REST API.
type Client struct {
	apiURL string
	token  string
	http   *http.Client
	cache  *Cache // optional
}

// NewClient creates a track service client.
func NewClient(apiURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		http:   &http.Client{Timeout: timeout},
	}
}

// WithCache makes the client read metadata through c and record BPM results in it.
func (c *Client) WithCache(cache *Cache) *Client {
	c.cache = cache
	return c
}

// Tracks lists every track.
func (c *Client) Tracks(ctx context.Context) ([]Track, error) {
	var tracks []Track
	if err := c.getJSON(ctx, "list tracks", "/api/tracks", &tracks); err != nil {
		return nil, err
	}
	c.remember(tracks...)
	return tracks, nil
}

// Track returns a track's metadata, from the cache when present.
func (c *Client) Track(ctx context.Context, id int64) (Track, error) {
	if c.cache != nil {
		if t, ok, err := c.cache.Track(id); err == nil && ok {
			return t, nil
		} else if err != nil {
			log.Printf("Track cache read %d: %v", id, err)
		}
	}
	var t Track
	if err := c.getJSON(ctx, "get track", fmt.Sprintf("/api/tracks/%d", id), &t); err != nil {
		return Track{}, err
	}
	c.remember(t)
	return t, nil
}

// TrackFile downloads the encoded audio of a track.
func (c *Client) TrackFile(ctx context.Context, id int64) ([]byte, error) {
	path := fmt.Sprintf("/api/tracks/%d/file", id)
	resp, err := c.do(ctx, "fetch track file", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "fetch track file", URL: c.apiURL + path, Err: err}
	}
	return data, nil
}

// AnalyzeBPM asks the service to detect a track's tempo.
func (c *Client) AnalyzeBPM(ctx context.Context, id int64) (float64, error) {
	path := fmt.Sprintf("/api/tracks/%d/analyze-bpm", id)
	var out bpmResp
	if err := c.sendJSON(ctx, "analyze bpm", http.MethodPost, path, nil, &out); err != nil {
		return 0, err
	}
	if out.BPM == nil || *out.BPM <= 0 {
		return 0, ErrNoBPM
	}
	if c.cache != nil {
		if err := c.cache.SetBPM(id, *out.BPM); err != nil {
			log.Printf("Track cache bpm %d: %v", id, err)
		}
	}
	return *out.BPM, nil
}

// UploadTrack posts an audio file as multipart form field "file".
func (c *Client) UploadTrack(ctx context.Context, filename string, r io.Reader) (Track, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Track{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return Track{}, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Track{}, fmt.Errorf("close multipart: %w", err)
	}

	resp, err := c.do(ctx, "upload track", http.MethodPost, "/api/tracks", &body, mw.FormDataContentType())
	if err != nil {
		return Track{}, err
	}
	defer resp.Body.Close()

	var t Track
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Track{}, fmt.Errorf("decode response: %w", err)
	}
	c.remember(t)
	return t, nil
}

// Playlists lists the user's playlists.
func (c *Client) Playlists(ctx context.Context) ([]Playlist, error) {
	var out []Playlist
	if err := c.getJSON(ctx, "list playlists", "/api/playlists", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaylistTracks lists the tracks of a playlist.
func (c *Client) PlaylistTracks(ctx context.Context, id int64) ([]Track, error) {
	var tracks []Track
	if err := c.getJSON(ctx, "list playlist tracks", fmt.Sprintf("/api/playlists/%d/tracks", id), &tracks); err != nil {
		return nil, err
	}
	c.remember(tracks...)
	return tracks, nil
}

// CreatePlaylist creates an empty playlist.
func (c *Client) CreatePlaylist(ctx context.Context, p NewPlaylist) (Playlist, error) {
	if p.Name == "" {
		return Playlist{}, errors.New("playlist name is required")
	}
	var out Playlist
	if err := c.sendJSON(ctx, "create playlist", http.MethodPost, "/api/playlists", p, &out); err != nil {
		return Playlist{}, err
	}
	return out, nil
}

// ScanMusic triggers a rescan of the service's music folders.
func (c *Client) ScanMusic(ctx context.Context) error {
	resp, err := c.do(ctx, "scan music", http.MethodGet, "/api/scan-music", nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) remember(tracks ...Track) {
	if c.cache == nil {
		return
	}
	for _, t := range tracks {
		if err := c.cache.PutTrack(t); err != nil {
			log.Printf("Track cache write %d: %v", t.ID, err)
		}
	}
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	return c.sendJSON(ctx, op, http.MethodGet, path, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, op, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends a request and turns transport failures and non-2xx statuses into
// FetchError. The caller closes the body of a successful response.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	u := c.apiURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, URL: u, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &FetchError{Op: op, URL: u, StatusCode: resp.StatusCode, Err: errors.New(errorMessage(resp))}
	}
	return resp, nil
}

func errorMessage(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e errorResp
	if json.Unmarshal(b, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
