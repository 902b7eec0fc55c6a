package library

// Track is a library entry as returned by the track service.
type Track struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Artist   string   `json:"artist"`
	BPM      *float64 `json:"bpm"`
	Key      string   `json:"key"`
	Duration float64  `json:"duration"`
	FilePath string   `json:"file_path,omitempty"`
}

// Playlist is a named track list.
type Playlist struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	TrackCount int    `json:"trackCount"`
}

// NewPlaylist is the body of a playlist creation request.
type NewPlaylist struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type bpmResp struct {
	BPM   *float64 `json:"bpm"`
	Error string   `json:"error"`
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
