package library

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Cache keeps track metadata and BPM results in a local SQLite file.
// Writes are last-write-wins; it is a read-mostly convenience for the UI.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the cache at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache tables: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
    CREATE TABLE IF NOT EXISTS tracks (
        id INTEGER PRIMARY KEY,
        title TEXT NOT NULL,
        artist TEXT NOT NULL,
        bpm REAL,
        key TEXT NOT NULL DEFAULT '',
        duration REAL NOT NULL DEFAULT 0,
        file_path TEXT NOT NULL DEFAULT ''
    );
    `)
	return err
}

// PutTrack stores t. A missing BPM never clears one recorded earlier.
func (c *Cache) PutTrack(t Track) error {
	_, err := c.db.Exec(`
        INSERT INTO tracks (id, title, artist, bpm, key, duration, file_path)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            artist = excluded.artist,
            bpm = COALESCE(excluded.bpm, tracks.bpm),
            key = excluded.key,
            duration = excluded.duration,
            file_path = excluded.file_path`,
		t.ID, t.Title, t.Artist, t.BPM, t.Key, t.Duration, t.FilePath)
	if err != nil {
		return fmt.Errorf("put track %d: %w", t.ID, err)
	}
	return nil
}

// SetBPM records a detected tempo for an already cached track.
func (c *Cache) SetBPM(id int64, bpm float64) error {
	if _, err := c.db.Exec("UPDATE tracks SET bpm = ? WHERE id = ?", bpm, id); err != nil {
		return fmt.Errorf("set bpm %d: %w", id, err)
	}
	return nil
}

// Track looks a track up by id.
func (c *Cache) Track(id int64) (Track, bool, error) {
	row := c.db.QueryRow("SELECT id, title, artist, bpm, key, duration, file_path FROM tracks WHERE id = ?", id)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, false, nil
	}
	if err != nil {
		return Track{}, false, fmt.Errorf("get track %d: %w", id, err)
	}
	return t, true, nil
}

// Tracks returns every cached track ordered by id.
func (c *Cache) Tracks() ([]Track, error) {
	rows, err := c.db.Query("SELECT id, title, artist, bpm, key, duration, file_path FROM tracks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var out []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(s scanner) (Track, error) {
	var (
		t   Track
		bpm sql.NullFloat64
	)
	if err := s.Scan(&t.ID, &t.Title, &t.Artist, &bpm, &t.Key, &t.Duration, &t.FilePath); err != nil {
		return Track{}, err
	}
	if bpm.Valid {
		v := bpm.Float64
		t.BPM = &v
	}
	return t, nil
}
