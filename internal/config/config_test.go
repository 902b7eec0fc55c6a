package config

import (
	"os"
	"testing"
	"time"
)

var envVars = []string{
	"DECKMIX_PORT", "DECKMIX_LIBRARY_URL", "DECKMIX_LIBRARY_TOKEN",
	"DECKMIX_FETCH_TIMEOUT", "DECKMIX_CACHE_PATH", "DECKMIX_DECKS",
	"DECKMIX_OUTPUT", "DECKMIX_FRAME_RATE", "DECKMIX_METER_RATE",
	"DECKMIX_FFMPEG_FALLBACK",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LibraryURL != "http://localhost:5000" {
		t.Errorf("LibraryURL = %q, want default", cfg.LibraryURL)
	}
	if cfg.LibraryToken != "" {
		t.Errorf("LibraryToken = %q, want empty default", cfg.LibraryToken)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want 30s", cfg.FetchTimeout)
	}
	if cfg.CachePath != "deckmix-cache.db" {
		t.Errorf("CachePath = %q, want default", cfg.CachePath)
	}
	if cfg.Decks != 2 {
		t.Errorf("Decks = %d, want 2", cfg.Decks)
	}
	if cfg.Output != OutputStream {
		t.Errorf("Output = %q, want stream", cfg.Output)
	}
	if cfg.FrameRate != 60 || cfg.MeterRate != 20 {
		t.Errorf("FrameRate/MeterRate = %d/%d, want 60/20", cfg.FrameRate, cfg.MeterRate)
	}
	if !cfg.FFmpegFallback {
		t.Error("FFmpegFallback = false, want true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DECKMIX_PORT", "3000")
	t.Setenv("DECKMIX_LIBRARY_URL", "http://music:5000")
	t.Setenv("DECKMIX_LIBRARY_TOKEN", "secret")
	t.Setenv("DECKMIX_FETCH_TIMEOUT", "5")
	t.Setenv("DECKMIX_CACHE_PATH", "/tmp/cache.db")
	t.Setenv("DECKMIX_DECKS", "4")
	t.Setenv("DECKMIX_OUTPUT", "Device")
	t.Setenv("DECKMIX_FRAME_RATE", "30")
	t.Setenv("DECKMIX_METER_RATE", "10")
	t.Setenv("DECKMIX_FFMPEG_FALLBACK", "false")

	cfg := Load()

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.LibraryURL != "http://music:5000" || cfg.LibraryToken != "secret" {
		t.Errorf("Library = %q/%q", cfg.LibraryURL, cfg.LibraryToken)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %v, want 5s", cfg.FetchTimeout)
	}
	if cfg.CachePath != "/tmp/cache.db" {
		t.Errorf("CachePath = %q", cfg.CachePath)
	}
	if cfg.Decks != 4 {
		t.Errorf("Decks = %d, want 4", cfg.Decks)
	}
	if cfg.Output != OutputDevice {
		t.Errorf("Output = %q, want device", cfg.Output)
	}
	if cfg.FrameRate != 30 || cfg.MeterRate != 10 {
		t.Errorf("FrameRate/MeterRate = %d/%d", cfg.FrameRate, cfg.MeterRate)
	}
	if cfg.FFmpegFallback {
		t.Error("FFmpegFallback = true, want false")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DECKMIX_PORT", "not-a-number")
	t.Setenv("DECKMIX_DECKS", "3")
	t.Setenv("DECKMIX_OUTPUT", "speakers")
	t.Setenv("DECKMIX_FFMPEG_FALLBACK", "maybe")

	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Decks != 2 {
		t.Errorf("Decks = %d, want 2", cfg.Decks)
	}
	if cfg.Output != OutputStream {
		t.Errorf("Output = %q, want stream", cfg.Output)
	}
	if !cfg.FFmpegFallback {
		t.Error("unparseable bool should fall back to true")
	}
}

func TestEmptyCachePathDisablesCache(t *testing.T) {
	clearEnv(t)
	t.Setenv("DECKMIX_CACHE_PATH", "")
	if cfg := Load(); cfg.CachePath != "" {
		t.Errorf("CachePath = %q, want disabled", cfg.CachePath)
	}
}
