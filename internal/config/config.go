package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Output modes for the master mix.
const (
	OutputStream = "stream" // real-time pipeline feeding the MP3/WebRTC monitors
	OutputDevice = "device" // local sound card
	OutputNone   = "none"   // render only on demand
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Track library service
	LibraryURL   string
	LibraryToken string
	FetchTimeout time.Duration
	CachePath    string // sqlite metadata cache, empty disables

	// Mixer
	Decks          int    // 2 or 4
	Output         string // stream, device or none
	FrameRate      int    // deck time/VU callbacks per second
	MeterRate      int    // VU polls per second
	FFmpegFallback bool   // decode unknown containers through ffmpeg
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	cfg := Config{
		Port: envInt("DECKMIX_PORT", 8080),

		LibraryURL:   envStr("DECKMIX_LIBRARY_URL", "http://localhost:5000"),
		LibraryToken: envStr("DECKMIX_LIBRARY_TOKEN", ""),
		FetchTimeout: time.Duration(envInt("DECKMIX_FETCH_TIMEOUT", 30)) * time.Second,
		CachePath:    envLookup("DECKMIX_CACHE_PATH", "deckmix-cache.db"),

		Decks:          envInt("DECKMIX_DECKS", 2),
		Output:         strings.ToLower(envStr("DECKMIX_OUTPUT", OutputStream)),
		FrameRate:      envInt("DECKMIX_FRAME_RATE", 60),
		MeterRate:      envInt("DECKMIX_METER_RATE", 20),
		FFmpegFallback: envBool("DECKMIX_FFMPEG_FALLBACK", true),
	}
	if cfg.Decks != 4 {
		cfg.Decks = 2
	}
	switch cfg.Output {
	case OutputStream, OutputDevice, OutputNone:
	default:
		cfg.Output = OutputStream
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envLookup is envStr, except that a variable set to "" yields "".
func envLookup(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
