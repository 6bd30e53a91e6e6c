package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Playback
	HighQuality    bool    // start with the 2048-point analyser window
	ReferenceOrder string  // end-of-track reference stems, comma separated
	MasterGain     float64 // master volume in base-2 units, 0 is unity
	LoadYield      time.Duration
	SeekThreshold  time.Duration
	DeviceBuffer   time.Duration

	// Spectral feed
	FrameRate int // spectrum frames per second

	// Library
	LibraryDir string
	Stems      string // JSON stem map, the env twin of the -stems flag

	// Separation service
	SeparateURL     string
	SeparateKey     string
	SeparateTimeout time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("STEMCAST_PORT", 8080),

		HighQuality:    envBool("STEMCAST_HIGH_QUALITY", true),
		ReferenceOrder: envStr("STEMCAST_REFERENCE", ""),
		MasterGain:     envFloat("STEMCAST_MASTER_GAIN", 0),
		LoadYield:      time.Duration(envInt("STEMCAST_LOAD_YIELD_MS", 150)) * time.Millisecond,
		SeekThreshold:  time.Duration(envInt("STEMCAST_SEEK_THRESHOLD_S", 60)) * time.Second,
		DeviceBuffer:   time.Duration(envInt("STEMCAST_DEVICE_BUFFER_MS", 100)) * time.Millisecond,

		FrameRate: envInt("STEMCAST_FRAME_RATE", 30),

		LibraryDir: envStr("STEMCAST_LIBRARY", "./stems"),
		Stems:      envStr("STEMCAST_STEMS", ""),

		SeparateURL:     envStr("STEMCAST_SEPARATE_URL", "http://localhost:8500"),
		SeparateKey:     envStr("STEMCAST_SEPARATE_KEY", ""),
		SeparateTimeout: time.Duration(envInt("STEMCAST_SEPARATE_TIMEOUT_S", 600)) * time.Second,

		LogLevel: envStr("STEMCAST_LOG_LEVEL", "info"),
	}
}

// FrameInterval converts the frame rate into the spectrum pump tick.
func (c Config) FrameInterval() time.Duration {
	rate := c.FrameRate
	if rate <= 0 {
		rate = 30
	}
	return time.Second / time.Duration(rate)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
