package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable of the cache and loader. Defaults match the
// documented operating values of the dashboard deployment.
type Config struct {
	Addr     string
	LogLevel string

	// Track cache
	MaxMemoryMB   int
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// Tile cache
	TileMaxMemoryMB int
	TileMaxEntries  int
	TileExpiry      time.Duration
	TileURLTemplate string
	TileAPIKey      string
	PreloadRadius   int
	PreloadBatch    int
	PreloadDelay    time.Duration

	// Parse pipeline
	ParseTimeout time.Duration
	ParseWorkers int
	ParseQueue   int

	// Priority loader
	BatchSize      int
	Debounce       time.Duration
	TrackBaseURL   string
	TrackIndexPath string
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("TRAILCACHE_ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		MaxMemoryMB:   getint("CACHE_MAX_MEMORY_MB", 100),
		StaleAfter:    getduration("STALE_AFTER", 30*time.Minute),
		SweepInterval: getduration("SWEEP_INTERVAL", 30*time.Second),

		TileMaxMemoryMB: getint("TILE_MAX_MEMORY_MB", 100),
		TileMaxEntries:  getint("TILE_MAX_ENTRIES", 1000),
		TileExpiry:      getduration("TILE_EXPIRY", 24*time.Hour),
		TileURLTemplate: getenv("TILE_URL_TEMPLATE", "https://tile.example.com/{z}/{x}/{y}.png"),
		TileAPIKey:      getenv("TILE_API_KEY", ""),
		PreloadRadius:   getint("PRELOAD_RADIUS", 1),
		PreloadBatch:    getint("PRELOAD_BATCH", 5),
		PreloadDelay:    getduration("PRELOAD_DELAY", 100*time.Millisecond),

		ParseTimeout: getduration("PARSE_TIMEOUT", 30*time.Second),
		ParseWorkers: getint("PARSE_WORKERS", 4),
		ParseQueue:   getint("PARSE_QUEUE", 64),

		BatchSize:      getint("LOAD_BATCH_SIZE", 5),
		Debounce:       getduration("DEBOUNCE", 100*time.Millisecond),
		TrackBaseURL:   getenv("TRACK_BASE_URL", "http://localhost:9000"),
		TrackIndexPath: getenv("TRACK_INDEX_PATH", ""),
	}
}

// MaxBytes converts the configured megabyte budget for the track cache.
func (c Config) MaxBytes() int64 { return int64(c.MaxMemoryMB) << 20 }

// TileMaxBytes converts the configured megabyte budget for the tile cache.
func (c Config) TileMaxBytes() int64 { return int64(c.TileMaxMemoryMB) << 20 }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
