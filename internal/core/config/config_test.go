package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.MaxMemoryMB != 100 {
		t.Fatalf("MaxMemoryMB = %d, want 100", cfg.MaxMemoryMB)
	}
	if cfg.TileMaxEntries != 1000 {
		t.Fatalf("TileMaxEntries = %d, want 1000", cfg.TileMaxEntries)
	}
	if cfg.BatchSize != 5 {
		t.Fatalf("BatchSize = %d, want 5", cfg.BatchSize)
	}
	if cfg.StaleAfter != 30*time.Minute {
		t.Fatalf("StaleAfter = %v, want 30m", cfg.StaleAfter)
	}
	if cfg.TileExpiry != 24*time.Hour {
		t.Fatalf("TileExpiry = %v, want 24h", cfg.TileExpiry)
	}
	if cfg.ParseTimeout != 30*time.Second {
		t.Fatalf("ParseTimeout = %v, want 30s", cfg.ParseTimeout)
	}
	if cfg.Debounce != 100*time.Millisecond {
		t.Fatalf("Debounce = %v, want 100ms", cfg.Debounce)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CACHE_MAX_MEMORY_MB", "250")
	t.Setenv("LOAD_BATCH_SIZE", "8")
	t.Setenv("PARSE_TIMEOUT", "5s")
	t.Setenv("TILE_EXPIRY", "1h")

	cfg := FromEnv()

	if cfg.MaxMemoryMB != 250 {
		t.Fatalf("MaxMemoryMB = %d, want 250", cfg.MaxMemoryMB)
	}
	if got := cfg.MaxBytes(); got != 250<<20 {
		t.Fatalf("MaxBytes = %d, want %d", got, int64(250)<<20)
	}
	if cfg.BatchSize != 8 {
		t.Fatalf("BatchSize = %d, want 8", cfg.BatchSize)
	}
	if cfg.ParseTimeout != 5*time.Second {
		t.Fatalf("ParseTimeout = %v, want 5s", cfg.ParseTimeout)
	}
	if cfg.TileExpiry != time.Hour {
		t.Fatalf("TileExpiry = %v, want 1h", cfg.TileExpiry)
	}
}

func TestFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_MAX_MEMORY_MB", "lots")
	t.Setenv("PARSE_TIMEOUT", "soon")

	cfg := FromEnv()

	if cfg.MaxMemoryMB != 100 {
		t.Fatalf("MaxMemoryMB = %d, want default 100", cfg.MaxMemoryMB)
	}
	if cfg.ParseTimeout != 30*time.Second {
		t.Fatalf("ParseTimeout = %v, want default 30s", cfg.ParseTimeout)
	}
}
