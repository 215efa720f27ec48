package config

import (
	"testing"
	"time"
)

func TestLoadHubDefaults(t *testing.T) {
	cfg, err := LoadHub()
	if err != nil {
		t.Fatalf("LoadHub() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("HistoryLimit = %d, want 100", cfg.HistoryLimit)
	}
	if cfg.HistoryTTL != 24*time.Hour {
		t.Fatalf("HistoryTTL = %v, want 24h", cfg.HistoryTTL)
	}
	if len(cfg.AllowClients) != 0 {
		t.Fatalf("AllowClients = %v, want empty", cfg.AllowClients)
	}
}

func TestLoadHubParseTypes(t *testing.T) {
	t.Setenv("ALLOW_CLIENTS", "alice,bob")
	t.Setenv("HISTORY_TTL", "90m")
	t.Setenv("REDIS_DB", "3")

	cfg, err := LoadHub()
	if err != nil {
		t.Fatalf("LoadHub() error = %v", err)
	}
	if len(cfg.AllowClients) != 2 || cfg.AllowClients[1] != "bob" {
		t.Fatalf("AllowClients = %v", cfg.AllowClients)
	}
	if cfg.HistoryTTL != 90*time.Minute {
		t.Fatalf("HistoryTTL = %v, want 90m", cfg.HistoryTTL)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("RedisDB = %d, want 3", cfg.RedisDB)
	}
}

func TestLoadHubRejectsBadDuration(t *testing.T) {
	t.Setenv("HISTORY_TTL", "soon")

	if _, err := LoadHub(); err == nil {
		t.Fatal("LoadHub() expected error, got nil")
	}
}
